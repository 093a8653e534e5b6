// Package retention is the retention poller (C5): every
// retentionIntervalSeconds it asks the external proving-period index for
// each active SP's cumulative fault/success counts, estimates periods
// overdue since the index's last snapshot, and turns the difference from
// an in-memory baseline into Prometheus counter increments — never a
// decrement, and never a double-count across restarts within one process
// lifetime.
package retention

import "context"

// ProofSet is one proving-period window reported by the external index
// for a single SP.
type ProofSet struct {
	MaxProvingPeriod int64
	NextDeadline     int64
}

// ProviderIndexStats is one SP's cumulative proving-period counts as
// reported by the external index, per spec.md §6's
// "providers[{address, totalFaultedPeriods, totalProvingPeriods,
// proofSets[{maxProvingPeriod, nextDeadline}]}]" shape.
type ProviderIndexStats struct {
	Address             string
	TotalFaultedPeriods int64
	TotalProvingPeriods int64
	ProofSets           []ProofSet
}

// Index is the external proving-period index (a GraphQL-ish query
// service in production); named here as a narrow interface so the
// poller's reconciliation logic is testable without a live index.
type Index interface {
	// BlockNumber returns the index's current snapshot marker
	// ("_meta.block.number").
	BlockNumber(ctx context.Context) (int64, error)

	// ProviderStats queries stats for addresses (at most maxBatch at
	// a time; the poller enforces the batching, not the Index
	// implementation) as of blockNumber.
	ProviderStats(ctx context.Context, addresses []string, blockNumber int64) ([]ProviderIndexStats, error)
}
