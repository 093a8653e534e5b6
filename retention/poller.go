package retention

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/metrics"
)

// maxBatch bounds how many SP addresses go into one index query, per
// spec.md §4.5/§6 ("batches of ≤ 50").
const maxBatch = 50

// maxSafeIncrement is the largest single Prometheus counter increment
// the poller applies in one call; a delta larger than this (pathological,
// but named explicitly in spec.md §4.5) is applied in chunks instead.
const maxSafeIncrement = int64(1) << 53

// ProviderLister is the read-only active-SP view the poller needs;
// satisfied by chaingw.Registry or a fake in tests.
type ProviderLister interface {
	ListActive(ctx context.Context, approvedOnly bool) ([]domain.StorageProvider, error)
}

// Poller runs one retention reconciliation cycle at a time. It owns
// baselines exclusively — nothing else in the process may mutate them —
// so it requires no locking beyond what BaselineStore already provides
// for the rare concurrent read.
type Poller struct {
	index     Index
	providers ProviderLister
	baselines *BaselineStore
	metrics   *metrics.Recorder
	log       *logrus.Entry
}

// New builds a Poller.
func New(index Index, providers ProviderLister, baselines *BaselineStore, m *metrics.Recorder, log *logrus.Entry) *Poller {
	return &Poller{index: index, providers: providers, baselines: baselines, metrics: m, log: log}
}

// Run executes one full retention cycle: steps 1-6 of spec.md §4.5.
func (p *Poller) Run(ctx context.Context) error {
	blockNumber, err := p.index.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("retention: fetch block number: %w", err)
	}

	providers, err := p.providers.ListActive(ctx, false)
	if err != nil {
		return fmt.Errorf("retention: list active providers: %w", err)
	}

	byAddress := make(map[string]domain.StorageProvider, len(providers))
	seen := make(map[string]bool, len(providers))
	for _, sp := range providers {
		byAddress[sp.Address] = sp
		seen[sp.Address] = true
	}

	var processingErr error

	for start := 0; start < len(providers); start += maxBatch {
		end := start + maxBatch
		if end > len(providers) {
			end = len(providers)
		}
		batch := providers[start:end]

		addrs := make([]string, len(batch))
		for i, sp := range batch {
			addrs[i] = sp.Address
		}

		stats, err := p.index.ProviderStats(ctx, addrs, blockNumber)
		if err != nil {
			p.log.WithError(err).WithField("batch_size", len(addrs)).Warn("retention: index query failed, skipping batch")
			processingErr = fmt.Errorf("retention: index query failed: %w", err)
			continue
		}

		for _, st := range stats {
			sp, ok := byAddress[st.Address]
			if !ok {
				continue
			}
			p.applyStats(sp, st, blockNumber)
		}
	}

	if processingErr != nil {
		p.log.WithError(processingErr).Warn("retention: cycle had processing errors, skipping baseline reconciliation")
		return processingErr
	}

	p.reconcileRemovedProviders(seen)
	return nil
}

// applyStats computes estimatedOverdue/estimatedFaulted/estimatedSuccess
// for one SP and folds the delta from its baseline into the Prometheus
// counters, per spec.md §4.5 steps 3-5.
func (p *Poller) applyStats(sp domain.StorageProvider, st ProviderIndexStats, blockNumber int64) {
	var estimatedOverdue int64
	for _, ps := range st.ProofSets {
		if ps.MaxProvingPeriod <= 0 {
			continue
		}
		overdue := (blockNumber - (ps.NextDeadline + 1)) / ps.MaxProvingPeriod
		if overdue > 0 {
			estimatedOverdue += overdue
		}
	}

	estimatedFaulted := st.TotalFaultedPeriods + estimatedOverdue
	estimatedSuccess := st.TotalProvingPeriods + estimatedOverdue - estimatedFaulted

	providerIDLabel := strconv.FormatInt(sp.ProviderID, 10)
	approvedLabel := strconv.FormatBool(sp.Approved)

	prior, hasBaseline := p.baselines.get(sp.Address)
	current := baselineEntry{
		ProviderCounterBaseline: domain.ProviderCounterBaseline{Faulted: estimatedFaulted, Success: estimatedSuccess},
		ProviderID:              providerIDLabel,
		Approved:                approvedLabel,
	}

	if !hasBaseline {
		// Create both series at zero so a later removal has a series to
		// delete even if no increment ever happened.
		p.metrics.RetentionFaulted.WithLabelValues(providerIDLabel, approvedLabel)
		p.metrics.RetentionSuccess.WithLabelValues(providerIDLabel, approvedLabel)
		p.baselines.set(sp.Address, current)
		return
	}

	faultedDelta := estimatedFaulted - prior.Faulted
	successDelta := estimatedSuccess - prior.Success

	if faultedDelta < 0 || successDelta < 0 {
		// chain reorg or index correction: reset, skip this increment
		p.log.WithFields(logrus.Fields{
			"address":      sp.Address,
			"old_faulted":  prior.Faulted,
			"new_faulted":  estimatedFaulted,
			"old_success":  prior.Success,
			"new_success":  estimatedSuccess,
		}).Warn("retention: negative counter delta, resetting baseline")
		p.baselines.set(sp.Address, current)
		return
	}

	addChunked(p.metrics.RetentionFaulted.WithLabelValues(providerIDLabel, approvedLabel), faultedDelta)
	addChunked(p.metrics.RetentionSuccess.WithLabelValues(providerIDLabel, approvedLabel), successDelta)
	p.baselines.set(sp.Address, current)
}

// reconcileRemovedProviders drops baselines for addresses absent from
// this cycle's active-SP set, but only once their Prometheus series have
// actually been removed — a failed removal keeps the baseline so a
// returning SP never double-counts.
func (p *Poller) reconcileRemovedProviders(seen map[string]bool) {
	for _, addr := range p.baselines.addresses() {
		if seen[addr] {
			continue
		}
		entry, ok := p.baselines.get(addr)
		if !ok {
			continue
		}
		if p.metrics.RemoveProvider(entry.ProviderID, entry.Approved) {
			p.baselines.delete(addr)
		} else {
			p.log.WithField("provider_id", entry.ProviderID).Warn("retention: counter removal failed, retaining baseline")
		}
	}
}

// addChunked increments counter by delta, splitting into
// maxSafeIncrement-sized calls when delta exceeds it.
func addChunked(counter prometheus.Counter, delta int64) {
	for delta > 0 {
		chunk := delta
		if chunk > maxSafeIncrement {
			chunk = maxSafeIncrement
		}
		counter.Add(float64(chunk))
		delta -= chunk
	}
}
