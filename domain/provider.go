package domain

import "time"

// StorageProvider is one registered SP as synced from the chain registry.
type StorageProvider struct {
	Address    string
	ProviderID int64
	ServiceURL string
	Active     bool
	Approved   bool
	Metadata   map[string]string
	UpdatedAt  time.Time
}

// MergeProviders deduplicates a batch of sync results by address: an
// active record wins over an inactive one; among two records with the
// same activity, the highest ProviderID wins. onConflict, if non-nil, is
// called once per resolved duplicate so the caller can log a structured
// warning (the sync loop supplies a logrus call; tests supply a recorder).
func MergeProviders(providers []StorageProvider, onConflict func(kept, dropped StorageProvider)) []StorageProvider {
	byAddress := make(map[string]StorageProvider, len(providers))
	for _, p := range providers {
		existing, ok := byAddress[p.Address]
		if !ok {
			byAddress[p.Address] = p
			continue
		}
		winner, loser := resolveProviderConflict(existing, p)
		byAddress[p.Address] = winner
		if onConflict != nil {
			onConflict(winner, loser)
		}
	}
	out := make([]StorageProvider, 0, len(byAddress))
	for _, p := range byAddress {
		out = append(out, p)
	}
	return out
}

func resolveProviderConflict(a, b StorageProvider) (winner, loser StorageProvider) {
	if a.Active != b.Active {
		if a.Active {
			return a, b
		}
		return b, a
	}
	if a.ProviderID >= b.ProviderID {
		return a, b
	}
	return b, a
}

// JobFamily names one of the recurring job kinds the planner schedules.
type JobFamily string

const (
	JobFamilyDeal          JobFamily = "deal"
	JobFamilyRetrieval     JobFamily = "retrieval"
	JobFamilyRetention     JobFamily = "retention"
	JobFamilyMetricsRollup JobFamily = "metricsRollup"
)

// JobScheduleState is the planner's per-(family, SP) reconciliation row.
type JobScheduleState struct {
	Name      string
	Key       string
	Cron      string
	NextRunAt time.Time
	Payload   map[string]string
}

// WorkItemState is the lifecycle state of one WorkQueue row.
type WorkItemState string

const (
	WorkItemQueued    WorkItemState = "QUEUED"
	WorkItemActive    WorkItemState = "ACTIVE"
	WorkItemCompleted WorkItemState = "COMPLETED"
	WorkItemFailed    WorkItemState = "FAILED"
	WorkItemRetry     WorkItemState = "RETRY"
)

// IsTerminal reports whether the work item will never be picked up again.
func (s WorkItemState) IsTerminal() bool {
	return s == WorkItemCompleted || s == WorkItemFailed
}

// IsNonTerminal is the complement used by the singleton-key invariant: at
// most one WorkItem per (queue, singletonKey) may be non-terminal.
func (s WorkItemState) IsNonTerminal() bool {
	return !s.IsTerminal()
}

// ProviderCounterBaseline is C5's in-memory last-observed cumulative
// (faulted, success) pair for one SP address.
type ProviderCounterBaseline struct {
	Faulted int64
	Success int64
}
