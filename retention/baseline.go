package retention

import (
	"sync"

	"github.com/evalgo/spprobe/domain"
)

// baselineEntry is one SP's last-applied cumulative counts plus the
// label values it was last recorded under, so reconciliation can remove
// the right Prometheus series even after the SP cache has already
// dropped the address.
type baselineEntry struct {
	domain.ProviderCounterBaseline
	ProviderID string
	Approved   string
}

// BaselineStore is C5's single-threaded-owned in-memory baseline map.
// Only the poller's own goroutine mutates it, but the mutex guards
// against concurrent reads from, e.g., a diagnostics endpoint.
type BaselineStore struct {
	mu        sync.Mutex
	baselines map[string]baselineEntry
}

// NewBaselineStore returns an empty store.
func NewBaselineStore() *BaselineStore {
	return &BaselineStore{baselines: make(map[string]baselineEntry)}
}

func (s *BaselineStore) get(address string) (baselineEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.baselines[address]
	return e, ok
}

func (s *BaselineStore) set(address string, e baselineEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[address] = e
}

func (s *BaselineStore) delete(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.baselines, address)
}

// addresses returns every address currently tracked, for the
// post-cycle reconciliation pass.
func (s *BaselineStore) addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.baselines))
	for addr := range s.baselines {
		out = append(out, addr)
	}
	return out
}
