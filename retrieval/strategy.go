// Package retrieval is the retrieval-strategy registry (C4): a set of
// named strategies, each an explicit capability set — name, priority, an
// applicability predicate, a URL builder, optional preprocessing,
// optional validation, a retry policy and expected-metric bounds —
// generalized from the teacher's Executor/Registry duck-typed dispatch
// shape (executor/executor.go) into the fixed set of capabilities
// spec.md §4.4/§9 names explicitly, rather than a single polymorphic
// Execute method.
package retrieval

import (
	"context"
	"io"
	"sort"
	"time"
)

// StrategyContext is everything a strategy needs to decide whether it
// applies and how to build its request.
type StrategyContext struct {
	ServiceURL                string
	PieceCID                  string
	RootCID                   string
	FileSize                  int64
	IPFSBlockFetchConcurrency int
}

// RetryConfig is a strategy's own retry policy; the zero value (via
// DefaultRetryConfig) means "one attempt, no delay" per spec.md §4.4.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryConfig is the spec's default retry policy for a strategy
// that declares none of its own.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 1, Delay: 0}
}

// ExpectedMetrics are optional bounds a strategy publishes so callers can
// flag results that complete but look anomalous (e.g. unexpectedly slow).
// Zero values mean "no bound declared".
type ExpectedMetrics struct {
	MaxLatency      time.Duration
	MinThroughputBps float64
}

// ValidationOutcome is the result of a strategy's optional Validate step.
type ValidationOutcome struct {
	IsValid    bool
	Method     string
	Details    string
	Comparison string
	BytesRead  int64
	TTFB       time.Duration
}

// Strategy is one named retrieval path. CanHandle and ConstructURL are
// required; Preprocess and Validate are optional (nil means "skip this
// step"); RetryConfig and ExpectedMetrics default via the helpers above
// when left zero. Preprocess runs on the raw response body before
// Validate sees it. Expected is advisory only: no caller currently flags
// attempts that fall outside it, it exists so a strategy can publish the
// bounds a future anomaly check would compare against.
type Strategy struct {
	StrategyName string
	StrategyPriority int

	CanHandle    func(ctx StrategyContext) bool
	ConstructURL func(ctx StrategyContext) string

	Preprocess func(data []byte) ([]byte, error)
	Validate   func(ctx context.Context, body io.Reader, sctx StrategyContext) (ValidationOutcome, error)

	Retry           RetryConfig
	Expected        ExpectedMetrics
	UseHTTP2        bool
}

func (s Strategy) Name() string     { return s.StrategyName }
func (s Strategy) Priority() int    { return s.StrategyPriority }

func (s Strategy) RetryConfigOrDefault() RetryConfig {
	if s.Retry.Attempts <= 0 {
		return DefaultRetryConfig()
	}
	return s.Retry
}

// Registry holds the priority-ordered set of registered strategies.
type Registry struct {
	strategies []Strategy
}

// NewRegistry builds a Registry from strategies, sorted ascending by
// priority so Applicable always returns them in execution-priority order.
func NewRegistry(strategies ...Strategy) *Registry {
	sorted := append([]Strategy{}, strategies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StrategyPriority < sorted[j].StrategyPriority
	})
	return &Registry{strategies: sorted}
}

// Applicable returns every registered strategy whose CanHandle predicate
// accepts sctx, priority-ascending.
func (r *Registry) Applicable(sctx StrategyContext) []Strategy {
	var out []Strategy
	for _, s := range r.strategies {
		if s.CanHandle(sctx) {
			out = append(out, s)
		}
	}
	return out
}
