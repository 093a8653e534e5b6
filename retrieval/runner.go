package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/probetransport"
)

// ErrAborted is the error message recorded on a Retrieval row whose retry
// loop was cut short by context cancellation rather than by exhausting its
// attempt budget or failing validation.
const ErrAborted = "ABORTED"

// attempt is one try of one strategy.
type attempt struct {
	num       int
	latency   time.Duration
	outcome   ValidationOutcome
	respCode  int
	bytesRead int64
	ttfb      time.Duration
	err       error
}

func (a *attempt) succeeded() bool {
	return a.err == nil && a.outcome.IsValid
}

// Run executes every strategy applicable to sctx concurrently. Each
// strategy retries independently per its own RetryConfigOrDefault, and
// contributes exactly one domain.Retrieval row recording its best
// attempt (or its last attempt, if none succeeded).
func Run(ctx context.Context, client *probetransport.Client, registry *Registry, sctx StrategyContext, dealID uuid.UUID) []*domain.Retrieval {
	strategies := registry.Applicable(sctx)
	results := make([]*domain.Retrieval, len(strategies))

	var wg sync.WaitGroup
	for i, s := range strategies {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runStrategy(ctx, client, s, sctx, dealID)
		}()
	}
	wg.Wait()
	return results
}

// runStrategy drives one strategy's retry loop to completion and converts
// its outcome into a persisted Retrieval row.
func runStrategy(ctx context.Context, client *probetransport.Client, s Strategy, sctx StrategyContext, dealID uuid.UUID) *domain.Retrieval {
	retrieval := domain.NewRetrieval(dealID, s.Name(), s.ConstructURL(sctx))
	retryCfg := s.RetryConfigOrDefault()

	var best *attempt
	for n := 1; n <= retryCfg.Attempts; n++ {
		select {
		case <-ctx.Done():
			retrieval.RetryCount = n - 1
			_ = retrieval.Advance(domain.RetrievalFailed, ErrAborted)
			return retrieval
		default:
		}

		a := attemptOnce(ctx, client, s, sctx, n)
		switch {
		case best == nil:
			best = a
		case a.succeeded() && !best.succeeded():
			best = a
		case a.succeeded() && best.succeeded() && a.latency < best.latency:
			best = a
		case !a.succeeded() && !best.succeeded():
			// neither this attempt nor the recorded one succeeded; keep the
			// most recent failure so RetryCount reflects attempts actually made
			best = a
		}
		if a.succeeded() {
			break
		}

		if n < retryCfg.Attempts && retryCfg.Delay > 0 {
			select {
			case <-ctx.Done():
				retrieval.RetryCount = n
				_ = retrieval.Advance(domain.RetrievalFailed, ErrAborted)
				return retrieval
			case <-time.After(retryCfg.Delay):
			}
		}
	}

	retrieval.RetryCount = best.num - 1
	retrieval.ResponseCode = best.respCode
	retrieval.LatencyMs = best.latency.Milliseconds()
	retrieval.TTFBMs = best.ttfb.Milliseconds()
	retrieval.BytesRetrieved = best.bytesRead
	if best.latency > 0 {
		retrieval.ThroughputBps = float64(best.bytesRead) / best.latency.Seconds()
	}
	retrieval.ValidationMethod = best.outcome.Method

	if best.succeeded() {
		_ = retrieval.Advance(domain.RetrievalSuccess, "")
		return retrieval
	}

	retrieval.ValidationDetails = best.outcome.Details
	errMsg := best.outcome.Details
	if best.err != nil {
		errMsg = best.err.Error()
	}
	if errMsg == "" {
		errMsg = "validation failed"
	}
	_ = retrieval.Advance(domain.RetrievalFailed, errMsg)
	return retrieval
}

// attemptOnce issues one fetch-and-validate attempt for strategy s.
func attemptOnce(ctx context.Context, client *probetransport.Client, s Strategy, sctx StrategyContext, n int) *attempt {
	url := s.ConstructURL(sctx)
	start := time.Now()

	result, err := client.Get(ctx, url, nil, s.UseHTTP2)
	if err != nil {
		respCode := 0
		if result != nil {
			respCode = result.StatusCode
		}
		return &attempt{num: n, latency: time.Since(start), err: err, respCode: respCode}
	}
	defer result.Body.Close()

	var body io.Reader = result.Body
	if s.Preprocess != nil {
		raw, readErr := io.ReadAll(result.Body)
		if readErr != nil {
			return &attempt{num: n, latency: time.Since(start), err: fmt.Errorf("retrieval: read body for preprocess: %w", readErr), respCode: result.StatusCode, ttfb: result.TTFB}
		}
		processed, preErr := s.Preprocess(raw)
		if preErr != nil {
			return &attempt{num: n, latency: time.Since(start), err: fmt.Errorf("retrieval: preprocess: %w", preErr), respCode: result.StatusCode, ttfb: result.TTFB}
		}
		body = bytes.NewReader(processed)
	}

	var outcome ValidationOutcome
	if s.Validate != nil {
		outcome, err = s.Validate(ctx, body, sctx)
		if err != nil {
			return &attempt{num: n, latency: time.Since(start), err: err, respCode: result.StatusCode, ttfb: result.TTFB}
		}
	} else {
		copied, _ := io.Copy(io.Discard, body)
		outcome = ValidationOutcome{IsValid: true, BytesRead: copied}
	}

	return &attempt{
		num:       n,
		latency:   time.Since(start),
		outcome:   outcome,
		respCode:  result.StatusCode,
		bytesRead: outcome.BytesRead,
		ttfb:      result.TTFB,
	}
}
