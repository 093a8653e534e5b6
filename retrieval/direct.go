package retrieval

import (
	"context"
	"fmt"
	"io"

	"github.com/evalgo/spprobe/probetransport"
)

// DirectSPPriority runs before IPFS-block, per spec.md §4.4's priority
// ordering (Direct-SP is the primary retrieval path).
const DirectSPPriority = 0

// NewDirectSPStrategy builds the "direct-sp" strategy: a plain GET
// against <serviceURL>/piece/<pieceCID>, with Validate confirming the
// number of bytes retrieved matches the declared file size (the size
// mismatch error kind named in spec.md §7).
func NewDirectSPStrategy(client *probetransport.Client) Strategy {
	return Strategy{
		StrategyName:     "direct-sp",
		StrategyPriority: DirectSPPriority,
		CanHandle: func(ctx StrategyContext) bool {
			return ctx.ServiceURL != "" && ctx.PieceCID != ""
		},
		ConstructURL: func(ctx StrategyContext) string {
			return fmt.Sprintf("%s/piece/%s", ctx.ServiceURL, ctx.PieceCID)
		},
		Validate: func(ctx context.Context, body io.Reader, sctx StrategyContext) (ValidationOutcome, error) {
			n, err := io.Copy(io.Discard, body)
			if err != nil {
				return ValidationOutcome{}, fmt.Errorf("retrieval: direct-sp read body: %w", err)
			}
			if sctx.FileSize > 0 && n != sctx.FileSize {
				return ValidationOutcome{
					IsValid:    false,
					Method:     "size-check",
					Details:    fmt.Sprintf("expected %d bytes, got %d", sctx.FileSize, n),
					Comparison: "size-mismatch",
					BytesRead:  n,
				}, nil
			}
			return ValidationOutcome{IsValid: true, Method: "size-check", BytesRead: n}, nil
		},
		Retry:    DefaultRetryConfig(),
		Expected: ExpectedMetrics{},
	}
}
