// Package probe is the probe pipeline (C8): one upload probe and one
// retrieval probe, end to end, against a single SP. Both halves are
// cancellation-aware — a whole-pipeline deadline is derived from the
// family's cadence, and every blocking call is given the same context so
// a deadline expiry unwinds the pipeline at its current suspension point
// rather than running to completion regardless.
package probe

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/evalgo/spprobe/archive"
	"github.com/evalgo/spprobe/chaingw"
	"github.com/evalgo/spprobe/domain"
)

// deadlineBuffer is subtracted from a family's interval to build the
// pipeline's cancellation deadline, leaving headroom before the next
// scheduled run, per spec.md §4.3/§4.4's "dealIntervalSeconds − buffer".
const deadlineBuffer = 30 * time.Second

// deadlineFor derives a pipeline's cancellation deadline from its job
// family's configured interval. If the interval is too short to leave
// any buffer, the whole interval is used instead of going negative.
func deadlineFor(intervalSeconds int) time.Duration {
	d := time.Duration(intervalSeconds)*time.Second - deadlineBuffer
	if d <= 0 {
		return time.Duration(intervalSeconds) * time.Second
	}
	return d
}

// UploadPipeline runs the upload half of C8 against one SP: sample a
// payload, archive it, ingest to the SP, anchor on chain, advancing a
// Deal through its forward-only status chain at each observable stage.
type UploadPipeline struct {
	chain       chaingw.Client
	sizeClasses []int64
}

// NewUploadPipeline builds an UploadPipeline. sizeClasses are candidate
// payload sizes in bytes; Run samples one uniformly per invocation.
func NewUploadPipeline(chain chaingw.Client, sizeClasses []int64) *UploadPipeline {
	return &UploadPipeline{chain: chain, sizeClasses: sizeClasses}
}

// Run executes one upload probe against spAddress, returning the
// resulting Deal whether it reached DEAL_CREATED or FAILED.
func (u *UploadPipeline) Run(ctx context.Context, dealIntervalSeconds int, spAddress, walletAddress string) *domain.Deal {
	ctx, cancel := context.WithTimeout(ctx, deadlineFor(dealIntervalSeconds))
	defer cancel()

	size, err := sampleSize(u.sizeClasses)
	if err != nil {
		deal := domain.NewDeal(spAddress, walletAddress, "", 0)
		failDeal(deal, fmt.Errorf("probe: sample size: %w", err))
		return deal
	}
	deal := domain.NewDeal(spAddress, walletAddress, fmt.Sprintf("probe-%s.bin", randomSuffix()), size)

	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		failDeal(deal, fmt.Errorf("probe: generate payload: %w", err))
		return deal
	}

	archiveBytes, rootCID, err := archive.Encode(payload)
	if err != nil {
		failDeal(deal, fmt.Errorf("probe: archive payload: %w", err))
		return deal
	}
	deal.RootCID = rootCID.String()
	deal.Metadata["carSize"] = strconv.Itoa(len(archiveBytes))

	ingestStart := time.Now()
	receipt, err := u.chain.UploadPiece(ctx, spAddress, archiveBytes)
	if err != nil {
		failDeal(deal, fmt.Errorf("probe: upload piece: %w", err))
		return deal
	}
	ingestLatency := time.Since(ingestStart)
	deal.PieceCID = receipt.PieceCID
	deal.IngestLatencyMs = ingestLatency.Milliseconds()
	if ingestLatency > 0 {
		deal.IngestThroughputBps = float64(len(archiveBytes)) / ingestLatency.Seconds()
	}
	if err := deal.Advance(domain.DealIngested, ""); err != nil {
		failDeal(deal, err)
		return deal
	}

	chainStart := time.Now()
	confirmed, err := u.chain.AnchorPiece(ctx, spAddress, deal.PieceCID)
	if err != nil {
		failDeal(deal, fmt.Errorf("probe: anchor piece: %w", err))
		return deal
	}
	if !confirmed {
		failDeal(deal, fmt.Errorf("probe: anchor piece: not confirmed"))
		return deal
	}
	chainLatency := time.Since(chainStart)
	deal.ChainLatencyMs = chainLatency.Milliseconds()

	// CHAIN_CONFIRMED, PIECE_ADDED and DEAL_CREATED correspond to
	// distinct external signals in the original chain protocol; this
	// gateway's AnchorPiece confirmation collapses them into a single
	// observable event, so all three states are reached back-to-back.
	for _, next := range []domain.DealStatus{domain.DealChainConfirmed, domain.DealPieceAdded, domain.DealCreated} {
		if err := deal.Advance(next, ""); err != nil {
			failDeal(deal, err)
			return deal
		}
	}

	deal.DealLatencyMs = deal.IngestLatencyMs + deal.ChainLatencyMs
	return deal
}

func failDeal(deal *domain.Deal, err error) {
	_ = deal.Advance(domain.DealFailed, err.Error())
}

// sampleSize picks one size class uniformly at random via crypto/rand,
// matching spec.md §4.3's "sample a byte size from configured classes
// (uniform)".
func sampleSize(classes []int64) (int64, error) {
	if len(classes) == 0 {
		return 0, fmt.Errorf("no size classes configured")
	}
	if len(classes) == 1 {
		return classes[0], nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(classes))))
	if err != nil {
		return 0, err
	}
	return classes[n.Int64()], nil
}

// randomSuffix returns a short random hex suffix for a probe file name,
// avoiding any dependency on wall-clock time for uniqueness.
func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
