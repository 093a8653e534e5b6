package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/spprobe/config"
	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/probe"
	"github.com/evalgo/spprobe/retention"
	"github.com/evalgo/spprobe/workqueue"
)

// ObservationRecorder is the subset of *recorder.Recorder the handlers
// need, narrowed to an interface so they are testable without Postgres.
type ObservationRecorder interface {
	RecordPending(checkType string, providerID int64, approved bool)
	PersistDeal(ctx context.Context, deal *domain.Deal, providerID int64, approved bool) error
	PersistRetrievals(ctx context.Context, retrievals []*domain.Retrieval, providerID int64, approved bool) error
	RefreshRollups(ctx context.Context) error
}

// jobPayload is the shape the planner marshals every WorkItem's payload
// into (map[string]string{"family": ..., "sp": ...}).
type jobPayload struct {
	Family string `json:"family"`
	SP     string `json:"sp"`
}

func decodePayload(item workqueue.WorkItem) (jobPayload, error) {
	var p jobPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return jobPayload{}, fmt.Errorf("worker: decode payload: %w", err)
	}
	return p, nil
}

// ProviderLookup resolves a single SP by address; satisfied by
// chaingw.Registry or a fake in tests.
type ProviderLookup interface {
	GetByAddress(ctx context.Context, address string) (domain.StorageProvider, error)
}

// DealFinder resolves the most recently completed Deal for an SP;
// satisfied by NewDealFinder's thin query against the deals table, or a
// fake in tests.
type DealFinder interface {
	LatestCreatedDeal(ctx context.Context, spAddress string) (*domain.Deal, error)
}

type dbDealFinder struct{ db *dbx.DB }

// NewDealFinder returns a DealFinder backed by db.
func NewDealFinder(db *dbx.DB) DealFinder {
	return dbDealFinder{db: db}
}

func (f dbDealFinder) LatestCreatedDeal(ctx context.Context, spAddress string) (*domain.Deal, error) {
	return latestCreatedDeal(ctx, f.db, spAddress)
}

// DealHandler runs one upload probe against the WorkItem's SP.
type DealHandler struct {
	Providers ProviderLookup
	Pipeline  *probe.UploadPipeline
	Recorder  ObservationRecorder
	Cfg       *config.Config
}

func (h *DealHandler) Handle(ctx context.Context, item workqueue.WorkItem) error {
	p, err := decodePayload(item)
	if err != nil {
		return err
	}

	sp, err := h.Providers.GetByAddress(ctx, p.SP)
	if err != nil {
		return fmt.Errorf("worker: deal: look up provider %s: %w", p.SP, err)
	}

	h.Recorder.RecordPending("deal", sp.ProviderID, sp.Approved)
	deal := h.Pipeline.Run(ctx, h.Cfg.DealIntervalSeconds, sp.Address, h.Cfg.WalletAddress)
	if err := h.Recorder.PersistDeal(ctx, deal, sp.ProviderID, sp.Approved); err != nil {
		return fmt.Errorf("worker: deal: persist %s: %w", deal.ID, err)
	}
	if deal.Status == domain.DealFailed {
		return fmt.Errorf("worker: deal %s failed: %s", deal.ID, deal.ErrorMessage)
	}
	return nil
}

// RetrievalHandler runs every applicable retrieval strategy against the
// WorkItem's SP's most recently completed Deal.
type RetrievalHandler struct {
	Providers ProviderLookup
	Deals     DealFinder
	Pipeline  *probe.RetrievalPipeline
	Recorder  ObservationRecorder
	Cfg       *config.Config
}

func (h *RetrievalHandler) Handle(ctx context.Context, item workqueue.WorkItem) error {
	p, err := decodePayload(item)
	if err != nil {
		return err
	}

	sp, err := h.Providers.GetByAddress(ctx, p.SP)
	if err != nil {
		return fmt.Errorf("worker: retrieval: look up provider %s: %w", p.SP, err)
	}

	deal, err := h.Deals.LatestCreatedDeal(ctx, sp.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No upload has reached DEAL_CREATED for this SP yet; not an
			// error, just nothing to retrieve this cycle.
			return nil
		}
		return fmt.Errorf("worker: retrieval: find deal for %s: %w", sp.Address, err)
	}

	h.Recorder.RecordPending("retrieval", sp.ProviderID, sp.Approved)
	results := h.Pipeline.Run(ctx, h.Cfg.RetrievalIntervalSeconds, deal, sp.ServiceURL)
	if err := h.Recorder.PersistRetrievals(ctx, results, sp.ProviderID, sp.Approved); err != nil {
		return fmt.Errorf("worker: retrieval: persist for deal %s: %w", deal.ID, err)
	}
	for _, rt := range results {
		if rt.Status == domain.RetrievalFailed {
			return fmt.Errorf("worker: retrieval %s (%s) failed: %s", rt.ID, rt.ServiceType, rt.ErrorMessage)
		}
	}
	return nil
}

func latestCreatedDeal(ctx context.Context, db *dbx.DB, spAddress string) (*domain.Deal, error) {
	row := db.QueryRow(ctx, `
		SELECT id, sp_address, wallet_address, piece_cid, root_cid, file_size, file_name, status
		FROM deals
		WHERE sp_address = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, spAddress, string(domain.DealCreated))

	deal := &domain.Deal{Metadata: make(map[string]string)}
	var status string
	if err := row.Scan(&deal.ID, &deal.SPAddress, &deal.WalletAddress, &deal.PieceCID, &deal.RootCID,
		&deal.FileSize, &deal.FileName, &status); err != nil {
		return nil, err
	}
	deal.Status = domain.DealStatus(status)
	return deal, nil
}

// RetentionHandler runs one full retention reconciliation cycle. The
// planner schedules a retention WorkItem per (family, SP) pair for
// staggering purposes, but retention.Poller.Run reconciles every active
// SP in a single call, so handling any one of that cycle's items is
// sufficient to service the whole family; the remaining items in the
// same cycle do redundant (idempotent) work rather than nothing.
type RetentionHandler struct {
	Poller *retention.Poller
}

func (h *RetentionHandler) Handle(ctx context.Context, item workqueue.WorkItem) error {
	return h.Poller.Run(ctx)
}

// RollupHandler refreshes the materialised performance views. Like
// RetentionHandler, it ignores the WorkItem's SP key: a refresh serves
// every SP at once.
type RollupHandler struct {
	Recorder ObservationRecorder
}

func (h *RollupHandler) Handle(ctx context.Context, item workqueue.WorkItem) error {
	return h.Recorder.RefreshRollups(ctx)
}
