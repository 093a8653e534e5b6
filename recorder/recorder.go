// Package recorder is the observation recorder (C9): the sole writer of
// Deals and Retrievals to the relational store, and the sole emitter of
// their Prometheus status/latency series. A pending observation is always
// recorded before a probe starts; once the probe pipeline has finished,
// PersistDeal upserts the Deal row and PersistRetrievals writes a probe's
// Retrieval rows in one transaction, and each then emits the terminal
// metrics — mirroring the teacher's own
// transactional-write-then-observe discipline in its state-store layer.
package recorder

import (
	"context"
	"fmt"
	"strconv"

	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/metrics"
)

// Recorder persists Deal/Retrieval rows and drives the metrics.Recorder
// from their terminal state.
type Recorder struct {
	db      *dbx.DB
	metrics *metrics.Recorder
}

// New builds a Recorder.
func New(db *dbx.DB, m *metrics.Recorder) *Recorder {
	return &Recorder{db: db, metrics: m}
}

// RecordPending emits the "pending" observation for a probe about to
// start, before any I/O happens, per spec.md §4.7.
func (r *Recorder) RecordPending(checkType string, providerID int64, approved bool) {
	r.metrics.RecordPending(checkType, strconv.FormatInt(providerID, 10), approvedLabel(approved))
}

// PersistDeal upserts deal's row and, if its status is terminal, emits
// its final metrics. Intermediate (non-terminal) persists during the
// upload pipeline's stage advances are write-only — no metrics are
// recorded until DEAL_CREATED or FAILED.
func (r *Recorder) PersistDeal(ctx context.Context, deal *domain.Deal, providerID int64, approved bool) error {
	if err := upsertDeal(ctx, r.db, deal); err != nil {
		return fmt.Errorf("recorder: persist deal %s: %w", deal.ID, err)
	}
	if deal.Status.IsTerminal() {
		r.recordDealMetrics(deal, providerID, approved)
	}
	return nil
}

// PersistRetrievals writes every Retrieval row in retrievals, all
// against the same (already-persisted) Deal, in one transaction, then
// emits each row's terminal metrics.
func (r *Recorder) PersistRetrievals(ctx context.Context, retrievals []*domain.Retrieval, providerID int64, approved bool) error {
	if len(retrievals) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("recorder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rt := range retrievals {
		if err := upsertRetrievalTx(ctx, tx, rt); err != nil {
			return fmt.Errorf("recorder: persist retrieval %s: %w", rt.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("recorder: commit retrievals: %w", err)
	}

	for _, rt := range retrievals {
		r.recordRetrievalMetrics(rt, providerID, approved)
	}
	return nil
}

func (r *Recorder) recordDealMetrics(deal *domain.Deal, providerID int64, approved bool) {
	providerLabel := strconv.FormatInt(providerID, 10)
	approvedLbl := approvedLabel(approved)
	status := dealStatusLabel(deal)

	r.metrics.RecordStatus("deal", providerLabel, approvedLbl, status)
	r.metrics.ObserveLastByteMs("deal", providerLabel, approvedLbl, float64(deal.DealLatencyMs))
	r.metrics.ObserveCheckDuration("deal", providerLabel, approvedLbl, float64(deal.DealLatencyMs)/1000)
	if deal.IngestThroughputBps > 0 {
		r.metrics.ObserveThroughput("deal", providerLabel, approvedLbl, deal.IngestThroughputBps)
	}
}

func (r *Recorder) recordRetrievalMetrics(rt *domain.Retrieval, providerID int64, approved bool) {
	providerLabel := strconv.FormatInt(providerID, 10)
	approvedLbl := approvedLabel(approved)
	status := retrievalStatusLabel(rt)

	r.metrics.RecordStatus(rt.ServiceType, providerLabel, approvedLbl, status)
	r.metrics.RecordHTTPResponseCode(rt.ServiceType, providerLabel, approvedLbl, rt.ResponseCode)
	r.metrics.ObserveFirstByteMs(rt.ServiceType, providerLabel, approvedLbl, float64(rt.TTFBMs))
	r.metrics.ObserveLastByteMs(rt.ServiceType, providerLabel, approvedLbl, float64(rt.LatencyMs))
	r.metrics.ObserveCheckDuration(rt.ServiceType, providerLabel, approvedLbl, float64(rt.LatencyMs)/1000)
	if rt.ThroughputBps > 0 {
		r.metrics.ObserveThroughput(rt.ServiceType, providerLabel, approvedLbl, rt.ThroughputBps)
	}
}

func approvedLabel(approved bool) string {
	return strconv.FormatBool(approved)
}

// dealStatusLabel classifies a terminal Deal into one of spec.md §4.7's
// recordStatus values.
func dealStatusLabel(deal *domain.Deal) string {
	if deal.Status == domain.DealCreated {
		return metrics.StatusSuccess
	}
	if deal.ErrorMessage == "ABORTED" {
		return metrics.StatusFailureTimedOut
	}
	return metrics.FailureStatus("upload")
}

// retrievalStatusLabel classifies a terminal Retrieval the same way,
// distinguishing a validation failure (validationMethod populated) from
// a transport failure, per spec.md §7's error-kind taxonomy.
func retrievalStatusLabel(rt *domain.Retrieval) string {
	if rt.Status == domain.RetrievalSuccess {
		return metrics.StatusSuccess
	}
	if rt.ErrorMessage == "ABORTED" {
		return metrics.StatusFailureTimedOut
	}
	if rt.ValidationMethod != "" {
		return metrics.StatusFailureValidation
	}
	return metrics.FailureStatus("transport")
}
