package recorder

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
)

const upsertDealSQL = `
INSERT INTO deals (
	id, sp_address, wallet_address, piece_cid, root_cid, file_size, file_name,
	status, ingest_latency_ms, chain_latency_ms, deal_latency_ms,
	ingest_throughput_bps, service_types, metadata, error_message,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	piece_cid = EXCLUDED.piece_cid,
	root_cid = EXCLUDED.root_cid,
	status = EXCLUDED.status,
	ingest_latency_ms = EXCLUDED.ingest_latency_ms,
	chain_latency_ms = EXCLUDED.chain_latency_ms,
	deal_latency_ms = EXCLUDED.deal_latency_ms,
	ingest_throughput_bps = EXCLUDED.ingest_throughput_bps,
	service_types = EXCLUDED.service_types,
	metadata = EXCLUDED.metadata,
	error_message = EXCLUDED.error_message,
	updated_at = EXCLUDED.updated_at
`

const upsertRetrievalSQL = `
INSERT INTO retrievals (
	id, deal_id, service_type, retrieval_endpoint, status, latency_ms, ttfb_ms,
	throughput_bps, bytes_retrieved, response_code, error_message, retry_count,
	validation_method, validation_details, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	latency_ms = EXCLUDED.latency_ms,
	ttfb_ms = EXCLUDED.ttfb_ms,
	throughput_bps = EXCLUDED.throughput_bps,
	bytes_retrieved = EXCLUDED.bytes_retrieved,
	response_code = EXCLUDED.response_code,
	error_message = EXCLUDED.error_message,
	retry_count = EXCLUDED.retry_count,
	validation_method = EXCLUDED.validation_method,
	validation_details = EXCLUDED.validation_details,
	updated_at = EXCLUDED.updated_at
`

func upsertDeal(ctx context.Context, db *dbx.DB, deal *domain.Deal) error {
	return db.Exec(ctx, upsertDealSQL,
		deal.ID, deal.SPAddress, deal.WalletAddress, deal.PieceCID, deal.RootCID,
		deal.FileSize, deal.FileName, string(deal.Status), deal.IngestLatencyMs,
		deal.ChainLatencyMs, deal.DealLatencyMs, deal.IngestThroughputBps,
		deal.ServiceTypes, deal.Metadata, deal.ErrorMessage, deal.CreatedAt, deal.UpdatedAt,
	)
}

func upsertRetrievalTx(ctx context.Context, tx pgx.Tx, rt *domain.Retrieval) error {
	_, err := tx.Exec(ctx, upsertRetrievalSQL,
		rt.ID, rt.DealID, rt.ServiceType, rt.RetrievalEndpoint, string(rt.Status),
		rt.LatencyMs, rt.TTFBMs, rt.ThroughputBps, rt.BytesRetrieved, rt.ResponseCode,
		rt.ErrorMessage, rt.RetryCount, rt.ValidationMethod, rt.ValidationDetails,
		rt.CreatedAt, rt.UpdatedAt,
	)
	return err
}

// RefreshRollups refreshes both materialised performance views, per
// spec.md §6's "refreshes materialised views sp_performance_last_week,
// sp_performance_all_time".
func (r *Recorder) RefreshRollups(ctx context.Context) error {
	if err := r.db.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY sp_performance_last_week`); err != nil {
		return err
	}
	return r.db.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY sp_performance_all_time`)
}
