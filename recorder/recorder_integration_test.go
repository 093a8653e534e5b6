package recorder

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/metrics"
)

func openTestDB(t *testing.T) *dbx.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping recorder integration test")
	}
	ctx := context.Background()
	db, err := dbx.Open(ctx, dsn, 4)
	require.NoError(t, err)
	require.NoError(t, dbx.Migrate(ctx, db))
	t.Cleanup(db.Close)
	return db
}

func seedProvider(t *testing.T, db *dbx.DB, address string) {
	t.Helper()
	err := db.Exec(context.Background(), `
		INSERT INTO storage_providers (address, provider_id, service_url, active, approved)
		VALUES ($1, $2, $3, true, true)
		ON CONFLICT (address) DO NOTHING
	`, address, int64(1), "http://sp.example")
	require.NoError(t, err)
}

func TestPersistDealUpsertsAndRecordsMetricsOnlyWhenTerminal(t *testing.T) {
	db := openTestDB(t)
	seedProvider(t, db, "0xsp1")
	rec := New(db, metrics.New("spprobe_test_recorder_deal"))
	ctx := context.Background()

	deal := domain.NewDeal("0xsp1", "0xwallet", "probe.bin", 1024)
	require.NoError(t, rec.PersistDeal(ctx, deal, 1, true))

	require.NoError(t, deal.Advance(domain.DealIngested, ""))
	require.NoError(t, rec.PersistDeal(ctx, deal, 1, true))

	require.NoError(t, deal.Advance(domain.DealChainConfirmed, ""))
	require.NoError(t, deal.Advance(domain.DealPieceAdded, ""))
	require.NoError(t, deal.Advance(domain.DealCreated, ""))
	require.NoError(t, rec.PersistDeal(ctx, deal, 1, true))

	var status string
	row := db.QueryRow(ctx, `SELECT status FROM deals WHERE id = $1`, deal.ID)
	require.NoError(t, row.Scan(&status))
	require.Equal(t, "DEAL_CREATED", status)
}

func TestPersistRetrievalsWritesAllRowsTransactionally(t *testing.T) {
	db := openTestDB(t)
	seedProvider(t, db, "0xsp2")
	rec := New(db, metrics.New("spprobe_test_recorder_retrieval"))
	ctx := context.Background()

	deal := domain.NewDeal("0xsp2", "0xwallet", "probe.bin", 2048)
	require.NoError(t, rec.PersistDeal(ctx, deal, 2, true))

	r1 := domain.NewRetrieval(deal.ID, "direct-sp", "http://sp.example/piece/x")
	require.NoError(t, r1.Advance(domain.RetrievalSuccess, ""))
	r2 := domain.NewRetrieval(deal.ID, "ipfs-block", "http://sp.example/ipfs/x")
	require.NoError(t, r2.Advance(domain.RetrievalFailed, "transport error"))

	require.NoError(t, rec.PersistRetrievals(ctx, []*domain.Retrieval{r1, r2}, 2, true))

	var count int
	row := db.QueryRow(ctx, `SELECT count(*) FROM retrievals WHERE deal_id = $1`, deal.ID)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 2, count)
}

func TestRefreshRollupsSucceeds(t *testing.T) {
	db := openTestDB(t)
	rec := New(db, metrics.New("spprobe_test_recorder_rollup"))
	require.NoError(t, rec.RefreshRollups(context.Background()))
}
