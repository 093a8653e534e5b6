package planner

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/config"
	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/workqueue"
)

type fakeProviderLister struct {
	providers []domain.StorageProvider
}

func (f *fakeProviderLister) ListActive(ctx context.Context, approvedOnly bool) ([]domain.StorageProvider, error) {
	if !approvedOnly {
		return f.providers, nil
	}
	var out []domain.StorageProvider
	for _, p := range f.providers {
		if p.Approved {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestPlannerTickPublishesDueWork(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping planner integration test")
	}
	ctx := context.Background()
	db, err := dbx.Open(ctx, dsn, 4)
	require.NoError(t, err)
	require.NoError(t, dbx.Migrate(ctx, db))
	t.Cleanup(db.Close)

	q := workqueue.New(db, time.Second, time.Minute)
	providers := &fakeProviderLister{providers: []domain.StorageProvider{
		{Address: "0xplannertest", ProviderID: 1, Active: true, Approved: true},
	}}
	cfg := &config.Config{
		DealIntervalSeconds:      60,
		RetrievalIntervalSeconds: 60,
		RetentionIntervalSeconds: 60,
		UseOnlyApprovedProviders: false,
	}
	log := logrus.NewEntry(logrus.New())

	p := New(db, q, providers, cfg, log, "spprobe-planner-test")

	// First tick creates schedule rows with next_run_at in the future; it
	// should not publish anything yet.
	require.NoError(t, p.Tick(ctx))

	// Force all schedule rows due immediately, then tick again.
	require.NoError(t, db.Exec(ctx, `UPDATE job_schedule_state SET next_run_at = now() WHERE key = $1`, "0xplannertest"))
	require.NoError(t, p.Tick(ctx))

	items, err := q.Fetch(ctx, "deal", 10, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, items)
}
