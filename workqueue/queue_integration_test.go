package workqueue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/dbx"
)

func openTestDB(t *testing.T) *dbx.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping workqueue integration test")
	}
	ctx := context.Background()
	db, err := dbx.Open(ctx, dsn, 4)
	require.NoError(t, err)
	require.NoError(t, dbx.Migrate(ctx, db))
	t.Cleanup(db.Close)
	return db
}

func TestPublishIsIdempotentForActiveSingleton(t *testing.T) {
	db := openTestDB(t)
	q := New(db, time.Second, time.Minute)
	ctx := context.Background()

	id1, err := q.Publish(ctx, "deal", "0xabc", "deal:0xabc", map[string]string{"x": "1"}, 5)
	require.NoError(t, err)

	id2, err := q.Publish(ctx, "deal", "0xabc", "deal:0xabc", map[string]string{"x": "2"}, 5)
	require.NoError(t, err)

	require.Equal(t, id1, id2)
}

func TestFetchCompleteLifecycle(t *testing.T) {
	db := openTestDB(t)
	q := New(db, time.Second, time.Minute)
	ctx := context.Background()

	id, err := q.Publish(ctx, "retrieval", "0xdef", "retrieval:0xdef", map[string]string{}, 3)
	require.NoError(t, err)

	items, err := q.Fetch(ctx, "retrieval", 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, id, items[0].ID)

	require.NoError(t, q.Complete(ctx, id))
	require.ErrorIs(t, q.Complete(ctx, id), ErrNotActive)
}

func TestFailOnLastAttemptMarksFailed(t *testing.T) {
	db := openTestDB(t)
	q := New(db, time.Millisecond, time.Second)
	ctx := context.Background()

	id, err := q.Publish(ctx, "deal", "0xfff", "deal:0xfff", map[string]string{}, 1)
	require.NoError(t, err)

	_, err = q.Fetch(ctx, "deal", 10, 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, id, "boom"))

	var state string
	require.NoError(t, db.QueryRow(ctx, `SELECT state FROM work_items WHERE id = $1`, id).Scan(&state))
	require.Equal(t, "FAILED", state)
}

func TestSweepReclaimsExpiredActive(t *testing.T) {
	db := openTestDB(t)
	q := New(db, time.Second, time.Minute)
	ctx := context.Background()

	_, err := q.Publish(ctx, "retention", "0x111", "retention:0x111", map[string]string{}, 5)
	require.NoError(t, err)

	_, err = q.Fetch(ctx, "retention", 10, time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	n, err := q.Sweep(ctx, "retention")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
