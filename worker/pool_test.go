package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/spprobe/workqueue"
)

type fakeQueueClient struct {
	mu        sync.Mutex
	pending   []workqueue.WorkItem
	fetched   bool
	completed []uuid.UUID
	failed    map[uuid.UUID]string
	swept     int
}

func (q *fakeQueueClient) Fetch(ctx context.Context, queue string, n int, visibilityTimeout time.Duration) ([]workqueue.WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fetched {
		return nil, nil
	}
	q.fetched = true
	return q.pending, nil
}

func (q *fakeQueueClient) Complete(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueueClient) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failed == nil {
		q.failed = make(map[uuid.UUID]string)
	}
	q.failed[id] = errMsg
	return nil
}

func (q *fakeQueueClient) Sweep(ctx context.Context, queue string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.swept++
	return 0, nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestPoolCompletesSuccessfulItem(t *testing.T) {
	id := uuid.New()
	q := &fakeQueueClient{pending: []workqueue.WorkItem{{ID: id, Queue: "deal"}}}
	p := New(q, testLogger())
	p.Register(QueueConfig{
		Queue:        "deal",
		Handler:      HandlerFunc(func(ctx context.Context, item workqueue.WorkItem) error { return nil }),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.completed, 1)
	assert.Equal(t, id, q.completed[0])
	assert.Empty(t, q.failed)
}

func TestPoolFailsErroringItem(t *testing.T) {
	id := uuid.New()
	q := &fakeQueueClient{pending: []workqueue.WorkItem{{ID: id, Queue: "deal"}}}
	p := New(q, testLogger())
	p.Register(QueueConfig{
		Queue:        "deal",
		Handler:      HandlerFunc(func(ctx context.Context, item workqueue.WorkItem) error { return assertErr("boom") }),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Contains(t, q.failed, id)
	assert.Equal(t, "boom", q.failed[id])
	assert.Empty(t, q.completed)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
