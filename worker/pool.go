// Package worker is the work-queue consumer pool (the dispatch half of
// C6): one consumption loop per registered queue name, fetching due
// WorkItems via workqueue.Queue.Fetch and handing them to a registered
// Handler, generalized from the teacher's Queue/JobProcessor worker pool
// (worker/pool.go) onto this module's Postgres-backed workqueue.Queue in
// place of the teacher's generic Dequeue/MarkProcessing/CompleteJob/
// FailJob queue interface.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/evalgo/spprobe/workqueue"
)

// QueueClient is the subset of *workqueue.Queue the pool needs, narrowed
// to an interface so the fetch/dispatch/report loop is testable without
// Postgres.
type QueueClient interface {
	Fetch(ctx context.Context, queue string, n int, visibilityTimeout time.Duration) ([]workqueue.WorkItem, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
	Sweep(ctx context.Context, queue string) (int, error)
}

// Handler processes one WorkItem's payload. A returned error leaves the
// item for workqueue.Queue.Fail to retry or terminally fail, depending
// on its remaining attempt budget; a nil return completes it.
type Handler interface {
	Handle(ctx context.Context, item workqueue.WorkItem) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, item workqueue.WorkItem) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, item workqueue.WorkItem) error {
	return f(ctx, item)
}

// QueueConfig is one named queue's consumption parameters. Zero fields
// are filled in by Register's defaults.
type QueueConfig struct {
	Queue             string
	Handler           Handler
	Concurrency       int
	BatchSize         int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	return c
}

// Pool runs one fetch loop and one sweep loop per registered queue,
// dispatching fetched batches across a concurrency-bounded set of
// goroutines per queue.
type Pool struct {
	queue   QueueClient
	configs []QueueConfig
	log     *logrus.Entry
}

// New builds an empty Pool; call Register for every queue it should
// consume before calling Run.
func New(q QueueClient, log *logrus.Entry) *Pool {
	return &Pool{queue: q, log: log}
}

// Register adds queue cfg.Queue to the pool, dispatching its fetched
// items to cfg.Handler.
func (p *Pool) Register(cfg QueueConfig) {
	p.configs = append(p.configs, cfg.withDefaults())
}

// Run blocks until ctx is cancelled, running every registered queue's
// fetch and sweep loops concurrently.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, cfg := range p.configs {
		cfg := cfg
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.consume(ctx, cfg)
		}()
		go func() {
			defer wg.Done()
			p.sweep(ctx, cfg)
		}()
	}
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, cfg QueueConfig) {
	sem := make(chan struct{}, cfg.Concurrency)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items, err := p.queue.Fetch(ctx, cfg.Queue, cfg.BatchSize, cfg.VisibilityTimeout)
			if err != nil {
				p.log.WithError(err).WithField("queue", cfg.Queue).Warn("worker: fetch failed")
				continue
			}
			for _, item := range items {
				item := item
				sem <- struct{}{}
				go func() {
					defer func() { <-sem }()
					p.process(ctx, cfg, item)
				}()
			}
		}
	}
}

// process runs cfg.Handler against item under a deadline derived from
// the claim's visibility window (falling back to cfg.VisibilityTimeout),
// then reports the outcome back to the queue. The report calls use a
// detached context so a cancelled parent (shutdown, expired deadline)
// never prevents an already-finished item from being marked complete or
// failed.
func (p *Pool) process(ctx context.Context, cfg QueueConfig, item workqueue.WorkItem) {
	deadline := cfg.VisibilityTimeout
	if item.VisibleUntil != nil {
		if d := time.Until(*item.VisibleUntil); d > 0 {
			deadline = d
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	fields := logrus.Fields{"queue": cfg.Queue, "item_id": item.ID, "key": item.Key}

	if err := cfg.Handler.Handle(runCtx, item); err != nil {
		p.log.WithError(err).WithFields(fields).Warn("worker: item failed")
		if failErr := p.queue.Fail(context.Background(), item.ID, err.Error()); failErr != nil {
			p.log.WithError(failErr).WithFields(fields).Error("worker: failed to mark item failed")
		}
		return
	}

	if err := p.queue.Complete(context.Background(), item.ID); err != nil {
		p.log.WithError(err).WithFields(fields).Error("worker: failed to mark item completed")
	}
}

func (p *Pool) sweep(ctx context.Context, cfg QueueConfig) {
	ticker := time.NewTicker(cfg.VisibilityTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.Sweep(ctx, cfg.Queue)
			if err != nil {
				p.log.WithError(err).WithField("queue", cfg.Queue).Warn("worker: sweep failed")
				continue
			}
			if n > 0 {
				p.log.WithFields(logrus.Fields{"queue": cfg.Queue, "count": n}).Info("worker: reclaimed expired items")
			}
		}
	}
}
