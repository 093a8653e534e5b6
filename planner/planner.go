// Package planner is the job planner (C7): it materialises per-SP,
// per-family work from configuration, reconciles JobScheduleState against
// the desired set, gates publishing by maintenance windows, and is
// single-writer across processes via a Postgres advisory lock.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/spprobe/config"
	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
	"github.com/evalgo/spprobe/workqueue"
)

// families lists every job family the planner schedules per active SP.
var families = []domain.JobFamily{
	domain.JobFamilyDeal,
	domain.JobFamilyRetrieval,
	domain.JobFamilyRetention,
	domain.JobFamilyMetricsRollup,
}

// familyQueue maps a job family to the work queue name that consumes it.
func familyQueue(f domain.JobFamily) string {
	switch f {
	case domain.JobFamilyDeal:
		return "deal"
	case domain.JobFamilyRetrieval:
		return "retrieval"
	case domain.JobFamilyRetention:
		return "retention"
	case domain.JobFamilyMetricsRollup:
		return "metrics_rollup"
	default:
		return string(f)
	}
}

// familyInterval returns the configured cadence, in seconds, for family f.
func familyInterval(cfg *config.Config, f domain.JobFamily) int {
	switch f {
	case domain.JobFamilyDeal:
		return cfg.DealIntervalSeconds
	case domain.JobFamilyRetrieval:
		return cfg.RetrievalIntervalSeconds
	case domain.JobFamilyRetention:
		return cfg.RetentionIntervalSeconds
	case domain.JobFamilyMetricsRollup:
		return cfg.RetentionIntervalSeconds
	default:
		return cfg.DealIntervalSeconds
	}
}

// familyOffset returns the configured inter-family stagger, in seconds.
func familyOffset(cfg *config.Config, f domain.JobFamily) int {
	switch f {
	case domain.JobFamilyDeal:
		return cfg.DealStartOffsetSeconds
	case domain.JobFamilyRetrieval:
		return cfg.RetrievalStartOffsetSeconds
	case domain.JobFamilyMetricsRollup:
		return cfg.MetricsBaseOffsetSeconds
	default:
		return 0
	}
}

// ActiveProviderLister is the read-only view of the SP registry the
// planner needs; satisfied by a thin query against storage_providers, or
// by a fake in tests. Read-only components like the planner tolerate
// stale state, so this never blocks on a chain read.
type ActiveProviderLister interface {
	ListActive(ctx context.Context, approvedOnly bool) ([]domain.StorageProvider, error)
}

// Planner reconciles JobScheduleState and publishes due WorkItems.
type Planner struct {
	db       *dbx.DB
	queue    *workqueue.Queue
	cfg      *config.Config
	log      *logrus.Entry
	lockKey  string
	providers ActiveProviderLister
}

// New builds a Planner. lockKey scopes the advisory lock so multiple
// planner instances for different deployments never contend.
func New(db *dbx.DB, queue *workqueue.Queue, providers ActiveProviderLister, cfg *config.Config, log *logrus.Entry, lockKey string) *Planner {
	return &Planner{db: db, queue: queue, cfg: cfg, log: log, lockKey: lockKey, providers: providers}
}

// Tick runs one reconciliation cycle under the advisory lock: enumerate
// the desired schedule, diff against JobScheduleState, and publish every
// row whose nextRunAt has arrived (subject to maintenance-window gating).
func (p *Planner) Tick(ctx context.Context) error {
	return p.db.WithAdvisoryLock(ctx, p.lockKey, func(ctx context.Context) error {
		providers, err := p.providers.ListActive(ctx, p.cfg.UseOnlyApprovedProviders)
		if err != nil {
			return fmt.Errorf("planner: list active providers: %w", err)
		}

		now := time.Now().UTC()

		if err := p.reconcile(ctx, providers, now); err != nil {
			return err
		}

		return p.publishDue(ctx, now)
	})
}

// reconcile upserts JobScheduleState for every (family, active SP) pair
// and deletes rows for SPs no longer present.
func (p *Planner) reconcile(ctx context.Context, providers []domain.StorageProvider, now time.Time) error {
	desired := make(map[string]bool, len(providers)*len(families))

	for _, sp := range providers {
		for _, family := range families {
			key := sp.Address
			name := string(family)
			desired[name+"\x00"+key] = true

			expr := staggeredCronExpr(familyInterval(p.cfg, family), familyOffset(p.cfg, family), sp.Address, family)
			sched, err := parseSchedule(expr)
			if err != nil {
				return err
			}

			var existingCron string
			row := p.db.QueryRow(ctx, `SELECT cron FROM job_schedule_state WHERE name = $1 AND key = $2`, name, key)
			scanErr := row.Scan(&existingCron)

			if scanErr != nil {
				nextRun := sched.Next(now)
				if err := p.db.Exec(ctx, `
					INSERT INTO job_schedule_state (name, key, cron, next_run_at, payload)
					VALUES ($1, $2, $3, $4, '{}'::jsonb)
				`, name, key, expr, nextRun); err != nil {
					return fmt.Errorf("planner: insert schedule %s/%s: %w", name, key, err)
				}
				continue
			}

			if existingCron != expr {
				nextRun := sched.Next(now)
				if err := p.db.Exec(ctx, `
					UPDATE job_schedule_state SET cron = $3, next_run_at = $4 WHERE name = $1 AND key = $2
				`, name, key, expr, nextRun); err != nil {
					return fmt.Errorf("planner: update schedule %s/%s: %w", name, key, err)
				}
			}
		}
	}

	rows, err := p.db.Query(ctx, `SELECT name, key FROM job_schedule_state`)
	if err != nil {
		return fmt.Errorf("planner: list schedule state: %w", err)
	}
	var toDelete [][2]string
	for rows.Next() {
		var name, key string
		if err := rows.Scan(&name, &key); err != nil {
			rows.Close()
			return err
		}
		if !desired[name+"\x00"+key] {
			toDelete = append(toDelete, [2]string{name, key})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, nk := range toDelete {
		if err := p.db.Exec(ctx, `DELETE FROM job_schedule_state WHERE name = $1 AND key = $2`, nk[0], nk[1]); err != nil {
			return fmt.Errorf("planner: delete stale schedule %s/%s: %w", nk[0], nk[1], err)
		}
	}

	return nil
}

// publishDue publishes a WorkItem for every JobScheduleState row whose
// nextRunAt has arrived, advancing nextRunAt by one cron period. A row
// falling inside a maintenance window is skipped entirely (not even
// advanced), so it is retried on the next tick.
func (p *Planner) publishDue(ctx context.Context, now time.Time) error {
	rows, err := p.db.Query(ctx, `SELECT name, key, cron, next_run_at FROM job_schedule_state WHERE next_run_at <= $1`, now)
	if err != nil {
		return fmt.Errorf("planner: list due schedules: %w", err)
	}

	type due struct {
		name, key, cron string
		nextRunAt       time.Time
	}
	var dueRows []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.name, &d.key, &d.cron, &d.nextRunAt); err != nil {
			rows.Close()
			return err
		}
		dueRows = append(dueRows, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if window, skip := config.InAnyWindow(p.cfg.MaintenanceWindowsUTC, now); skip {
		p.log.WithField("window_start_utc", window.StartUTC).WithField("window_minutes", window.Minutes).
			Info("planner: skipping publish, inside maintenance window")
		return nil
	}

	for _, d := range dueRows {
		sched, err := parseSchedule(d.cron)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{"name": d.name, "key": d.key}).Warn("planner: invalid stored cron, skipping")
			continue
		}

		queue := familyQueue(domain.JobFamily(d.name))
		singletonKey := d.name + ":" + d.key
		if _, err := p.queue.Publish(ctx, queue, d.key, singletonKey, map[string]string{"family": d.name, "sp": d.key}, 5); err != nil {
			return fmt.Errorf("planner: publish %s: %w", singletonKey, err)
		}

		nextRun := sched.Next(now)
		if err := p.db.Exec(ctx, `UPDATE job_schedule_state SET next_run_at = $3 WHERE name = $1 AND key = $2`, d.name, d.key, nextRun); err != nil {
			return fmt.Errorf("planner: advance next_run_at %s/%s: %w", d.name, d.key, err)
		}
	}

	return nil
}
