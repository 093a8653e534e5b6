package chaingw

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/spprobe/dbx"
	"github.com/evalgo/spprobe/domain"
)

type providerPage struct {
	Providers []domain.StorageProvider `json:"providers"`
}

func (s *SDK) GetProvider(ctx context.Context, providerID int64) (domain.StorageProvider, error) {
	var sp domain.StorageProvider
	if err := s.raw.Call(ctx, "registry_getProvider", providerID, &sp); err != nil {
		return domain.StorageProvider{}, fmt.Errorf("chaingw: get provider %d: %w", providerID, err)
	}
	return sp, nil
}

// GetAllActiveProviders paginates the registry's active-provider listing
// in batches of maxBatch (spec.md §4.6); inactive provider ids are not read.
func (s *SDK) GetAllActiveProviders(ctx context.Context) ([]domain.StorageProvider, error) {
	count, err := s.GetProviderCount(ctx)
	if err != nil {
		return nil, err
	}

	var all []domain.StorageProvider
	for offset := int64(0); offset < count; offset += maxBatch {
		limit := maxBatch
		if remaining := count - offset; remaining < int64(limit) {
			limit = int(remaining)
		}
		var page providerPage
		if err := s.raw.Call(ctx, "registry_listActiveProviders", map[string]interface{}{
			"offset": offset, "limit": limit,
		}, &page); err != nil {
			return nil, fmt.Errorf("chaingw: list active providers offset=%d: %w", offset, err)
		}
		all = append(all, page.Providers...)
	}
	return all, nil
}

// Registry syncs the SP table from the chain gateway into storage_providers,
// applying the active-beats-inactive / highest-providerId dedup rule
// (domain.MergeProviders) before upserting.
type Registry struct {
	client Client
	db     *dbx.DB
	log    *logrus.Entry
}

// NewRegistry builds a Registry.
func NewRegistry(client Client, db *dbx.DB, log *logrus.Entry) *Registry {
	return &Registry{client: client, db: db, log: log}
}

// Sync loads the active provider set from the chain, deduplicates it, and
// upserts every resulting row; rows absent from the chain read are
// soft-deactivated rather than deleted, per the StorageProvider lifecycle
// (§3).
func (r *Registry) Sync(ctx context.Context) error {
	raw, err := r.client.GetAllActiveProviders(ctx)
	if err != nil {
		return fmt.Errorf("chaingw: sync: fetch active providers: %w", err)
	}

	merged := domain.MergeProviders(raw, func(kept, dropped domain.StorageProvider) {
		r.log.WithFields(logrus.Fields{
			"address":         kept.Address,
			"kept_provider":   kept.ProviderID,
			"dropped_provider": dropped.ProviderID,
		}).Warn("chaingw: duplicate storage provider address, keeping higher-priority record")
	})

	seen := make(map[string]bool, len(merged))
	for _, sp := range merged {
		seen[sp.Address] = true
		if err := r.upsert(ctx, sp); err != nil {
			return err
		}
	}

	return r.deactivateMissing(ctx, seen)
}

func (r *Registry) upsert(ctx context.Context, sp domain.StorageProvider) error {
	err := r.db.Exec(ctx, `
		INSERT INTO storage_providers (address, provider_id, service_url, active, approved, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, '{}'::jsonb, now())
		ON CONFLICT (address) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			service_url = EXCLUDED.service_url,
			active      = EXCLUDED.active,
			approved    = EXCLUDED.approved,
			updated_at  = now()
	`, sp.Address, sp.ProviderID, sp.ServiceURL, sp.Active, sp.Approved)
	if err != nil {
		return fmt.Errorf("chaingw: upsert provider %s: %w", sp.Address, err)
	}
	return nil
}

func (r *Registry) deactivateMissing(ctx context.Context, seen map[string]bool) error {
	rows, err := r.db.Query(ctx, `SELECT address FROM storage_providers WHERE active`)
	if err != nil {
		return fmt.Errorf("chaingw: list active rows for deactivation sweep: %w", err)
	}
	var toDeactivate []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			rows.Close()
			return err
		}
		if !seen[address] {
			toDeactivate = append(toDeactivate, address)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, address := range toDeactivate {
		if err := r.db.Exec(ctx, `UPDATE storage_providers SET active = false, updated_at = now() WHERE address = $1`, address); err != nil {
			return fmt.Errorf("chaingw: deactivate %s: %w", address, err)
		}
	}
	return nil
}

// GetByAddress loads one persisted provider row by address, for callers
// (the worker pool's per-SP job handlers) that only have the address a
// scheduled WorkItem was keyed on.
func (r *Registry) GetByAddress(ctx context.Context, address string) (domain.StorageProvider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT address, provider_id, service_url, active, approved, updated_at
		FROM storage_providers WHERE address = $1
	`, address)

	var sp domain.StorageProvider
	if err := row.Scan(&sp.Address, &sp.ProviderID, &sp.ServiceURL, &sp.Active, &sp.Approved, &sp.UpdatedAt); err != nil {
		return domain.StorageProvider{}, fmt.Errorf("chaingw: get provider by address %s: %w", address, err)
	}
	return sp, nil
}

// ListActive satisfies planner.ActiveProviderLister directly from the
// persisted registry, so the planner never depends on chain liveness.
func (r *Registry) ListActive(ctx context.Context, approvedOnly bool) ([]domain.StorageProvider, error) {
	query := `SELECT address, provider_id, service_url, active, approved, updated_at FROM storage_providers WHERE active`
	if approvedOnly {
		query += ` AND approved`
	}

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chaingw: list active providers: %w", err)
	}
	defer rows.Close()

	var providers []domain.StorageProvider
	for rows.Next() {
		var sp domain.StorageProvider
		if err := rows.Scan(&sp.Address, &sp.ProviderID, &sp.ServiceURL, &sp.Active, &sp.Approved, &sp.UpdatedAt); err != nil {
			return nil, err
		}
		providers = append(providers, sp)
	}
	return providers, rows.Err()
}
