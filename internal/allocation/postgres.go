package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"contribledger/pkg/domain"
)

// Querier is the subset of *pgxpool.Pool the directory needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a small pool for read-only directory lookups.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse allocations dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect allocations: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping allocations: %w", err)
	}
	return pool, nil
}

const selectAllocation = `SELECT handle, wallet_address, cap FROM allocations WHERE handle=$1`

// PostgresDirectory resolves allocations from the allocations table. Found
// records are cached for the life of the directory since the table is
// reference data.
type PostgresDirectory struct {
	db    Querier
	cache sync.Map // handle -> domain.AllocationRecord
}

// NewPostgresDirectory wraps db.
func NewPostgresDirectory(db Querier) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// ResolveAllocation implements core.AllocationDirectory.
func (d *PostgresDirectory) ResolveAllocation(ctx context.Context, handle string) (domain.AllocationRecord, bool, error) {
	handle = domain.NormalizeHandle(handle)
	if cached, ok := d.cache.Load(handle); ok {
		return cached.(domain.AllocationRecord), true, nil
	}
	var rec domain.AllocationRecord
	err := d.db.QueryRow(ctx, selectAllocation, handle).Scan(&rec.Handle, &rec.WalletAddress, &rec.Cap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AllocationRecord{}, false, nil
		}
		return domain.AllocationRecord{}, false, fmt.Errorf("query allocation %s: %w", handle, err)
	}
	rec.Handle = domain.NormalizeHandle(rec.Handle)
	d.cache.Store(handle, rec)
	return rec, true, nil
}
