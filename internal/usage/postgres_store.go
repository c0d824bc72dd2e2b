package usage

import (
	"context"
	"database/sql"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed usage store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the usage_counters table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS usage_counters (
			user_id    VARCHAR(128) NOT NULL,
			kind       VARCHAR(16)  NOT NULL,
			period_key VARCHAR(32)  NOT NULL,
			count      BIGINT       NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ  DEFAULT NOW(),
			PRIMARY KEY (user_id, kind, period_key)
		);
		CREATE INDEX IF NOT EXISTS idx_usage_counters_period ON usage_counters(kind, period_key);
	`)
	return err
}

// Increment atomically bumps the counter and returns the new count. The
// upsert keeps concurrent increments for the same user from losing updates.
func (p *PostgresStore) Increment(ctx context.Context, userID string, kind Kind, period string) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO usage_counters (user_id, kind, period_key, count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (user_id, kind, period_key)
		DO UPDATE SET count = usage_counters.count + 1, updated_at = NOW()
		RETURNING count
	`, userID, string(kind), period).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) Get(ctx context.Context, userID string, kind Kind, period string) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `
		SELECT count FROM usage_counters
		WHERE user_id = $1 AND kind = $2 AND period_key = $3
	`, userID, string(kind), period).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) TotalForPeriod(ctx context.Context, kind Kind, period string) (int64, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM usage_counters
		WHERE kind = $1 AND period_key = $2
	`, string(kind), period).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage for period: %w", err)
	}
	return total, nil
}
