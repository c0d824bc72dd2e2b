package entitlement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"deepsentinel/internal/tier"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed entitlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user_entitlements table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_entitlements (
			user_id    VARCHAR(64) PRIMARY KEY,
			tier       VARCHAR(20) NOT NULL,
			granted_at TIMESTAMPTZ NOT NULL,
			granted_by VARCHAR(64) NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_user_entitlements_tier ON user_entitlements(tier);
		CREATE INDEX IF NOT EXISTS idx_user_entitlements_active ON user_entitlements(active);
	`)
	return err
}

// Get retrieves a user's entitlement.
func (p *PostgresStore) Get(ctx context.Context, userID string) (*UserEntitlement, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_id, tier, granted_at, granted_by, expires_at, active
		FROM user_entitlements WHERE user_id = $1
	`, userID)

	e, err := scanEntitlement(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}
	return e, nil
}

// Upsert stores a user's entitlement, replacing any existing record.
func (p *PostgresStore) Upsert(ctx context.Context, e *UserEntitlement) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_entitlements (user_id, tier, granted_at, granted_by, expires_at, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			tier       = EXCLUDED.tier,
			granted_at = EXCLUDED.granted_at,
			granted_by = EXCLUDED.granted_by,
			expires_at = EXCLUDED.expires_at,
			active     = EXCLUDED.active,
			updated_at = NOW()
	`, e.UserID, string(e.Tier), e.GrantedAt, e.GrantedBy, nullTimePtr(e.ExpiresAt), e.Active)
	if err != nil {
		return fmt.Errorf("upsert entitlement: %w", err)
	}
	return nil
}

// ListByTier returns all entitlement records at the given tier, active or not.
func (p *PostgresStore) ListByTier(ctx context.Context, id tier.ID) ([]*UserEntitlement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, tier, granted_at, granted_by, expires_at, active
		FROM user_entitlements WHERE tier = $1
		ORDER BY granted_at
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list by tier: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*UserEntitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// CountActiveByTier counts unexpired active entitlements grouped by tier.
func (p *PostgresStore) CountActiveByTier(ctx context.Context, now time.Time) (map[tier.ID]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tier, COUNT(*) FROM user_entitlements
		WHERE active AND (expires_at IS NULL OR expires_at > $1)
		GROUP BY tier
	`, now)
	if err != nil {
		return nil, fmt.Errorf("count by tier: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[tier.ID]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[tier.ID(id)] = n
	}
	return counts, rows.Err()
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEntitlement(row scannable) (*UserEntitlement, error) {
	var e UserEntitlement
	var id string
	var expiresAt sql.NullTime

	if err := row.Scan(&e.UserID, &id, &e.GrantedAt, &e.GrantedBy, &expiresAt, &e.Active); err != nil {
		return nil, err
	}

	e.Tier = tier.ID(id)
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	return &e, nil
}

// nullTimePtr returns a sql.NullTime: valid if t is non-nil, null otherwise.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
