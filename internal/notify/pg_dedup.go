package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PGDedup claims keys in the notification_dedup table. An expired row is
// reclaimed in the same statement.
type PGDedup struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGDedup creates a Postgres-backed store.
func NewPGDedup(db *sql.DB) *PGDedup {
	return &PGDedup{db: db, now: time.Now}
}

const claimSQL = `
	INSERT INTO notification_dedup (dedup_key, expires_at)
	VALUES ($1, $2)
	ON CONFLICT (dedup_key) DO UPDATE SET expires_at = EXCLUDED.expires_at
	WHERE notification_dedup.expires_at <= $3
	RETURNING dedup_key`

func (p *PGDedup) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := p.now().UTC()
	var claimed string
	err := p.db.QueryRowContext(ctx, claimSQL, key, now.Add(ttl), now).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key %s: %w", key, err)
	}
	return true, nil
}

// Purge deletes expired rows.
func (p *PGDedup) Purge(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM notification_dedup WHERE expires_at <= $1`, p.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
