package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

// PostgresStore is the shared idempotency backend for multi-instance
// deployments: every API replica consults the same table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS idempotency_records (
	key TEXT PRIMARY KEY,
	status_code INT NOT NULL,
	body BYTEA NOT NULL,
	header JSONB NOT NULL DEFAULT '{}'::jsonb,
	completed_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at ON idempotency_records(expires_at);
`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute idempotency ddl: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT status_code, body, header, completed_at, expires_at
FROM idempotency_records
WHERE key = $1 AND expires_at > $2
`, key, now)

	var rec domain.IdempotencyRecord
	var headerRaw []byte
	err := row.Scan(&rec.StatusCode, &rec.Body, &headerRaw, &rec.CompletedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan idempotency record: %w", err)
	}
	if err := json.Unmarshal(headerRaw, &rec.Header); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency header: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, rec domain.IdempotencyRecord) error {
	headerJSON, err := json.Marshal(rec.Header)
	if err != nil {
		return fmt.Errorf("marshal idempotency header: %w", err)
	}

	// First completed writer wins; concurrent retries replaying the same key
	// must not overwrite the recorded response.
	_, err = s.db.ExecContext(ctx, `
INSERT INTO idempotency_records (key, status_code, body, header, completed_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (key) DO NOTHING
`, key, rec.StatusCode, rec.Body, headerJSON, rec.CompletedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Evict(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("evict idempotency records: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}
