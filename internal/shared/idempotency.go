package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore reserves operation keys in idempotency_keys. A key stays
// reserved until Delete releases it or Cleanup ages it out.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// NormalizeIdempotencyKey trims and upper-cases a key so codes typed with
// different casing collide.
func NormalizeIdempotencyKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// CheckAndInsert reserves key for module. A key already held, by any module,
// yields ErrIdempotencyConflict naming the holder.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.pool == nil {
		return errors.New("idempotency store not initialised")
	}
	key = NormalizeIdempotencyKey(key)
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	var holder string
	err := s.pool.QueryRow(ctx, `WITH ins AS (
	INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)
	ON CONFLICT (key) DO NOTHING
	RETURNING module
)
SELECT module FROM idempotency_keys WHERE key = $1 AND NOT EXISTS (SELECT 1 FROM ins)`, key, module, s.now()).Scan(&holder)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("idempotency: reserve %s: %w", key, err)
	default:
		return fmt.Errorf("%w: %s held by %s", ErrIdempotencyConflict, key, holder)
	}
}

// Cleanup removes keys older than the retention window and reports how many
// were dropped.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	if olderThan <= 0 {
		return 0, errors.New("idempotency: retention must be positive")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete releases a key after the operation it guarded failed.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	key = NormalizeIdempotencyKey(key)
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}
