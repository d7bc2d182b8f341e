package bonus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tidegate/internal/clock"
	"tidegate/internal/models"
)

// PostgresStore is a Store backed by PostgreSQL, for multi-instance
// deployments. Lifecycle transitions are conditional UPDATE ... RETURNING
// statements, so two instances racing on the same token resolve to exactly
// one winner at the database.
type PostgresStore struct {
	pool     *pgxpool.Pool
	ts       clock.TimeSource
	cooldown time.Duration
	tokenTTL time.Duration
}

// NewPostgresStore connects to the database at dsn and ensures the schema
// exists.
func NewPostgresStore(dsn string, ts clock.TimeSource, cooldown, tokenTTL time.Duration) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DSN is required for PostgreSQL bonus store")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, ts: ts, cooldown: cooldown, tokenTTL: tokenTTL}
	if err := s.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bonus_tokens (
			token TEXT PRIMARY KEY,
			owner_device TEXT NOT NULL,
			origin_ip TEXT NOT NULL DEFAULT '',
			issued_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			claimed_at TIMESTAMPTZ,
			consumed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_bonus_tokens_device_issued
			ON bonus_tokens (owner_device, issued_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Issue implements Store. The cooldown check and the insert run inside one
// transaction holding a per-device advisory lock, so concurrent issuance for
// the same device serializes across instances; the lock releases at commit
// or rollback.
func (s *PostgresStore) Issue(ctx context.Context, deviceID, originIP string) (*models.BonusToken, error) {
	now := s.ts.Now()
	token := models.NewBonusToken(deviceID, originIP, now, s.tokenTTL)
	windowStart := now.Add(-s.cooldown)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin issuance: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, deviceID); err != nil {
		return nil, fmt.Errorf("failed to lock device for issuance: %w", err)
	}

	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO bonus_tokens (token, owner_device, origin_ip, issued_at, expires_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM bonus_tokens WHERE owner_device = $2 AND issued_at > $6
		)
		RETURNING true`,
		token.Token, token.OwnerDevice, token.OriginIP,
		token.IssuedAt, token.ExpiresAt, windowStart,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCooldownActive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit issuance: %w", err)
	}
	return token, nil
}

// CooldownRemaining implements Store.
func (s *PostgresStore) CooldownRemaining(ctx context.Context, deviceID string) (int, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(issued_at) FROM bonus_tokens WHERE owner_device = $1`, deviceID,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to query last issuance: %w", err)
	}
	if last == nil {
		return 0, nil
	}
	return minutesUntil(s.ts.Now(), last.Add(s.cooldown)), nil
}

// Claim implements Store.
func (s *PostgresStore) Claim(ctx context.Context, token, deviceID string) error {
	now := s.ts.Now()

	var claimed bool
	err := s.pool.QueryRow(ctx, `
		UPDATE bonus_tokens SET claimed_at = $1
		WHERE token = $2 AND owner_device = $3 AND claimed_at IS NULL AND expires_at > $1
		RETURNING true`,
		now, token, deviceID,
	).Scan(&claimed)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to claim token: %w", err)
	}
	return s.classifyClaimFailure(ctx, token, deviceID, now)
}

func (s *PostgresStore) classifyClaimFailure(ctx context.Context, token, deviceID string, now time.Time) error {
	var expiresAt time.Time
	var claimedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT expires_at, claimed_at FROM bonus_tokens WHERE token = $1 AND owner_device = $2`,
		token, deviceID,
	).Scan(&expiresAt, &claimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect token: %w", err)
	}
	if !now.Before(expiresAt) {
		return ErrExpired
	}
	if claimedAt != nil {
		return ErrAlreadyClaimed
	}
	return ErrNotFound
}

// TryConsume implements Store.
func (s *PostgresStore) TryConsume(ctx context.Context, token, deviceID string) (bool, error) {
	now := s.ts.Now()

	var consumed bool
	err := s.pool.QueryRow(ctx, `
		UPDATE bonus_tokens SET consumed_at = $1
		WHERE token = $2 AND owner_device = $3
		  AND claimed_at IS NOT NULL AND consumed_at IS NULL AND expires_at > $1
		RETURNING true`,
		now, token, deviceID,
	).Scan(&consumed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume token: %w", err)
	}
	return true, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
