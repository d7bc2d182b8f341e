package bonus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tidegate/internal/clock"
	"tidegate/internal/models"
)

// SQLiteStore is a Store backed by a SQLite database file. Lifecycle
// transitions use conditional updates so concurrent claim/consume attempts
// resolve to exactly one winner.
//
// Timestamps are stored as unix nanoseconds so comparisons stay exact and
// independent of any driver time-format convention.
type SQLiteStore struct {
	db       *sql.DB
	ts       clock.TimeSource
	cooldown time.Duration
	tokenTTL time.Duration
}

// NewSQLiteStore opens (or creates) the database at dsn and ensures the
// schema exists.
func NewSQLiteStore(dsn string, ts clock.TimeSource, cooldown, tokenTTL time.Duration) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DSN is required for SQLite bonus store")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes per connection; keep a single one so
	// conditional updates never hit SQLITE_BUSY from our own pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db, ts: ts, cooldown: cooldown, tokenTTL: tokenTTL}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bonus_tokens (
			token TEXT PRIMARY KEY,
			owner_device TEXT NOT NULL,
			origin_ip TEXT NOT NULL DEFAULT '',
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			claimed_at INTEGER,
			consumed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_bonus_tokens_device_issued
			ON bonus_tokens (owner_device, issued_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Issue implements Store. The cooldown check and insert run as one guarded
// INSERT ... SELECT so two concurrent issuances for a device cannot both
// succeed.
func (s *SQLiteStore) Issue(ctx context.Context, deviceID, originIP string) (*models.BonusToken, error) {
	now := s.ts.Now()
	token := models.NewBonusToken(deviceID, originIP, now, s.tokenTTL)
	windowStart := now.Add(-s.cooldown)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bonus_tokens (token, owner_device, origin_ip, issued_at, expires_at)
		SELECT ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM bonus_tokens WHERE owner_device = ? AND issued_at > ?
		)`,
		token.Token, token.OwnerDevice, token.OriginIP,
		token.IssuedAt.UnixNano(), token.ExpiresAt.UnixNano(),
		deviceID, windowStart.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read issue result: %w", err)
	}
	if affected == 0 {
		return nil, ErrCooldownActive
	}
	return token, nil
}

// CooldownRemaining implements Store.
func (s *SQLiteStore) CooldownRemaining(ctx context.Context, deviceID string) (int, error) {
	var lastNanos sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(issued_at) FROM bonus_tokens WHERE owner_device = ?`, deviceID,
	).Scan(&lastNanos)
	if err != nil {
		return 0, fmt.Errorf("failed to query last issuance: %w", err)
	}
	if !lastNanos.Valid {
		return 0, nil
	}
	last := time.Unix(0, lastNanos.Int64)
	return minutesUntil(s.ts.Now(), last.Add(s.cooldown)), nil
}

// Claim implements Store. The transition itself is a single conditional
// update; the preceding select only classifies failures.
func (s *SQLiteStore) Claim(ctx context.Context, token, deviceID string) error {
	now := s.ts.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bonus_tokens SET claimed_at = ?
		WHERE token = ? AND owner_device = ? AND claimed_at IS NULL AND expires_at > ?`,
		now.UnixNano(), token, deviceID, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to claim token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 1 {
		return nil
	}
	return s.classifyClaimFailure(ctx, token, deviceID, now)
}

func (s *SQLiteStore) classifyClaimFailure(ctx context.Context, token, deviceID string, now time.Time) error {
	var expiresNanos int64
	var claimedNanos sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at, claimed_at FROM bonus_tokens WHERE token = ? AND owner_device = ?`,
		token, deviceID,
	).Scan(&expiresNanos, &claimedNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect token: %w", err)
	}
	if now.UnixNano() >= expiresNanos {
		return ErrExpired
	}
	if claimedNanos.Valid {
		return ErrAlreadyClaimed
	}
	return ErrNotFound
}

// TryConsume implements Store.
func (s *SQLiteStore) TryConsume(ctx context.Context, token, deviceID string) (bool, error) {
	now := s.ts.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bonus_tokens SET consumed_at = ?
		WHERE token = ? AND owner_device = ?
		  AND claimed_at IS NOT NULL AND consumed_at IS NULL AND expires_at > ?`,
		now.UnixNano(), token, deviceID, now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read consume result: %w", err)
	}
	return affected == 1, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
