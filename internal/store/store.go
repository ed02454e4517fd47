// Package store is the SQL-backed scheduling and dedup ledger:
// feed_groups (per-group scheduling state), feed_items (per-item dedup
// keys), and failures (failure counters and rendered error text). The
// per-group claim is a single atomic statement so that two overlapping
// cycles racing on the same group see exactly one winner.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedrelay/feedrelay/internal/hashid"
)

// Store wraps the shared connection pool used by every per-group
// transaction.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres, tuning the pool the way a long-running
// background service should: small idle floor, a ceiling sized for
// the group fan-out, and a short connect-time ping so startup fails
// fast rather than hanging.
func New(ctx context.Context, url string, maxConns int32) (*Store, error) {
	if !strings.Contains(url, "sslmode=") {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "sslmode=prefer"
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 20
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = 55 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping reports whether the pool can currently reach Postgres, used by
// the admin surface's /healthz.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS feed_groups (
		urls_hash     BYTEA PRIMARY KEY,
		criteria_hash BYTEA NOT NULL,
		last_check    TIMESTAMPTZ NOT NULL,
		last_update   TIMESTAMPTZ,
		last_seen     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS feed_items (
		urls_hash   BYTEA NOT NULL REFERENCES feed_groups(urls_hash) ON DELETE CASCADE,
		update_hash BYTEA NOT NULL,
		last_seen   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (urls_hash, update_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS failures (
		urls_hash  BYTEA PRIMARY KEY,
		fail_count INT NOT NULL,
		error      TEXT NOT NULL,
		fail_time  TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the schema if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// ClaimStatus is the scheduler's verdict for a group in the current
// cycle.
type ClaimStatus int

const (
	// StatusWait means the group's wait window has not elapsed; no
	// claim was made.
	StatusWait ClaimStatus = iota
	// StatusNew means this is the first-ever observation of this
	// urls_hash.
	StatusNew
	// StatusUpdate means the group existed, its wait window had
	// elapsed, and this cycle successfully claimed it.
	StatusUpdate
	// StatusNewCriteria means the group existed and was claimed, but
	// its criteria_hash differs from the persisted value: the item
	// dedup ledger for this urls_hash must be reset.
	StatusNewCriteria
)

func (s ClaimStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusUpdate:
		return "update"
	case StatusNewCriteria:
		return "new-criteria"
	default:
		return "wait"
	}
}

// IsDigestTrigger reports whether this status alone forces digest
// mode (spec §4.5: new and new-criteria both prefer digest mode).
func (s ClaimStatus) IsDigestTrigger() bool {
	return s == StatusNew || s == StatusNewCriteria
}

// SaturatingSub computes now - d, clamped to never go below the UNIX
// epoch, matching the "saturating subtraction" cutoff rule.
func SaturatingSub(now time.Time, d time.Duration) time.Time {
	cutoff := now.Add(-d)
	if cutoff.Before(time.Unix(0, 0).UTC()) {
		return time.Unix(0, 0).UTC()
	}
	return cutoff
}

// Tx wraps one per-group transaction: the Per-Group Worker performs
// every step from the scheduler claim through the final commit inside
// the same Tx so a mid-cycle crash leaves the ledger consistent.
type Tx struct {
	tx pgx.Tx
}

// Begin starts a new per-group transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

// Rollback aborts the transaction. Safe to call after Commit (no-op).
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && err != pgx.ErrTxClosed {
		return err
	}
	return nil
}

// Claim performs the atomic per-group scheduling decision: upsert
// (urls_hash, last_check=now, last_seen=now, criteria_hash=criteriaHash),
// updating last_check only if the existing value is older than
// updateCutoff, and reporting new/update/wait plus whether the
// group's criteria changed.
func (t *Tx) Claim(ctx context.Context, urlsHash, criteriaHash hashid.Digest, now, updateCutoff time.Time) (ClaimStatus, error) {
	const q = `
INSERT INTO feed_groups (urls_hash, criteria_hash, last_check, last_seen)
VALUES ($1, $2, $3, $3)
ON CONFLICT (urls_hash) DO UPDATE
	SET last_check = CASE WHEN feed_groups.last_check < $4 THEN $3 ELSE feed_groups.last_check END,
	    last_seen = $3,
	    criteria_hash = CASE WHEN feed_groups.last_check < $4 THEN $2 ELSE feed_groups.criteria_hash END
RETURNING (xmax = 0) AS inserted,
          last_check = $3 AS claimed
`
	// criteria_hash is only overwritten when this call actually claims
	// the cycle (same condition as last_check), so a "wait" result never
	// clobbers the stored criteria_hash a later, genuinely-due cycle
	// needs to compare against. Read the prior value first.
	var priorCriteria []byte
	err := t.tx.QueryRow(ctx, `SELECT criteria_hash FROM feed_groups WHERE urls_hash = $1`, urlsHash[:]).Scan(&priorCriteria)
	hadPrior := err == nil
	if err != nil && err != pgx.ErrNoRows {
		return StatusWait, fmt.Errorf("read prior criteria_hash: %w", err)
	}

	var inserted, claimed bool
	row := t.tx.QueryRow(ctx, q, urlsHash[:], criteriaHash[:], now, updateCutoff)
	if err := row.Scan(&inserted, &claimed); err != nil {
		return StatusWait, fmt.Errorf("claim group: %w", err)
	}

	switch {
	case inserted:
		return StatusNew, nil
	case !claimed:
		return StatusWait, nil
	case hadPrior && !bytesEqual(priorCriteria, criteriaHash[:]):
		return StatusNewCriteria, nil
	default:
		return StatusUpdate, nil
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TouchLiveness updates last_seen independently of the claim, at the
// start of each per-group cycle.
func (s *Store) TouchLiveness(ctx context.Context, urlsHash hashid.Digest, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE feed_groups SET last_seen = $2 WHERE urls_hash = $1`, urlsHash[:], now)
	return err
}

// ResetItems deletes every feed_items row for urls_hash, used when a
// claim classifies as new-criteria so the dedup ledger restarts clean.
func (t *Tx) ResetItems(ctx context.Context, urlsHash hashid.Digest) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM feed_items WHERE urls_hash = $1`, urlsHash[:])
	return err
}

// UpsertItem inserts (urls_hash, update_hash) if absent, or refreshes
// last_seen if present, reporting whether this was a fresh insert.
func (t *Tx) UpsertItem(ctx context.Context, urlsHash, updateHash hashid.Digest, now time.Time) (isNew bool, err error) {
	const q = `
INSERT INTO feed_items (urls_hash, update_hash, last_seen)
VALUES ($1, $2, $3)
ON CONFLICT (urls_hash, update_hash) DO UPDATE SET last_seen = $3
RETURNING (xmax = 0) AS inserted
`
	err = t.tx.QueryRow(ctx, q, urlsHash[:], updateHash[:], now).Scan(&isNew)
	return isNew, err
}

// SetLastUpdate records that mails were sent this cycle.
func (t *Tx) SetLastUpdate(ctx context.Context, urlsHash hashid.Digest, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE feed_groups SET last_update = $2 WHERE urls_hash = $1`, urlsHash[:], now)
	return err
}

// ClearFailure deletes the group's failure row on success (recovery).
func (t *Tx) ClearFailure(ctx context.Context, urlsHash hashid.Digest) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM failures WHERE urls_hash = $1`, urlsHash[:])
	return err
}

// DeleteStaleItems removes items last seen before the retention
// cutoff, for this group.
func (t *Tx) DeleteStaleItems(ctx context.Context, urlsHash hashid.Digest, cutoff time.Time) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM feed_items WHERE urls_hash = $1 AND last_seen < $2`, urlsHash[:], cutoff)
	return err
}

// RecordFailure upserts the group's failure counter outside any
// per-group transaction (it runs at the task boundary, after a
// rollback).
func (s *Store) RecordFailure(ctx context.Context, urlsHash hashid.Digest, errText string, now time.Time) error {
	const q = `
INSERT INTO failures (urls_hash, fail_count, error, fail_time)
VALUES ($1, 1, $2, $3)
ON CONFLICT (urls_hash) DO UPDATE
	SET fail_count = failures.fail_count + 1, error = $2, fail_time = $3
`
	_, err := s.pool.Exec(ctx, q, urlsHash[:], errText, now)
	return err
}

// Failure is one row of the failures table.
type Failure struct {
	URLsHash  hashid.Digest
	FailCount int
	Error     string
	FailTime  time.Time
}

// FailCount returns the current fail_count for urls_hash, or 0 if the
// group has no failure row. The worker uses this to extend a group's
// wait window exponentially while it keeps failing, the way the
// original implementation's try_check_feed_group backs off a
// persistently-down feed instead of hammering it every cycle.
func (s *Store) FailCount(ctx context.Context, urlsHash hashid.Digest) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT fail_count FROM failures WHERE urls_hash = $1`, urlsHash[:]).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// FailingGroups returns groups with fail_count >= minCount (spec:
// "currently failing" uses a threshold of 2).
func (s *Store) FailingGroups(ctx context.Context, minCount int) ([]Failure, error) {
	rows, err := s.pool.Query(ctx, `SELECT urls_hash, fail_count, error, fail_time FROM failures WHERE fail_count >= $1`, minCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var h []byte
		if err := rows.Scan(&h, &f.FailCount, &f.Error, &f.FailTime); err != nil {
			return nil, err
		}
		copy(f.URLsHash[:], h)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteStaleGroups removes groups not observed in the live config
// since before the retention cutoff; feed_items cascade.
func (s *Store) DeleteStaleGroups(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM feed_groups WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteStaleFailures removes failure rows older than the retention
// cutoff.
func (s *Store) DeleteStaleFailures(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM failures WHERE fail_time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
