// Package ledger persists the per-(email, stage) outcome records that
// make pipeline side effects at-most-once, plus an archive of fetched
// emails and generated drafts for the UI collaborator.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mailpilot/internal/domain"

	_ "modernc.org/sqlite"
)

// Store implements domain.Ledger on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_records (
		email_id     TEXT NOT NULL,
		stage        TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		last_attempt DATETIME,
		external_id  TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (email_id, stage)
	);
	CREATE INDEX IF NOT EXISTS idx_records_outcome ON pipeline_records(outcome, last_attempt);

	CREATE TABLE IF NOT EXISTS emails (
		id          TEXT PRIMARY KEY,
		thread_id   TEXT,
		sender      TEXT,
		subject     TEXT,
		body        TEXT,
		received_at DATETIME,
		fetched_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at);

	CREATE TABLE IF NOT EXISTS responses (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		email_id    TEXT NOT NULL REFERENCES emails(id),
		content     TEXT NOT NULL,
		model       TEXT,
		temperature REAL,
		max_tokens  INTEGER,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_responses_email ON responses(email_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the ledger record for (emailID, stage), or nil when
// absent.
func (s *Store) Get(ctx context.Context, emailID string, stage domain.Stage) (*domain.PipelineRecord, error) {
	rec := domain.PipelineRecord{EmailID: emailID, Stage: stage}
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT outcome, attempts, last_attempt, external_id, error
		 FROM pipeline_records WHERE email_id = ? AND stage = ?`,
		emailID, stage,
	).Scan(&rec.Outcome, &rec.Attempts, &last, &rec.ExternalID, &rec.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		rec.LastAttempt = last.Time
	}
	return &rec, nil
}

// BeginAttempt moves the record to pending and bumps the attempt
// counter. Frozen records (succeeded, failed-terminal) are never
// touched; the caller gets ErrStageSettled and must not execute the
// stage.
func (s *Store) BeginAttempt(ctx context.Context, emailID string, stage domain.Stage) (*domain.PipelineRecord, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_records (email_id, stage, outcome, attempts, last_attempt)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(email_id, stage) DO UPDATE SET
		   outcome = excluded.outcome,
		   attempts = pipeline_records.attempts + 1,
		   last_attempt = excluded.last_attempt
		 WHERE pipeline_records.outcome IN (?, ?)`,
		emailID, stage, domain.OutcomePending, now,
		domain.OutcomePending, domain.OutcomeFailedRetryable,
	)
	if err != nil {
		return nil, fmt.Errorf("begin attempt %s/%s: %w", emailID, stage, err)
	}

	rec, err := s.Get(ctx, emailID, stage)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("begin attempt %s/%s: record vanished", emailID, stage)
	}
	if rec.Outcome.Settled() {
		return rec, domain.ErrStageSettled
	}
	return rec, nil
}

// MarkSucceeded freezes the record as succeeded. Only pending and
// failed-retryable records can transition; anything else is a bug in
// the caller and is rejected to keep the ledger forward-only.
func (s *Store) MarkSucceeded(ctx context.Context, emailID string, stage domain.Stage, externalID string) error {
	return s.transition(ctx, emailID, stage, domain.OutcomeSucceeded, externalID, "")
}

// MarkFailed records a retryable or terminal failure.
func (s *Store) MarkFailed(ctx context.Context, emailID string, stage domain.Stage, outcome domain.StageOutcome, cause string) error {
	if outcome != domain.OutcomeFailedRetryable && outcome != domain.OutcomeFailedTerminal {
		return fmt.Errorf("mark failed %s/%s: %w: %s is not a failure outcome", emailID, stage, domain.ErrInvalidTransition, outcome)
	}
	return s.transition(ctx, emailID, stage, outcome, "", cause)
}

func (s *Store) transition(ctx context.Context, emailID string, stage domain.Stage, to domain.StageOutcome, externalID, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_records
		 SET outcome = ?, last_attempt = ?, external_id = CASE WHEN ? != '' THEN ? ELSE external_id END, error = ?
		 WHERE email_id = ? AND stage = ? AND outcome IN (?, ?)`,
		to, time.Now().UTC(), externalID, externalID, cause,
		emailID, stage,
		domain.OutcomePending, domain.OutcomeFailedRetryable,
	)
	if err != nil {
		return fmt.Errorf("transition %s/%s to %s: %w", emailID, stage, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		cur, err := s.Get(ctx, emailID, stage)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("transition %s/%s to %s: %w: no record", emailID, stage, to, domain.ErrInvalidTransition)
		}
		return fmt.Errorf("transition %s/%s from %s to %s: %w", emailID, stage, cur.Outcome, to, domain.ErrInvalidTransition)
	}
	return nil
}

// StageCounts returns outcome counts per stage for the status command.
func (s *Store) StageCounts(ctx context.Context) (map[domain.Stage]map[domain.StageOutcome]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, outcome, COUNT(*) FROM pipeline_records GROUP BY stage, outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Stage]map[domain.StageOutcome]int)
	for rows.Next() {
		var stage domain.Stage
		var outcome domain.StageOutcome
		var n int
		if err := rows.Scan(&stage, &outcome, &n); err != nil {
			return nil, err
		}
		if counts[stage] == nil {
			counts[stage] = make(map[domain.StageOutcome]int)
		}
		counts[stage][outcome] = n
	}
	return counts, rows.Err()
}

// RecentFailures lists the most recent terminal failures.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]domain.PipelineRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT email_id, stage, outcome, attempts, last_attempt, external_id, error
		 FROM pipeline_records WHERE outcome = ?
		 ORDER BY last_attempt DESC LIMIT ?`,
		domain.OutcomeFailedTerminal, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PipelineRecord
	for rows.Next() {
		var rec domain.PipelineRecord
		var last sql.NullTime
		if err := rows.Scan(&rec.EmailID, &rec.Stage, &rec.Outcome, &rec.Attempts, &last, &rec.ExternalID, &rec.Error); err != nil {
			return nil, err
		}
		if last.Valid {
			rec.LastAttempt = last.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
