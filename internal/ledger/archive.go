package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mailpilot/internal/domain"
)

// SaveEmail archives a fetched email. Re-fetching the same provider id
// is a no-op; the email is immutable once stored.
func (s *Store) SaveEmail(ctx context.Context, e domain.Email) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO emails (id, thread_id, sender, subject, body, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ThreadID, e.Sender, e.Subject, e.Body, e.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("save email %s: %w", e.ID, err)
	}
	return nil
}

// SaveDraft archives a generated reply for later human review.
func (s *Store) SaveDraft(ctx context.Context, d domain.DraftResponse) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (email_id, content, model, temperature, max_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.EmailID, d.Text, d.Model, d.Temperature, d.MaxTokens, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save draft for %s: %w", d.EmailID, err)
	}
	return nil
}

// ListEmails returns the most recently received archived emails.
func (s *Store) ListEmails(ctx context.Context, limit int) ([]domain.Email, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, sender, subject, body, received_at
		 FROM emails ORDER BY received_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Email
	for rows.Next() {
		var e domain.Email
		var received sql.NullTime
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.Sender, &e.Subject, &e.Body, &received); err != nil {
			return nil, err
		}
		if received.Valid {
			e.ReceivedAt = received.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestDraft returns the newest archived draft for an email, or nil.
func (s *Store) LatestDraft(ctx context.Context, emailID string) (*domain.DraftResponse, error) {
	var d domain.DraftResponse
	err := s.db.QueryRowContext(ctx,
		`SELECT email_id, content, model, temperature, max_tokens, created_at
		 FROM responses WHERE email_id = ? ORDER BY created_at DESC LIMIT 1`,
		emailID,
	).Scan(&d.EmailID, &d.Text, &d.Model, &d.Temperature, &d.MaxTokens, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Prune deletes archived emails and drafts older than the retention
// window. Ledger records are kept: they are the audit trail and the
// dedup key space, and persist indefinitely.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM responses WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune responses: %w", err)
	}
	pruned, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM emails WHERE received_at < ?
		 AND id NOT IN (SELECT DISTINCT email_id FROM pipeline_records WHERE outcome IN (?, ?))`,
		cutoff, domain.OutcomePending, domain.OutcomeFailedRetryable)
	if err != nil {
		return pruned, fmt.Errorf("prune emails: %w", err)
	}
	n, _ := res.RowsAffected()
	return pruned + n, nil
}
