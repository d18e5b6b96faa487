package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSuppressionNotFound is returned when removing an address that is not
// on the exclusion list.
var ErrSuppressionNotFound = errors.New("suppression not found")

// SuppressionRepo maintains the exclusion list: addresses that must never
// be targeted by a campaign (opted-out staff, union agreements, prior
// reporters who asked out). Dispatch filters its target list against it.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// IsSuppressed reports whether email is on the active exclusion list.
func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaign_suppressions WHERE email = $1 AND active = true)`,
		email,
	).Scan(&exists)
	return exists, err
}

// Suppress puts email on the exclusion list. Re-suppressing an address
// updates its reason and reactivates it.
func (r *SuppressionRepo) Suppress(ctx context.Context, email, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_suppressions (id, email, reason, active, created_at)
		VALUES ($1, $2, $3, true, NOW())
		ON CONFLICT (email) DO UPDATE SET reason = $3, active = true, updated_at = NOW()
	`, uuid.New(), email, reason)
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

// Remove takes email off the exclusion list. The row stays for audit.
func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaign_suppressions SET active = false, updated_at = NOW() WHERE email = $1 AND active = true`,
		email,
	)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSuppressionNotFound
	}
	return nil
}

// SuppressedEmails returns every active excluded address, for one-pass
// filtering of a target list before launch.
func (r *SuppressionRepo) SuppressedEmails(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT email FROM campaign_suppressions WHERE active = true ORDER BY email`,
	)
	if err != nil {
		return nil, fmt.Errorf("suppressed emails: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}
