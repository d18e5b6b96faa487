// Package postgres implements the recorder's storage contract against
// PostgreSQL using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phishtrack/internal/recorder"
)

// RecipientRepo persists campaign recipients and their interaction log.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

// flagColumns maps each event kind to the first-occurrence column it sets.
// Kinds outside this map cannot reach SQL, so the column name is never
// attacker-controlled.
var flagColumns = map[recorder.EventKind]string{
	recorder.KindSent:      "sent_at",
	recorder.KindOpened:    "opened_at",
	recorder.KindClicked:   "clicked_at",
	recorder.KindSubmitted: "submitted_at",
	recorder.KindReported:  "reported_at",
}

// RecipientByToken is the indexed point lookup behind every tracking hit.
func (r *RecipientRepo) RecipientByToken(ctx context.Context, tok string) (*recorder.CampaignRecipient, error) {
	rec := &recorder.CampaignRecipient{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, email, tracking_token, delivered,
		       sent_at, opened_at, clicked_at, submitted_at, reported_at, created_at
		FROM campaign_recipients
		WHERE tracking_token = $1
	`, tok).Scan(
		&rec.ID, &rec.CampaignID, &rec.Email, &rec.TrackingToken, &rec.Delivered,
		&rec.SentAt, &rec.OpenedAt, &rec.ClickedAt, &rec.SubmittedAt, &rec.ReportedAt,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, recorder.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recipient by token: %w", err)
	}
	return rec, nil
}

// CreateInteraction appends the event and conditionally sets the flag in a
// single transaction. COALESCE keeps the update idempotent and commutative:
// a flag already set stays at its first value no matter how many duplicate
// or out-of-order hits arrive, and the row lock is scoped to one recipient.
func (r *RecipientRepo) CreateInteraction(ctx context.Context, recipientID uuid.UUID, kind recorder.EventKind, occurredAt time.Time, meta recorder.Meta) error {
	col, ok := flagColumns[kind]
	if !ok {
		return fmt.Errorf("create interaction: unknown kind %q", kind)
	}

	var metaJSON interface{}
	if len(meta) > 0 {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("create interaction: marshal meta: %w", err)
		}
		metaJSON = data
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create interaction: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaign_events (id, recipient_id, kind, occurred_at, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), recipientID, string(kind), occurredAt, metaJSON)
	if err != nil {
		return fmt.Errorf("create interaction: insert event: %w", err)
	}

	update := fmt.Sprintf(`UPDATE campaign_recipients SET %s = COALESCE(%s, $2)`, col, col)
	if kind == recorder.KindSent {
		update += `, delivered = TRUE`
	}
	update += ` WHERE id = $1`

	if _, err := tx.ExecContext(ctx, update, recipientID, occurredAt); err != nil {
		return fmt.Errorf("create interaction: set flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create interaction: commit: %w", err)
	}
	return nil
}

// CreateRecipient inserts the row for one (campaign, recipient) pair at
// dispatch time, with its freshly issued tracking token.
func (r *RecipientRepo) CreateRecipient(ctx context.Context, rec *recorder.CampaignRecipient) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, email, tracking_token, delivered, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, rec.ID, rec.CampaignID, rec.Email, rec.TrackingToken, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create recipient: %w", err)
	}
	return nil
}

// EventsByRecipient returns the append-only interaction log for one
// recipient, oldest first. Reporting reads it; nothing ever updates it.
func (r *RecipientRepo) EventsByRecipient(ctx context.Context, recipientID uuid.UUID) ([]recorder.InteractionEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient_id, kind, occurred_at, meta
		FROM campaign_events
		WHERE recipient_id = $1
		ORDER BY occurred_at ASC
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("events by recipient: %w", err)
	}
	defer rows.Close()

	var out []recorder.InteractionEvent
	for rows.Next() {
		var ev recorder.InteractionEvent
		var metaJSON []byte
		if err := rows.Scan(&ev.ID, &ev.RecipientID, &ev.Kind, &ev.OccurredAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal event meta: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
