package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/phishtrack/internal/dispatch"
)

// ErrCampaignNotFound is returned when no campaign matches the given id.
var ErrCampaignNotFound = errors.New("campaign not found")

// CampaignRepo persists campaign definitions and reads attribution rollups.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

// CreateCampaign records the campaign definition at launch time. Launching
// the same campaign id again (e.g. a second target batch) is not an error.
func (r *CampaignRepo) CreateCampaign(ctx context.Context, c *dispatch.Campaign) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, from_name, from_email, subject, html_template, text_template, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.Name, c.FromName, c.FromEmail, c.Subject, c.HTMLTemplate, c.TextTemplate)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// CampaignByID loads one campaign definition.
func (r *CampaignRepo) CampaignByID(ctx context.Context, id string) (*dispatch.Campaign, error) {
	c := &dispatch.Campaign{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, from_name, from_email, subject,
		       COALESCE(html_template,''), COALESCE(text_template,'')
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.FromName, &c.FromEmail, &c.Subject,
		&c.HTMLTemplate, &c.TextTemplate,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campaign by id: %w", err)
	}
	return c, nil
}

// CampaignStats summarizes one campaign's recipients by first-occurrence
// flag. Counts come straight off campaign_recipients, so they agree with
// the flags by construction.
type CampaignStats struct {
	Recipients int
	Sent       int
	Opened     int
	Clicked    int
	Submitted  int
	Reported   int
}

// CampaignStats aggregates the flag columns for one campaign.
func (r *CampaignRepo) CampaignStats(ctx context.Context, id string) (*CampaignStats, error) {
	s := &CampaignStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(sent_at), COUNT(opened_at), COUNT(clicked_at),
		       COUNT(submitted_at), COUNT(reported_at)
		FROM campaign_recipients
		WHERE campaign_id = $1
	`, id).Scan(
		&s.Recipients, &s.Sent, &s.Opened, &s.Clicked, &s.Submitted, &s.Reported,
	)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	return s, nil
}
