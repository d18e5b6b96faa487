package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/phishtrack/internal/dispatch"
)

func TestCreateCampaign(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	c := &dispatch.Campaign{
		ID:           uuid.New(),
		Name:         "Q2 password audit",
		FromName:     "IT Support",
		FromEmail:    "it-support@corp.example.com",
		Subject:      "Action required",
		HTMLTemplate: "<html><body>hi</body></html>",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO campaigns")).
		WithArgs(c.ID, c.Name, c.FromName, c.FromEmail, c.Subject, c.HTMLTemplate, c.TextTemplate).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewCampaignRepo(db)
	if err := repo.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCampaignByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	id := uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "name", "from_name", "from_email", "subject", "html_template", "text_template",
	}).AddRow(id, "Q2 password audit", "IT Support", "it-support@corp.example.com",
		"Action required", "<html></html>", "")

	mock.ExpectQuery(`(?s)SELECT .+ FROM campaigns`).
		WithArgs(id.String()).
		WillReturnRows(rows)

	repo := NewCampaignRepo(db)
	c, err := repo.CampaignByID(context.Background(), id.String())
	if err != nil {
		t.Fatalf("CampaignByID: %v", err)
	}
	if c.ID != id || c.Name != "Q2 password audit" {
		t.Errorf("campaign = %+v", c)
	}
}

func TestCampaignByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT .+ FROM campaigns`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewCampaignRepo(db)
	_, err = repo.CampaignByID(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("err = %v, want ErrCampaignNotFound", err)
	}
}

func TestCampaignStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	id := uuid.NewString()
	rows := sqlmock.NewRows([]string{"count", "sent", "opened", "clicked", "submitted", "reported"}).
		AddRow(250, 248, 120, 44, 9, 3)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\),.+FROM campaign_recipients`).
		WithArgs(id).
		WillReturnRows(rows)

	repo := NewCampaignRepo(db)
	s, err := repo.CampaignStats(context.Background(), id)
	if err != nil {
		t.Fatalf("CampaignStats: %v", err)
	}
	want := CampaignStats{Recipients: 250, Sent: 248, Opened: 120, Clicked: 44, Submitted: 9, Reported: 3}
	if *s != want {
		t.Errorf("stats = %+v, want %+v", *s, want)
	}
}
