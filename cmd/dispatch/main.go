// Command dispatch launches a campaign: it reads the campaign definition
// and target list, issues tracking tokens, renders and instruments the
// email, and sends through SES. A distributed lock keeps two operators
// from blasting the same campaign at once.
package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/ignite/phishtrack/internal/config"
	"github.com/ignite/phishtrack/internal/dispatch"
	"github.com/ignite/phishtrack/internal/instrument"
	"github.com/ignite/phishtrack/internal/pkg/distlock"
	"github.com/ignite/phishtrack/internal/recorder"
	"github.com/ignite/phishtrack/internal/repository/postgres"
)

type campaignFile struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	FromName     string `yaml:"from_name"`
	FromEmail    string `yaml:"from_email"`
	Subject      string `yaml:"subject"`
	HTMLTemplate string `yaml:"html_template"`
	TextTemplate string `yaml:"text_template"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	campaignPath := flag.String("campaign", "", "campaign definition YAML (required)")
	recipientsPath := flag.String("recipients", "", "recipient CSV: email,first_name,last_name,position (required)")
	flag.Parse()

	if *campaignPath == "" || *recipientsPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database url is required (database.url or DATABASE_URL)")
	}
	if cfg.Tracking.BaseURL == "" {
		log.Fatal("tracking base url is required (tracking.base_url or TRACKING_BASE_URL)")
	}
	if !cfg.SES.Enabled {
		log.Fatal("ses.enabled must be true to dispatch")
	}

	campaign, err := loadCampaign(*campaignPath)
	if err != nil {
		log.Fatalf("load campaign: %v", err)
	}
	recipients, err := loadRecipients(*recipientsPath)
	if err != nil {
		log.Fatalf("load recipients: %v", err)
	}
	if len(recipients) == 0 {
		log.Fatal("recipient list is empty")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	lock, err := distlock.New(redisClient, db, "launch:"+campaign.ID.String(), 30*time.Minute)
	if err != nil {
		log.Fatalf("launch lock: %v", err)
	}
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		log.Fatalf("acquire launch lock: %v", err)
	}
	if !acquired {
		log.Fatalf("campaign %s is already being launched elsewhere", campaign.ID)
	}
	defer lock.Release(context.Background())

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SES.Region))
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	sender := dispatch.NewSESSender(sesv2.NewFromConfig(awsCfg))

	store := postgres.NewRecipientRepo(db)
	campaigns := postgres.NewCampaignRepo(db)
	suppressions := postgres.NewSuppressionRepo(db)

	excluded, err := suppressions.SuppressedEmails(ctx)
	if err != nil {
		log.Fatalf("load suppression list: %v", err)
	}
	recipients, skipped := filterSuppressed(recipients, excluded)
	if skipped > 0 {
		log.Printf("skipping %d suppressed recipients", skipped)
	}
	if len(recipients) == 0 {
		log.Fatal("no recipients left after suppression filtering")
	}

	if err := campaigns.CreateCampaign(ctx, &campaign); err != nil {
		log.Fatalf("create campaign: %v", err)
	}

	rec := recorder.New(store, recorder.WithTimeout(cfg.Tracking.RecordTimeout()))
	d := dispatch.New(store, rec, sender, instrument.New(cfg.Tracking.BaseURL))

	log.Printf("launching %q to %d recipients", campaign.Name, len(recipients))
	res, err := d.Launch(ctx, campaign, recipients)
	if err != nil {
		log.Fatalf("launch: %v", err)
	}
	log.Printf("done: %d sent, %d failed", res.Sent, res.Failed)

	if stats, err := campaigns.CampaignStats(ctx, campaign.ID.String()); err == nil {
		log.Printf("campaign now at %d recipients, %d sent", stats.Recipients, stats.Sent)
	}
}

func filterSuppressed(recipients []dispatch.Recipient, excluded []string) ([]dispatch.Recipient, int) {
	if len(excluded) == 0 {
		return recipients, 0
	}
	blocked := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		blocked[strings.ToLower(e)] = true
	}
	kept := recipients[:0]
	skipped := 0
	for _, r := range recipients {
		if blocked[strings.ToLower(r.Email)] {
			skipped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, skipped
}

func loadCampaign(path string) (dispatch.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dispatch.Campaign{}, err
	}
	var cf campaignFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return dispatch.Campaign{}, err
	}

	id := uuid.New()
	if cf.ID != "" {
		if id, err = uuid.Parse(cf.ID); err != nil {
			return dispatch.Campaign{}, fmt.Errorf("campaign id: %w", err)
		}
	}
	if cf.FromEmail == "" {
		return dispatch.Campaign{}, fmt.Errorf("from_email is required")
	}

	return dispatch.Campaign{
		ID:           id,
		Name:         cf.Name,
		FromName:     cf.FromName,
		FromEmail:    cf.FromEmail,
		Subject:      cf.Subject,
		HTMLTemplate: cf.HTMLTemplate,
		TextTemplate: cf.TextTemplate,
	}, nil
}

func loadRecipients(path string) ([]dispatch.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []dispatch.Recipient
	for line := 0; ; line++ {
		rowFields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 0 && strings.EqualFold(rowFields[0], "email") {
			continue
		}
		rec := dispatch.Recipient{Email: strings.TrimSpace(rowFields[0])}
		if rec.Email == "" {
			continue
		}
		if len(rowFields) > 1 {
			rec.FirstName = strings.TrimSpace(rowFields[1])
		}
		if len(rowFields) > 2 {
			rec.LastName = strings.TrimSpace(rowFields[2])
		}
		if len(rowFields) > 3 {
			rec.Position = strings.TrimSpace(rowFields[3])
		}
		out = append(out, rec)
	}
	return out, nil
}
