package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/phishtrack/internal/config"
	"github.com/ignite/phishtrack/internal/recorder"
	"github.com/ignite/phishtrack/internal/repository/postgres"
	"github.com/ignite/phishtrack/internal/tokencache"
	"github.com/ignite/phishtrack/internal/track"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

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

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("ping database: %v", err)
	}
	cancelPing()

	store := postgres.NewRecipientRepo(db)

	var lookup recorder.Lookup = store
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		lookup = tokencache.New(rdb, store, cfg.Redis.CacheTTL())
		log.Printf("token cache enabled (%s)", cfg.Redis.Addr)
	}

	rec := recorder.New(store,
		recorder.WithLookup(lookup),
		recorder.WithTimeout(cfg.Tracking.RecordTimeout()),
	)

	var pub *track.Publisher
	if cfg.Events.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		pub = track.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Events.QueueURL)
		log.Printf("event fan-out enabled (%s)", cfg.Events.QueueURL)
	}

	handler, err := track.NewHandler(rec, cfg.Tracking.BaseURL, pub)
	if err != nil {
		log.Fatalf("tracking handler: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
