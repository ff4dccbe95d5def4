package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/padrededios/stepzy/internal/config"
	"github.com/padrededios/stepzy/internal/consumer"
	"github.com/padrededios/stepzy/internal/persistence/postgres"
	httptransport "github.com/padrededios/stepzy/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	metricsSrv := httptransport.NewMetricsServer(cfg.MetricsAddress)
	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()

	group := consumer.GroupConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.ConsumerGroupID,
		Topics:  cfg.ConsumerTopics,
	}
	if err := consumer.RunGroup(ctx, group, consumer.NewNotificationHandler(pool)); err != nil {
		log.Printf("consumer stopped with error: %v", err)
	}
	log.Println("consumer shut down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
