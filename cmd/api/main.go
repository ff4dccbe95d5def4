package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/padrededios/stepzy/internal/api"
	"github.com/padrededios/stepzy/internal/auth"
	"github.com/padrededios/stepzy/internal/bootstrap"
	"github.com/padrededios/stepzy/internal/config"
	"github.com/padrededios/stepzy/internal/outbox"
	httptransport "github.com/padrededios/stepzy/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stderr, "[scheduler] ", log.LstdFlags|log.Lshortfile)
	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer store.Close()

	// The outbox only exists on Postgres; the SQLite dev store logs notices instead.
	var dispatcher *outbox.Dispatcher
	if store.Pool != nil {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(store.Pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	service := store.Service(cfg, logger)
	handler := api.NewHandler(service,
		api.WithUpcomingLimit(cfg.UpcomingDefaultLimit),
		api.WithWeeksAhead(cfg.ScheduleWeeksAhead),
	)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, auth.SkipPaths("/healthz", "/metrics"))

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), httptransport.Chain(mux,
		httptransport.RequestLogger(log.New(os.Stderr, "[http] ", log.LstdFlags)),
		httptransport.CORS("http://localhost:5173"),
		authMiddleware.Wrap,
	))

	go func() {
		log.Printf("stepzy api listening on %s (store=%s)", cfg.HTTPAddress, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
