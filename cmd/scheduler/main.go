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

	"github.com/padrededios/stepzy/internal/bootstrap"
	"github.com/padrededios/stepzy/internal/config"
	"github.com/padrededios/stepzy/internal/scheduler"
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

	runner, err := scheduler.New(store.Service(cfg, logger), cfg.ScheduleInterval, cfg.ScheduleWeeksAhead,
		scheduler.WithLocation(cfg.Location()),
	)
	if err != nil {
		log.Fatalf("failed to build scheduler: %v", err)
	}

	metricsSrv := httptransport.NewMetricsServer(cfg.MetricsAddress)
	go func() {
		log.Printf("scheduler metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()

	if err := runner.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	<-ctx.Done()
	log.Println("scheduler shutdown requested")

	if err := runner.Shutdown(); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
