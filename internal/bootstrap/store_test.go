package bootstrap

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/padrededios/stepzy/internal/config"
	"github.com/padrededios/stepzy/internal/domain"
)

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	logger := log.New(io.Discard, "", 0)
	cfg := config.Config{StoreDriver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "dev.db")}

	store, err := OpenStore(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	require.Nil(t, store.Pool)
	require.IsType(t, domain.LogNotifier{}, store.Notifier)

	service := store.Service(cfg, logger)
	require.Equal(t, time.UTC, service.Location())

	activity, err := service.CreateActivity(ctx, domain.Actor{UserID: "owner"}, domain.CreateActivityInput{
		Name:          "Morning Run",
		Sport:         "running",
		MinPlayers:    2,
		MaxPlayers:    8,
		RecurringDays: []time.Weekday{time.Saturday},
		RecurringType: domain.RecurrenceWeekly,
		StartTime:     "08:00",
		EndTime:       "09:00",
	})
	require.NoError(t, err)
	require.Equal(t, "morning-run", activity.Slug)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.Config{StoreDriver: "mongo"}, log.New(io.Discard, "", 0))
	require.ErrorContains(t, err, "unsupported store driver")
}
