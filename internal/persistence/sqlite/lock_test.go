package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/padrededios/stepzy/internal/domain"
)

func TestSessionLocksReleasedAfterUse(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "locks.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	r := NewRepository(db)

	for i := 0; i < 64; i++ {
		err := r.WithSessionLock(context.Background(), fmt.Sprintf("missing-%d", i), func(context.Context, domain.SessionTx) error {
			return nil
		})
		require.ErrorIs(t, err, domain.ErrSessionNotFound)
	}

	require.Zero(t, r.sessionLocks.Len())
}
