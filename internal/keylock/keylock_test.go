package keylock

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockSerialisesSameKey(t *testing.T) {
	locks := New()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("session")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestLockDropsReleasedKeys(t *testing.T) {
	locks := New()
	for i := 0; i < 100; i++ {
		unlock := locks.Lock(fmt.Sprintf("session-%d", i))
		unlock()
	}
	require.Zero(t, locks.Len())

	unlock := locks.Lock("held")
	require.Equal(t, 1, locks.Len())
	unlock()
	require.Zero(t, locks.Len())
}
