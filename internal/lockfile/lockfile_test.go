package lockfile

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_Timeout(t *testing.T) {
	path := PathFor(filepath.Join(t.TempDir(), "sub", "__fields__.json"))

	held, err := Acquire(path, 0)
	require.NoError(t, err)

	// flock locks are per open file description, so a second open in the same
	// process contends with the first.
	_, err = Acquire(path, 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), path)

	require.NoError(t, held.Release())
	again, err := Acquire(path, 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, again.Release())
	require.NoError(t, again.Release(), "release is idempotent")
}

func TestWith_ReleasesOnPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")

	assert.Panics(t, func() {
		_ = With(path, 0, func() error { panic("boom") })
	})

	l, err := Acquire(path, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestWith_Serializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := With(path, 0, func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
