package fieldfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentic-research/arbor/internal/item"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RawAndEnvelope(t *testing.T) {
	rec, err := Decode([]byte(`{
		"age": 34,
		"weight": 70.5,
		"tags": ["a", "b"],
		"group": {"__value__": "control", "__provenance__": {"source": "manual"}},
		"meta": {"nested": true}
	}`))
	require.NoError(t, err)

	assert.Equal(t, int64(34), rec["age"].Value)
	assert.Equal(t, 70.5, rec["weight"].Value)
	assert.Equal(t, []any{"a", "b"}, rec["tags"].Value)
	assert.Equal(t, "control", rec["group"].Value)
	src, ok := rec["group"].Provenance.Get("source")
	require.True(t, ok)
	assert.Equal(t, "manual", src)
	assert.Nil(t, rec["age"].Provenance)
	assert.Equal(t, map[string]any{"nested": true}, rec["meta"].Value, "objects without __value__ are raw")
	assert.Equal(t, []string{"age", "group", "meta", "tags", "weight"}, rec.Names())

	_, err = Decode([]byte(`[1, 2]`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"a": `))
	assert.Error(t, err)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), Name))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPut_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node", Name)
	prov := item.NewProvenance(map[string]any{"source": "manual"})

	require.NoError(t, Put(path, "age", int64(34), nil, Options{}))
	require.NoError(t, Put(path, "group", "control", prov, Options{}))

	rec, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, int64(34), rec["age"].Value)
	assert.Equal(t, "control", rec["group"].Value)
	assert.True(t, prov.Equal(rec["group"].Provenance))

	_, err = os.Stat(path + ".lock")
	assert.NoError(t, err, "lock file is left in place")
}

func TestUpdate_ErrorLeavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), Name)
	require.NoError(t, Put(path, "a", int64(1), nil, Options{}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = Update(path, Options{}, func(rec Record) error {
		rec["a"] = Entry{Value: int64(2)}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPut_ConcurrentWritersLoseNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), Name)
	const n = 12
	opts := Options{AfterRead: func() { time.Sleep(3 * time.Millisecond) }}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, Put(path, fmt.Sprintf("f%02d", i), int64(i), nil, opts))
		}(i)
	}

	// Readers never observe a partial file.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if _, err := Read(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				t.Errorf("torn read: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	wg.Wait()
	<-done

	rec, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, rec, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, int64(i), rec[fmt.Sprintf("f%02d", i)].Value)
	}
}
