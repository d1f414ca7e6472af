package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// adapterContract runs the behavior every Adapter must share.
func adapterContract(t *testing.T, s Adapter) {
	t.Helper()

	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("token", `{"accessToken":"abc"}`))
	value, err := s.Get("token")
	require.NoError(t, err)
	require.Equal(t, `{"accessToken":"abc"}`, value)

	// Overwrite replaces the whole value
	require.NoError(t, s.Set("token", "replaced"))
	value, err = s.Get("token")
	require.NoError(t, err)
	require.Equal(t, "replaced", value)

	require.NoError(t, s.Remove("token"))
	_, err = s.Get("token")
	require.ErrorIs(t, err, ErrNotFound)

	// Removing an absent key is a no-op
	require.NoError(t, s.Remove("token"))
}

func TestMemory(t *testing.T) {
	t.Parallel()

	adapterContract(t, NewMemory())
}

func TestMemoryConcurrent(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = s.Set("key", "value")
				_, _ = s.Get("key")
				_ = s.Remove("key")
			}
		}()
	}
	wg.Wait()
}

func TestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	s, err := NewFile(path)
	require.NoError(t, err)

	adapterContract(t, s)
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "session.json")

	s, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("token", "persisted"))
	require.NoError(t, s.Set("verifier", "v-123"))
	require.NoError(t, s.Remove("verifier"))

	reopened, err := NewFile(path)
	require.NoError(t, err)

	value, err := reopened.Get("token")
	require.NoError(t, err)
	require.Equal(t, "persisted", value)

	_, err = reopened.Get("verifier")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileCorrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewFile(path)
	require.Error(t, err)
}
