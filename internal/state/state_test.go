package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// VisitedSet Tests
// =============================================================================

func TestVisitedSet_AddHas(t *testing.T) {
	v := NewVisitedSet(10)

	assert.False(t, v.Has("https://example.com/1"))
	assert.True(t, v.Add("https://example.com/1"))
	assert.False(t, v.Add("https://example.com/1"))
	assert.True(t, v.Has("https://example.com/1"))
	assert.False(t, v.Has("https://example.com/2"))
	assert.Equal(t, 1, v.Len())
}

func TestVisitedSet_ListKeepsOrder(t *testing.T) {
	v := NewVisitedSet(1000)
	for _, u := range []string{"c", "a", "b", "a"} {
		v.Add(u)
	}

	assert.Equal(t, []string{"c", "a", "b"}, v.List())

	v.Reset()
	assert.Zero(t, v.Len())
	assert.False(t, v.Has("a"))
}

func TestVisitedSet_Concurrent(t *testing.T) {
	v := NewVisitedSet(1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			u := fmt.Sprintf("https://example.com/%d", n%10)
			v.Add(u)
			v.Has(u)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, v.Len())
}

// =============================================================================
// Store Tests
// =============================================================================

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()

	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Store{
		"bolt":   bolt,
		"memory": NewMemoryStore(),
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var got record
			assert.ErrorIs(t, s.Get("profiles", "a", &got), ErrNotFound)

			require.NoError(t, s.Put("profiles", "a", record{Name: "alpha", Count: 1}))
			require.NoError(t, s.Get("profiles", "a", &got))
			assert.Equal(t, record{Name: "alpha", Count: 1}, got)

			assert.ErrorIs(t, s.Get("profiles", "missing", &got), ErrNotFound)
			assert.ErrorIs(t, s.Get("jobs", "a", &got), ErrNotFound)

			require.NoError(t, s.Delete("profiles", "a"))
			require.NoError(t, s.Delete("profiles", "a"))
			require.NoError(t, s.Delete("nobucket", "a"))
			assert.ErrorIs(t, s.Get("profiles", "a", &got), ErrNotFound)
		})
	}
}

func TestStore_ForEach(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.ForEach("empty", func(string, []byte) error {
				t.Fatal("callback on empty bucket")
				return nil
			}))

			for _, k := range []string{"b", "c", "a"} {
				require.NoError(t, s.Put("jobs", k, record{Name: k}))
			}

			var keys []string
			require.NoError(t, s.ForEach("jobs", func(k string, _ []byte) error {
				keys = append(keys, k)
				return nil
			}))
			assert.Equal(t, []string{"a", "b", "c"}, keys)

			stop := errors.New("stop")
			err := s.ForEach("jobs", func(string, []byte) error { return stop })
			assert.ErrorIs(t, err, stop)
		})
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("settings", "settings", record{Name: "saved"}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	var got record
	require.NoError(t, s.Get("settings", "settings", &got))
	assert.Equal(t, "saved", got.Name)
	assert.Equal(t, path, s.Path())
}
