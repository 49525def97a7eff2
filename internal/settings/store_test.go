package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	return s, path
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	s, path := openTemp(t)

	require.NoError(t, s.SetAPIKey(ProviderVectorStore, "pc-123"))
	require.NoError(t, s.SetAPIKey("groq", "gq-456"))
	require.NoError(t, s.SetVectorIndex("docs"))
	require.NoError(t, s.SetDBOverride("postgres://u:p@db/app"))
	require.NoError(t, s.SetSessionUser("ana"))
	require.NoError(t, s.SetUserModel("ana", "llama3-70b"))
	require.NoError(t, s.SetUserFilters("ana", map[string][]string{"category": {"invoice"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := Open(path, nil)
	require.NoError(t, err)

	key, ok := reopened.APIKey(ProviderVectorStore)
	assert.True(t, ok)
	assert.Equal(t, "pc-123", key)
	key, ok = reopened.APIKey("groq")
	assert.True(t, ok)
	assert.Equal(t, "gq-456", key)

	idx, ok := reopened.VectorIndex()
	assert.True(t, ok)
	assert.Equal(t, "docs", idx)

	dsn, ok := reopened.DBOverride()
	assert.True(t, ok)
	assert.Equal(t, "postgres://u:p@db/app", dsn)

	user, ok := reopened.SessionUser()
	assert.True(t, ok)
	assert.Equal(t, "ana", user)

	model, ok := reopened.UserModel("ana")
	assert.True(t, ok)
	assert.Equal(t, "llama3-70b", model)

	filters, ok, err := reopened.UserFilters("ana")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string][]string{"category": {"invoice"}}, filters)
}

func TestStore_AbsentValues(t *testing.T) {
	s := NewMemory()

	_, ok := s.APIKey(ProviderVectorStore)
	assert.False(t, ok)
	_, ok = s.VectorIndex()
	assert.False(t, ok)
	_, ok = s.UserModel("")
	assert.False(t, ok)
	f, ok, err := s.UserFilters("nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestStore_EmptyValueDeletes(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.SetVectorIndex("docs"))
	require.NoError(t, s.SetVectorIndex(""))
	_, ok := s.VectorIndex()
	assert.False(t, ok)

	require.NoError(t, s.SetAPIKey(ProviderVectorStore, "k"))
	require.NoError(t, s.SetAPIKey(ProviderVectorStore, ""))
	_, ok = s.APIKey(ProviderVectorStore)
	assert.False(t, ok)

	require.NoError(t, s.SetUserFilters("ana", map[string][]string{"a": {"b"}}))
	require.NoError(t, s.SetUserFilters("ana", nil))
	_, ok, _ = s.UserFilters("ana")
	assert.False(t, ok)
}

func TestStore_InvalidUser(t *testing.T) {
	s := NewMemory()
	assert.ErrorIs(t, s.SetUserModel("", "m"), ErrInvalidKey)
	assert.ErrorIs(t, s.SetUserFilters("a b", map[string][]string{"x": {"y"}}), ErrInvalidKey)
	assert.ErrorIs(t, s.Set("  ", 1), ErrInvalidKey)
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Open(path, nil)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_SubscribeReceivesChanges(t *testing.T) {
	s := NewMemory()

	var got []Change
	unsubscribe := s.Subscribe(func(c Change) { got = append(got, c) })

	require.NoError(t, s.SetVectorIndex("docs"))
	require.NoError(t, s.SetVectorIndex("docs")) // unchanged, no event
	require.NoError(t, s.Delete(KeyVectorIndex))
	unsubscribe()
	require.NoError(t, s.SetVectorIndex("other"))

	assert.Equal(t, []Change{
		{Key: KeyVectorIndex},
		{Key: KeyVectorIndex, Deleted: true},
	}, got)
}

func TestStore_ReloadEmitsOnlyExternalChanges(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.SetVectorIndex("docs"))
	require.NoError(t, s.SetSessionUser("ana"))

	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })

	require.NoError(t, s.Reload())
	assert.Empty(t, got, "own writes must not look like external edits")

	require.NoError(t, os.WriteFile(path, []byte(`{"iapropria.vector_index":"edited"}`), 0600))
	require.NoError(t, s.Reload())

	assert.ElementsMatch(t, []Change{
		{Key: KeyVectorIndex},
		{Key: KeySessionUser, Deleted: true},
	}, got)
	idx, _ := s.VectorIndex()
	assert.Equal(t, "edited", idx)
}

func TestStore_ConcurrentAPIKeyWrites(t *testing.T) {
	s := NewMemory()
	providers := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			assert.NoError(t, s.SetAPIKey(p, "key-"+p))
		}(p)
	}
	wg.Wait()

	for _, p := range providers {
		v, ok := s.APIKey(p)
		assert.True(t, ok, p)
		assert.Equal(t, "key-"+p, v)
	}
}

func TestIsFiltersKey(t *testing.T) {
	user, ok := IsFiltersKey("iapropria.filters.ana")
	assert.True(t, ok)
	assert.Equal(t, "ana", user)

	_, ok = IsFiltersKey(KeyVectorIndex)
	assert.False(t, ok)
}

func TestWatcher_ReloadsExternalEdits(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.SetVectorIndex("docs"))

	changed := make(chan Change, 4)
	s.Subscribe(func(c Change) {
		select {
		case changed <- c:
		default:
		}
	})

	w, err := Watch(context.Background(), s)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"iapropria.vector_index":"from-editor"}`), 0600))

	select {
	case c := <-changed:
		assert.Equal(t, KeyVectorIndex, c.Key)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the external edit")
	}
	require.Eventually(t, func() bool {
		idx, _ := s.VectorIndex()
		return idx == "from-editor"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_RequiresFile(t *testing.T) {
	_, err := Watch(context.Background(), NewMemory())
	assert.ErrorIs(t, err, ErrWatcherFailed)
}

func TestStore_FailedWriteLeavesStateUnchanged(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.SetVectorIndex("docs"))
	require.NoError(t, s.SetSessionUser("ana"))

	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })

	// with the directory gone the temp file cannot be created
	require.NoError(t, os.RemoveAll(filepath.Dir(path)))

	assert.Error(t, s.SetVectorIndex("other"))
	assert.Error(t, s.SetUserModel("ana", "gpt-4o-mini"))
	assert.Error(t, s.Delete(KeySessionUser))

	index, ok := s.VectorIndex()
	assert.True(t, ok)
	assert.Equal(t, "docs", index, "overwrite rolled back")

	_, ok = s.UserModel("ana")
	assert.False(t, ok, "new key rolled back")

	user, ok := s.SessionUser()
	assert.True(t, ok)
	assert.Equal(t, "ana", user, "delete rolled back")

	assert.Empty(t, got)
}
