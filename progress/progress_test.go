package progress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	store := NewStore(t.TempDir())

	rec, found, err := store.Load("job1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, None, rec.LastCompleted)

	require.NoError(t, store.Save(Record{JobID: "job1", LastCompleted: 4}))
	raw, err := os.ReadFile(store.Path("job1"))
	require.NoError(t, err)
	assert.Equal(t, "4", string(raw))

	rec, found, err = store.Load("job1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 4, rec.LastCompleted)

	require.NoError(t, store.Save(Record{JobID: "job1", LastCompleted: 7}))
	rec, _, err = store.Load("job1")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.LastCompleted)

	require.NoError(t, store.Delete("job1"))
	_, found, err = store.Load("job1")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, store.Delete("job1"), "deleting twice is fine")
}

func TestStoreLoadCorrupt(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, os.WriteFile(store.Path("bad"), []byte("not a number"), 0o644))

	rec, found, err := store.Load("bad")
	assert.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, None, rec.LastCompleted)
}

func TestStoreLock(t *testing.T) {
	store := NewStore(t.TempDir())

	unlock, err := store.Lock("job1")
	require.NoError(t, err)

	_, err = store.Lock("job1")
	assert.ErrorIs(t, err, ErrLocked)

	other, err := store.Lock("job2")
	require.NoError(t, err)
	require.NoError(t, other())

	require.NoError(t, unlock())
	assert.FileExists(t, filepath.Join(store.Dir, "job1.lock"), "lock file stays so later runs lock the same inode")
	again, err := store.Lock("job1")
	require.NoError(t, err)
	_, err = store.Lock("job1")
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, again())
}
