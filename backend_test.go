package syncq

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testBackend(t *testing.T, b Backend) {
	ctx := context.Background()

	_, err := b.Get(ctx, "syncq:queue:evt-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, "syncq:queue:evt-1", []byte(`[1]`)))
	require.NoError(t, b.Put(ctx, "syncq:queue:evt-1", []byte(`[1,2]`)))
	require.NoError(t, b.Put(ctx, "syncq:queue:appraisal-drafts", []byte(`[3]`)))
	require.NoError(t, b.Put(ctx, "other:key", []byte(`x`)))

	v, err := b.Get(ctx, "syncq:queue:evt-1")
	require.NoError(t, err)
	require.Equal(t, []byte(`[1,2]`), v)

	keys, err := b.Keys(ctx, "syncq:queue:")
	require.NoError(t, err)
	require.Equal(t, []string{"syncq:queue:appraisal-drafts", "syncq:queue:evt-1"}, keys)

	require.NoError(t, b.Delete(ctx, "syncq:queue:evt-1"))
	require.NoError(t, b.Delete(ctx, "syncq:queue:evt-1"), "deleting a missing key is not an error")
	_, err = b.Get(ctx, "syncq:queue:evt-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func testUpdater(t *testing.T, u Updater) {
	ctx := context.Background()
	key := "syncq:queue:evt-update"

	require.NoError(t, u.Update(ctx, key, func(old []byte) ([]byte, error) {
		require.Nil(t, old)
		return []byte(`[1]`), nil
	}))
	require.NoError(t, u.Update(ctx, key, func(old []byte) ([]byte, error) {
		require.Equal(t, []byte(`[1]`), old)
		return []byte(`[1,2]`), nil
	}))

	errStop := errors.New("stop")
	err := u.Update(ctx, key, func(old []byte) ([]byte, error) {
		return []byte(`[9]`), errStop
	})
	require.ErrorIs(t, err, errStop)
	require.NoError(t, u.Update(ctx, key, func(old []byte) ([]byte, error) {
		require.Equal(t, []byte(`[1,2]`), old, "a failed update writes nothing")
		return nil, nil
	}))

	b := u.(Backend)
	_, err = b.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
	keys, err := b.Keys(ctx, key)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestMemoryBackend(t *testing.T) {
	testBackend(t, NewMemoryBackend())
	testUpdater(t, NewMemoryBackend())
}

func TestMemoryBackendShouldCopyValues(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	v := []byte(`[1]`)
	require.NoError(t, b.Put(ctx, "k", v))
	v[1] = '9'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte(`[1]`), got)
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "queues"))
	require.NoError(t, err)
	testBackend(t, b)
	testUpdater(t, b)
}

func TestFileBackendUpdateShouldWait_LockHeld(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	lock := b.path("k") + lockExt
	require.NoError(t, os.WriteFile(lock, nil, 0o600))
	keys, err := b.Keys(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, keys)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = b.Update(ctx, "k", func(old []byte) ([]byte, error) {
		t.Fatal("update ran while another holder had the lock")
		return nil, nil
	})
	require.Error(t, err)

	require.NoError(t, os.Remove(lock))
	require.NoError(t, b.Update(context.Background(), "k", func(old []byte) ([]byte, error) {
		return []byte(`[1]`), nil
	}))
	_, err = os.Stat(lock)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFileBackendUpdateShouldSucceed_StaleLock(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	lock := b.path("k") + lockExt
	require.NoError(t, os.WriteFile(lock, nil, 0o600))
	old := time.Now().Add(-2 * staleLockAge)
	require.NoError(t, os.Chtimes(lock, old, old))

	require.NoError(t, b.Update(context.Background(), "k", func(old []byte) ([]byte, error) {
		return []byte(`[1]`), nil
	}))
	v, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte(`[1]`), v)
}

func TestFileBackendShouldNotLeaveTempFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Put(context.Background(), "syncq:queue:evt/1", []byte(`[]`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, fileExt, filepath.Ext(entries[0].Name()))

	keys, err := b.Keys(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, []string{"syncq:queue:evt/1"}, keys)
}

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `syncq:queue:`, escapeGlob("syncq:queue:"))
	require.Equal(t, `a\*b\?\[c\]\\`, escapeGlob(`a*b?[c]\`))
}
