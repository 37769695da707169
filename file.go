package syncq

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	fileExt = ".json"
	lockExt = ".lock"

	lockTimeout = 10 * time.Second
	// A lock older than this was left behind by a process that died while
	// holding it.
	staleLockAge = 30 * time.Second
)

// FileBackend stores each queue in its own file under a directory. Writes go
// to a temporary file that is synced and renamed over the old one. Update
// holds a lock file next to the queue file, so processes sharing the
// directory never interleave read-modify-write cycles.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("error creating queue directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+fileExt)
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error reading %s: %w", key, err)
	}
	return b, nil
}

func (f *FileBackend) Put(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("error syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("error replacing %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error deleting %s: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("error listing queue directory: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		k, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		if strings.HasPrefix(string(k), prefix) {
			keys = append(keys, string(k))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileBackend) Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	unlock, err := f.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	old, err := f.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		old = nil
	case err != nil:
		return err
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	if next == nil {
		return f.Delete(ctx, key)
	}
	return f.Put(ctx, key, next)
}

// lock creates key's lock file exclusively, retrying with backoff while
// another holder has it.
func (f *FileBackend) lock(ctx context.Context, key string) (func(), error) {
	name := f.path(key) + lockExt
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = lockTimeout
	err := backoff.Retry(func() error {
		fh, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return fh.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return backoff.Permanent(err)
		}
		if st, serr := os.Stat(name); serr == nil && time.Since(st.ModTime()) > staleLockAge {
			log.Warn().Str("lock", name).Msg("removing stale queue lock")
			_ = os.Remove(name)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("error locking %s: %w", key, err)
	}
	return func() {
		if err := os.Remove(name); err != nil {
			log.Debug().Err(err).Str("lock", name).Msg("error removing queue lock")
		}
	}, nil
}
