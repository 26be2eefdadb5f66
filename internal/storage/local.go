package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// LocalStorage implements the Store interface on top of an afero filesystem.
// Keys map to slash-separated file paths relative to the filesystem root.
type LocalStorage struct {
	fs afero.Fs
}

// NewLocalStorage creates a store backed by fs. Use afero.NewBasePathFs to
// confine it to a directory or afero.NewMemMapFs for an in-memory store.
func NewLocalStorage(fs afero.Fs) *LocalStorage {
	return &LocalStorage{fs: fs}
}

// Put stores data at key. The file is written to a temporary name and
// renamed so readers never observe a partial object.
func (l *LocalStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := filepath.FromSlash(key)
	if err := l.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp := name + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := l.fs.Rename(tmp, name); err != nil {
		_ = l.fs.Remove(tmp)
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}

	return nil
}

// Get retrieves the object stored at key.
// Returns nil if the object does not exist.
func (l *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(l.fs, filepath.FromSlash(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return data, nil
}

// Exists reports whether an object is stored at key.
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := l.fs.Stat(filepath.FromSlash(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	return !info.IsDir(), nil
}

// List returns the keys of all objects under prefix, sorted.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	// Walk from the deepest directory fully contained in the prefix.
	root := "."
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		root = filepath.FromSlash(prefix[:i])
	}

	var keys []string
	err := afero.Walk(l.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		key := path.Clean(filepath.ToSlash(p))
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for local storage.
func (l *LocalStorage) Close() error {
	return nil
}
