package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage keeps files under a directory on the local filesystem.
type LocalStorage struct {
	root string
}

var (
	_ Storage  = (*LocalStorage)(nil)
	_ Bucketer = (*LocalStorage)(nil)
)

func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

func (l *LocalStorage) path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

// Write stages data in a temporary file and renames it into place, so
// readers never see a half-written file.
func (l *LocalStorage) Write(ctx context.Context, name string, data io.Reader) error {
	full := l.path(name)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".staging-*")
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("copying data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing staging file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("renaming staging file: %w", err)
	}
	return nil
}

func (l *LocalStorage) Read(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(name))
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".staging-") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", l.root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Buckets reports the root directory as the only bucket, when it exists.
func (l *LocalStorage) Buckets(ctx context.Context) ([]string, error) {
	info, err := os.Stat(l.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", l.root)
	}
	return []string{l.Bucket()}, nil
}

func (l *LocalStorage) Bucket() string {
	return filepath.Base(l.root)
}
