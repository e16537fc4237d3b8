// Package local provides a local directory tree as a storage.Source.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/fruitstatic/internal/storage"
)

// Config holds local source settings.
type Config struct {
	RootPath string `json:"root_path" mapstructure:"root_path"`
}

// Source serves files below a root directory.
type Source struct {
	root    string // absolute, symlink-free
	keyRoot string // root without a trailing separator, used for key concatenation
}

// New creates a local source. The root must exist and be a directory.
func New(cfg Config) (*Source, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}
	abs, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("root directory error: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root directory error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}
	return &Source{
		root:    root,
		keyRoot: strings.TrimRight(root, string(filepath.Separator)),
	}, nil
}

// Root returns the resolved root directory.
func (s *Source) Root() string { return s.root }

// Key appends the URL path to the root, translating separators only.
func (s *Source) Key(urlPath string) string {
	return s.keyRoot + filepath.FromSlash(urlPath)
}

// Walk traverses the tree with an explicit stack. Directories (hidden ones
// included) are expanded, regular non-dot files are reported, and symbolic
// links are never followed.
func (s *Source) Walk(ctx context.Context, fn func(storage.Object) error) error {
	stack := []string{s.root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			st, err := lstat(full)
			if err != nil {
				return fmt.Errorf("lstat %s: %w", full, err)
			}
			switch st.kind {
			case kindDir:
				stack = append(stack, full)
			case kindRegular:
				if storage.Hidden(entry.Name()) {
					continue
				}
				if err := fn(storage.Object{Key: full, Size: st.size, ModTime: st.modTime}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Stat looks up a single key. Keys whose parent directory path passes
// through a symbolic link are rejected like links themselves.
func (s *Source) Stat(_ context.Context, key string) (storage.Object, error) {
	if storage.Hidden(filepath.Base(key)) {
		return storage.Object{}, fmt.Errorf("stat %s: %w", key, storage.ErrNotIndexable)
	}
	st, err := lstat(key)
	if err != nil {
		return storage.Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	if st.kind != kindRegular {
		return storage.Object{}, fmt.Errorf("stat %s: %w", key, storage.ErrNotIndexable)
	}
	dir := filepath.Dir(key)
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return storage.Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	if resolved != dir {
		return storage.Object{}, fmt.Errorf("stat %s: parent is a link: %w", key, storage.ErrNotIndexable)
	}
	return storage.Object{Key: key, Size: st.size, ModTime: st.modTime}, nil
}

// Open reads a byte range of a file.
func (s *Source) Open(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s: %w", key, err)
		}
	}

	if length >= 0 {
		return &storage.LimitedReadCloser{
			Reader: io.LimitReader(f, length),
			Closer: f,
		}, nil
	}
	return f, nil
}

// Type returns "local".
func (s *Source) Type() string { return "local" }

// Close is a no-op for local sources.
func (s *Source) Close() error { return nil }
