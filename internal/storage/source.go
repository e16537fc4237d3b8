// Package storage defines the Source interface the metadata index walks and
// the resolver streams from. Implementations live in subpackages (local
// directory tree, S3 bucket); the factory subpackage builds one from config.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotIndexable is returned by Stat for entries the index never holds:
// directories, dot-named files, symbolic links, and other non-regular files.
var ErrNotIndexable = errors.New("not an indexable file")

// Object is the metadata of one regular file as seen by its origin.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Source is a read-only origin of files.
type Source interface {
	// Key maps a URL path ("/a/b.txt") to the key objects are indexed under.
	// No normalization is applied.
	Key(urlPath string) string

	// Walk calls fn for every indexable object. The first error from the
	// origin or from fn aborts the walk.
	Walk(ctx context.Context, fn func(Object) error) error

	// Stat returns metadata for a single key without following links.
	Stat(ctx context.Context, key string) (Object, error)

	// Open returns a reader over length bytes starting at offset.
	// A negative length reads to the end of the object.
	Open(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Type returns the origin type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the source.
	Close() error
}

// Hidden reports whether a base name is a dotfile.
func Hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// LimitedReadCloser pairs a bounded reader with the closer of its underlying file.
type LimitedReadCloser struct {
	io.Reader
	io.Closer
}
