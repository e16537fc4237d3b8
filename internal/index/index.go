// Package index maintains the bounded path -> file metadata lookup used to
// answer requests without touching the origin on every hit.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitstatic/internal/cache"
	"github.com/fruitsalade/fruitstatic/internal/logging"
	"github.com/fruitsalade/fruitstatic/internal/metrics"
	"github.com/fruitsalade/fruitstatic/internal/storage"
)

// Mode selects when the origin is read.
type Mode string

const (
	// ModeEager walks the whole origin once at startup.
	ModeEager Mode = "eager"
	// ModeLazy stats the origin on the first request for each key.
	ModeLazy Mode = "lazy"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEager, "":
		return ModeEager, nil
	case ModeLazy:
		return ModeLazy, nil
	default:
		return "", fmt.Errorf("unknown index mode: %q", s)
	}
}

// FileEntry is one indexed regular file. It is never updated after creation.
type FileEntry struct {
	Path    string // source key (absolute path for local sources)
	Size    int64
	ModTime time.Time
}

// Config holds index settings.
type Config struct {
	Mode     Mode
	Capacity int
	TTL      time.Duration
	Now      func() time.Time
}

// Index is a bounded cache of FileEntry keyed by source key.
type Index struct {
	src     storage.Source
	mode    Mode
	entries *cache.Store[string, FileEntry]
}

// New creates an empty index over src.
func New(src storage.Source, cfg Config) (*Index, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeEager
	}
	entries, err := cache.New[string, FileEntry](cache.Config{
		Capacity: cfg.Capacity,
		TTL:      cfg.TTL,
		Now:      cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	return &Index{src: src, mode: mode, entries: entries}, nil
}

// Mode returns the index mode.
func (ix *Index) Mode() Mode { return ix.mode }

// Source returns the origin the index reads from.
func (ix *Index) Source() storage.Source { return ix.src }

// Build walks the origin and inserts every object not already present.
// It returns the number of inserted entries. Any origin error aborts the walk.
func (ix *Index) Build(ctx context.Context) (int, error) {
	return ix.walk(ctx, false)
}

// Refresh re-walks the origin every interval until ctx is done. Missing
// entries are inserted and entries whose size and modification time are
// unchanged get a new TTL; entries for changed files are left as they are.
func (ix *Index) Refresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ix.walk(ctx, true); err != nil && ctx.Err() == nil {
				logging.Error("index refresh failed", zap.Error(err))
			}
		}
	}
}

func (ix *Index) walk(ctx context.Context, renew bool) (int, error) {
	start := time.Now()
	added := 0
	err := ix.src.Walk(ctx, func(o storage.Object) error {
		e := entryOf(o)
		if renew {
			if cur, ok := ix.entries.Peek(o.Key); ok {
				if cur.Size == e.Size && cur.ModTime.Equal(e.ModTime) {
					ix.entries.Put(o.Key, cur)
				}
				return nil
			}
		}
		if ix.entries.PutIfAbsent(o.Key, e) {
			added++
		}
		return nil
	})
	duration := time.Since(start)
	metrics.RecordIndexBuild(duration)
	metrics.SetIndexEntries(ix.entries.Len())
	if err != nil {
		return added, fmt.Errorf("build index: %w", err)
	}

	logging.Info("metadata index built",
		zap.String("source", ix.src.Type()),
		zap.Bool("refresh", renew),
		zap.Int("added", added),
		zap.Int("entries", ix.entries.Len()),
		zap.Duration("duration", duration))
	return added, nil
}

// Lookup is a pure cache read. A miss means the key is absent, hidden, a
// directory, evicted, or not yet indexed.
func (ix *Index) Lookup(key string) (FileEntry, bool) {
	return ix.entries.Get(key)
}

// Load is Lookup plus, in lazy mode, a single origin stat on miss. A failed
// stat is not an error: it is reported as a miss.
func (ix *Index) Load(ctx context.Context, key string) (FileEntry, bool) {
	if e, ok := ix.Lookup(key); ok {
		return e, true
	}
	if ix.mode != ModeLazy {
		return FileEntry{}, false
	}

	o, err := ix.src.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrNotIndexable) {
			metrics.RecordLazyStat("miss")
		} else {
			metrics.RecordLazyStat("error")
			logging.WithContext(ctx).Warn("lazy stat failed", zap.String("key", key), zap.Error(err))
		}
		return FileEntry{}, false
	}
	metrics.RecordLazyStat("hit")

	e := entryOf(o)
	ix.entries.PutIfAbsent(key, e)
	metrics.SetIndexEntries(ix.entries.Len())
	return e, true
}

// Len returns the number of cached entries.
func (ix *Index) Len() int {
	return ix.entries.Len()
}

func entryOf(o storage.Object) FileEntry {
	return FileEntry{Path: o.Key, Size: o.Size, ModTime: o.ModTime}
}
