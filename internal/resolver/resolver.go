// Package resolver turns a request path and its conditional/range headers
// into a single response disposition backed by the metadata index.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitstatic/internal/cache"
	"github.com/fruitsalade/fruitstatic/internal/index"
	"github.com/fruitsalade/fruitstatic/internal/logging"
	"github.com/fruitsalade/fruitstatic/internal/metrics"
	"github.com/fruitsalade/fruitstatic/internal/tracing"
)

// Defaults.
const (
	DefaultMaxAge    = 1200 * time.Second
	DefaultChunkSize = 3145728
)

// DefaultNoCacheTypes are media types that are never cache-validated.
var DefaultNoCacheTypes = []string{"text/html"}

// HeaderRule adds one header to full-content responses. Rules run in order,
// after the freshness headers and before Content-Type and Content-Length.
// An empty value skips the rule.
type HeaderRule struct {
	Name  string
	Value func(index.FileEntry) string
}

// Config holds resolver settings. Zero values select the defaults.
type Config struct {
	MaxAge time.Duration
	// CacheAllTypes disables the no-cache type set.
	CacheAllTypes bool
	NoCacheTypes  []string
	ChunkSize     int64
	// ConfineToRoot rejects URL paths containing ".." segments.
	ConfineToRoot bool
	Headers       []HeaderRule
	TypeByPath    func(p string) string
	Now           func() time.Time
}

// Request is the part of an HTTP request the resolver looks at.
type Request struct {
	Path        string
	IfNoneMatch string
	Range       string
}

// Resolver maps requests onto dispositions. It is safe for concurrent use.
type Resolver struct {
	ix      *index.Index
	tokens  *cache.Store[string, FreshnessRecord]
	cfg     Config
	noCache map[string]struct{}
}

// New creates a resolver over ix. tokens holds issued freshness records and
// is owned by the resolver from here on.
func New(ix *index.Index, tokens *cache.Store[string, FreshnessRecord], cfg Config) (*Resolver, error) {
	if ix == nil {
		return nil, errors.New("resolver: nil index")
	}
	if tokens == nil {
		return nil, errors.New("resolver: nil token cache")
	}
	if cfg.MaxAge < 0 || cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("resolver: negative max age or chunk size")
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.NoCacheTypes == nil {
		cfg.NoCacheTypes = DefaultNoCacheTypes
	}
	if cfg.TypeByPath == nil {
		cfg.TypeByPath = TypeByExtension
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	for _, rule := range cfg.Headers {
		if rule.Name == "" || rule.Value == nil {
			return nil, fmt.Errorf("resolver: incomplete header rule %q", rule.Name)
		}
	}

	noCache := make(map[string]struct{}, len(cfg.NoCacheTypes))
	if !cfg.CacheAllTypes {
		for _, t := range cfg.NoCacheTypes {
			noCache[strings.ToLower(t)] = struct{}{}
		}
	}
	return &Resolver{ix: ix, tokens: tokens, cfg: cfg, noCache: noCache}, nil
}

// TypeByExtension is the default content type lookup.
func TypeByExtension(p string) string {
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Resolve produces exactly one disposition for req. The returned body, if
// any, reads lazily under ctx; the caller must Close the disposition.
func (r *Resolver) Resolve(ctx context.Context, req Request) *Disposition {
	ctx, span := tracing.StartResolveSpan(ctx, req.Path)
	d := r.resolve(ctx, req)
	tracing.EndResolveSpan(span, d.Kind.String(), d.Status, d.Err)
	metrics.RecordResolution(d.Kind.String())
	logging.WithContext(ctx).Debug("resolved",
		zap.String("path", req.Path),
		zap.String("disposition", d.Kind.String()),
		zap.Int("status", d.Status),
	)
	return d
}

func (r *Resolver) resolve(ctx context.Context, req Request) *Disposition {
	if r.cfg.ConfineToRoot && escapesRoot(req.Path) {
		return notFound(req.Path)
	}

	key := r.ix.Source().Key(req.Path)
	entry, ok := r.ix.Load(ctx, key)
	if !ok {
		return notFound(req.Path)
	}
	contentType := r.cfg.TypeByPath(req.Path)

	if req.Range != "" {
		rng, err := ParseRange(req.Range, entry.Size, r.cfg.ChunkSize)
		if err == nil {
			return r.partial(ctx, entry, contentType, rng)
		}
		logging.WithContext(ctx).Debug("ignoring range header",
			zap.String("path", req.Path), zap.Error(err))
	}

	h := make(http.Header)
	if r.noCacheType(contentType) {
		h.Set("Cache-Control", "no-cache")
	} else {
		token := FreshnessToken(entry)
		if r.fresh(token, req.IfNoneMatch) {
			h.Set("ETag", token)
			h.Set("Cache-Control", r.cacheControl())
			return &Disposition{Kind: NotModified, Status: http.StatusNotModified, Header: h, Entry: entry}
		}
		r.tokens.Put(token, FreshnessRecord{Token: token, MaxAge: r.cfg.MaxAge, IssuedAt: r.cfg.Now()})
		h.Set("ETag", token)
		h.Set("Cache-Control", r.cacheControl())
	}

	for _, rule := range r.cfg.Headers {
		if v := rule.Value(entry); v != "" {
			h.Set(rule.Name, v)
		}
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(entry.Size, 10))

	return &Disposition{
		Kind:   FullContent,
		Status: http.StatusOK,
		Header: h,
		Entry:  entry,
		Length: entry.Size,
		Body:   newStream(ctx, r.ix.Source(), entry.Path, 0, entry.Size),
	}
}

func (r *Resolver) partial(ctx context.Context, entry index.FileEntry, contentType string, rng Range) *Disposition {
	d := &Disposition{
		Kind:   PartialContent,
		Status: http.StatusPartialContent,
		Header: make(http.Header),
		Entry:  entry,
		Range:  &rng,
		Length: rng.Length(),
	}
	d.Header.Set("Content-Type", contentType)
	d.Header.Set("Accept-Ranges", "bytes")
	if d.Degenerate() {
		d.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", entry.Size))
		return d
	}
	d.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, entry.Size))
	d.Header.Set("Content-Length", strconv.FormatInt(d.Length, 10))
	d.Body = newStream(ctx, r.ix.Source(), entry.Path, rng.Start, d.Length)
	return d
}

// fresh reports whether presented names token and a live record for it exists.
func (r *Resolver) fresh(token, presented string) bool {
	if presented == "" {
		metrics.RecordFreshnessCheck("absent")
		return false
	}
	if presented != token {
		metrics.RecordFreshnessCheck("mismatch")
		return false
	}
	rec, ok := r.tokens.Get(token)
	if !ok || !rec.Fresh(r.cfg.Now()) {
		metrics.RecordFreshnessCheck("stale")
		return false
	}
	metrics.RecordFreshnessCheck("hit")
	return true
}

func (r *Resolver) cacheControl() string {
	return "max-age=" + strconv.FormatInt(int64(r.cfg.MaxAge/time.Second), 10)
}

func (r *Resolver) noCacheType(contentType string) bool {
	if len(r.noCache) == 0 {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	_, ok := r.noCache[strings.ToLower(mediaType)]
	return ok
}

func notFound(urlPath string) *Disposition {
	return &Disposition{
		Kind:   NotFound,
		Status: http.StatusNotFound,
		Err: &NotFoundError{
			Name:    errorName,
			Message: urlPath + " not found",
			Status:  http.StatusNotFound,
		},
	}
}

// escapesRoot reports a ".." segment under either separator.
func escapesRoot(urlPath string) bool {
	for _, seg := range strings.FieldsFunc(urlPath, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
