package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/fruitstatic/internal/cache"
	"github.com/fruitsalade/fruitstatic/internal/index"
	"github.com/fruitsalade/fruitstatic/internal/logging"
	"github.com/fruitsalade/fruitstatic/internal/storage/local"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	root  string
	clock *fakeClock
	ix    *index.Index
	res   *Resolver
}

// newFixture writes files (name -> contents) under a temp root, builds an
// eager index and returns a resolver over it.
func newFixture(t *testing.T, files map[string]string, cfg Config) *fixture {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return newFixtureAt(t, root, cfg)
}

func newFixtureAt(t *testing.T, root string, cfg Config) *fixture {
	t.Helper()
	clock := newClock()

	src, err := local.New(local.Config{RootPath: root})
	require.NoError(t, err)
	ix, err := index.New(src, index.Config{Mode: index.ModeEager, Capacity: 500, TTL: time.Hour, Now: clock.Now})
	require.NoError(t, err)
	_, err = ix.Build(context.Background())
	require.NoError(t, err)

	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	tokens, err := cache.New[string, FreshnessRecord](cache.Config{Capacity: 500, TTL: maxAge, Now: clock.Now})
	require.NoError(t, err)

	cfg.Now = clock.Now
	res, err := New(ix, tokens, cfg)
	require.NoError(t, err)
	return &fixture{root: src.Root(), clock: clock, ix: ix, res: res}
}

func readBody(t *testing.T, d *Disposition) string {
	t.Helper()
	require.NotNil(t, d.Body)
	defer d.Close()
	b, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	return string(b)
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t, nil, Config{})
	tokens, err := cache.New[string, FreshnessRecord](cache.Config{Capacity: 1})
	require.NoError(t, err)

	_, err = New(nil, tokens, Config{})
	assert.Error(t, err)
	_, err = New(f.ix, nil, Config{})
	assert.Error(t, err)
	_, err = New(f.ix, tokens, Config{ChunkSize: -1})
	assert.Error(t, err)
	_, err = New(f.ix, tokens, Config{Headers: []HeaderRule{{Name: "X-A"}}})
	assert.Error(t, err)
}

func TestResolve_FullContent(t *testing.T) {
	f := newFixture(t, map[string]string{"style.css": "body{}"}, Config{MaxAge: time.Minute})

	d := f.res.Resolve(context.Background(), Request{Path: "/style.css"})
	require.Equal(t, FullContent, d.Kind)
	assert.Equal(t, http.StatusOK, d.Status)
	assert.Equal(t, "6", d.Header.Get("Content-Length"))
	assert.Equal(t, "text/css; charset=utf-8", d.Header.Get("Content-Type"))
	assert.Equal(t, "max-age=60", d.Header.Get("Cache-Control"))
	assert.Equal(t, FreshnessToken(d.Entry), d.Header.Get("ETag"))
	assert.Equal(t, "body{}", readBody(t, d))
}

// P3 and the 10,000,000-byte video scenario.
func TestResolve_OpenEndedRange(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "video.mp4")
	fh, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, fh.Truncate(10_000_000))
	require.NoError(t, fh.Close())
	f := newFixtureAt(t, root, Config{ChunkSize: 3145728})

	d := f.res.Resolve(context.Background(), Request{Path: "/video.mp4", Range: "bytes=0-"})
	defer d.Close()
	require.Equal(t, PartialContent, d.Kind)
	assert.Equal(t, http.StatusPartialContent, d.Status)
	assert.Equal(t, "bytes 0-3145728/10000000", d.Header.Get("Content-Range"))
	assert.Equal(t, "bytes", d.Header.Get("Accept-Ranges"))
	assert.Equal(t, "3145729", d.Header.Get("Content-Length"))
	assert.Equal(t, int64(3145729), d.Length)
	assert.Empty(t, d.Header.Get("ETag"))
	assert.Empty(t, d.Header.Get("Cache-Control"))
}

func TestResolve_OpenEndedRangeClampedToSize(t *testing.T) {
	f := newFixture(t, map[string]string{"small.bin": "0123456789"}, Config{ChunkSize: 1 << 20})

	d := f.res.Resolve(context.Background(), Request{Path: "/small.bin", Range: "bytes=4-"})
	require.Equal(t, PartialContent, d.Kind)
	assert.Equal(t, Range{Start: 4, End: 9}, *d.Range)
	assert.Equal(t, "bytes 4-9/10", d.Header.Get("Content-Range"))
	assert.Equal(t, "456789", readBody(t, d))
}

// P4.
func TestResolve_ExplicitRange(t *testing.T) {
	body := "abcdefghijklmnopqrstuvwxyz"
	f := newFixture(t, map[string]string{"a.txt": body}, Config{})

	d := f.res.Resolve(context.Background(), Request{Path: "/a.txt", Range: "bytes=10-20"})
	require.Equal(t, PartialContent, d.Kind)
	assert.Equal(t, Range{Start: 10, End: 20}, *d.Range)
	assert.Equal(t, "11", d.Header.Get("Content-Length"))
	assert.Equal(t, body[10:21], readBody(t, d))
}

func TestResolve_DegenerateRange(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "short"}, Config{})

	d := f.res.Resolve(context.Background(), Request{Path: "/a.txt", Range: "bytes=50-"})
	require.Equal(t, PartialContent, d.Kind)
	assert.True(t, d.Degenerate())
	assert.Nil(t, d.Body)
	assert.Equal(t, Range{Start: 50, End: 4}, *d.Range)
	assert.Equal(t, "bytes */5", d.Header.Get("Content-Range"))
	assert.Empty(t, d.Header.Get("Content-Length"))
	require.NoError(t, d.Close())
}

func TestResolve_MalformedRangeFallsBackToFullContent(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "hello"}, Config{})

	for _, h := range []string{"bytes=abc-", "items=0-1", "bytes=-5"} {
		d := f.res.Resolve(context.Background(), Request{Path: "/a.txt", Range: h})
		assert.Equal(t, FullContent, d.Kind, h)
		assert.Equal(t, "hello", readBody(t, d))
	}
}

// P5.
func TestResolve_TokenStable(t *testing.T) {
	f := newFixture(t, map[string]string{"app.js": "x"}, Config{})

	d1 := f.res.Resolve(context.Background(), Request{Path: "/app.js"})
	d2 := f.res.Resolve(context.Background(), Request{Path: "/app.js"})
	defer d1.Close()
	defer d2.Close()
	assert.NotEmpty(t, d1.Header.Get("ETag"))
	assert.Equal(t, d1.Header.Get("ETag"), d2.Header.Get("ETag"))
}

// P6, P7 and the style.css scenario.
func TestResolve_ConditionalLifecycle(t *testing.T) {
	f := newFixture(t, map[string]string{"style.css": "body{}"}, Config{MaxAge: 60 * time.Second})
	ctx := context.Background()

	first := f.res.Resolve(ctx, Request{Path: "/style.css"})
	require.Equal(t, FullContent, first.Kind)
	token := first.Header.Get("ETag")
	require.NotEmpty(t, token)
	first.Close()

	f.clock.Advance(30 * time.Second)
	second := f.res.Resolve(ctx, Request{Path: "/style.css", IfNoneMatch: token})
	require.Equal(t, NotModified, second.Kind)
	assert.Equal(t, http.StatusNotModified, second.Status)
	assert.Nil(t, second.Body)
	assert.Equal(t, token, second.Header.Get("ETag"))
	assert.Empty(t, second.Header.Get("Content-Length"))

	f.clock.Advance(31 * time.Second)
	third := f.res.Resolve(ctx, Request{Path: "/style.css", IfNoneMatch: token})
	require.Equal(t, FullContent, third.Kind)
	assert.Equal(t, token, third.Header.Get("ETag"))
	third.Close()

	// The reissued record restarts the window.
	f.clock.Advance(10 * time.Second)
	fourth := f.res.Resolve(ctx, Request{Path: "/style.css", IfNoneMatch: token})
	assert.Equal(t, NotModified, fourth.Kind)
}

func TestResolve_TokenNotIssuedYet(t *testing.T) {
	f := newFixture(t, map[string]string{"style.css": "body{}"}, Config{})
	e, ok := f.ix.Lookup(filepath.Join(f.root, "style.css"))
	require.True(t, ok)

	// A client can guess the token, but without an issued record it is not honoured.
	d := f.res.Resolve(context.Background(), Request{Path: "/style.css", IfNoneMatch: FreshnessToken(e)})
	defer d.Close()
	assert.Equal(t, FullContent, d.Kind)
}

func TestResolve_MismatchedToken(t *testing.T) {
	f := newFixture(t, map[string]string{"style.css": "body{}"}, Config{})
	first := f.res.Resolve(context.Background(), Request{Path: "/style.css"})
	first.Close()

	d := f.res.Resolve(context.Background(), Request{Path: "/style.css", IfNoneMatch: `"1-2"`})
	defer d.Close()
	assert.Equal(t, FullContent, d.Kind)
}

// P8 and the index.html scenario.
func TestResolve_NoCacheType(t *testing.T) {
	f := newFixture(t, map[string]string{"index.html": "<html></html>"}, Config{})
	ctx := context.Background()

	first := f.res.Resolve(ctx, Request{Path: "/index.html"})
	require.Equal(t, FullContent, first.Kind)
	assert.Empty(t, first.Header.Get("ETag"))
	assert.Equal(t, "no-cache", first.Header.Get("Cache-Control"))
	first.Close()

	e, ok := f.ix.Lookup(filepath.Join(f.root, "index.html"))
	require.True(t, ok)
	for _, tok := range []string{"", FreshnessToken(e), `"stale"`} {
		d := f.res.Resolve(ctx, Request{Path: "/index.html", IfNoneMatch: tok})
		assert.Equal(t, FullContent, d.Kind)
		assert.Empty(t, d.Header.Get("ETag"))
		d.Close()
	}
}

func TestResolve_CacheAllTypes(t *testing.T) {
	f := newFixture(t, map[string]string{"index.html": "<html></html>"}, Config{CacheAllTypes: true})

	d := f.res.Resolve(context.Background(), Request{Path: "/index.html"})
	defer d.Close()
	assert.NotEmpty(t, d.Header.Get("ETag"))
}

// P9.
func TestResolve_NotFound(t *testing.T) {
	f := newFixture(t, map[string]string{
		".secret":       "x",
		"dir/child.txt": "y",
	}, Config{})

	for _, p := range []string{"/missing.txt", "/.secret", "/dir", "/dir/"} {
		d := f.res.Resolve(context.Background(), Request{Path: p})
		assert.Equal(t, NotFound, d.Kind, p)
		assert.Equal(t, http.StatusNotFound, d.Status)
		assert.Nil(t, d.Body)

		var nf *NotFoundError
		require.True(t, errors.As(d.Err, &nf))
		assert.Equal(t, "fruitstatic", nf.Name)
		assert.Equal(t, p+" not found", nf.Message)
		assert.Equal(t, http.StatusNotFound, nf.Status)
		assert.ErrorIs(t, d.Err, ErrNotFound)
	}
}

func TestResolve_ConfineToRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "public")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), []byte("ok"), 0o644))

	f := newFixtureAt(t, root, Config{ConfineToRoot: true})
	d := f.res.Resolve(context.Background(), Request{Path: "/sub/../ok.txt"})
	assert.Equal(t, NotFound, d.Kind)

	d = f.res.Resolve(context.Background(), Request{Path: "/ok.txt"})
	assert.Equal(t, FullContent, d.Kind)
	d.Close()
}

func TestResolve_HeaderRules(t *testing.T) {
	f := newFixture(t, map[string]string{"a.css": "a", "b.txt": "bb"}, Config{
		Headers: []HeaderRule{
			{Name: "X-Served-By", Value: func(index.FileEntry) string { return "fruitstatic" }},
			{Name: "X-Size", Value: func(e index.FileEntry) string {
				if e.Size > 1 {
					return "big"
				}
				return ""
			}},
			{Name: "Content-Length", Value: func(index.FileEntry) string { return "999" }},
		},
	})

	d := f.res.Resolve(context.Background(), Request{Path: "/a.css"})
	defer d.Close()
	assert.Equal(t, "fruitstatic", d.Header.Get("X-Served-By"))
	assert.Empty(t, d.Header.Get("X-Size"))
	assert.Equal(t, "1", d.Header.Get("Content-Length"))

	d2 := f.res.Resolve(context.Background(), Request{Path: "/b.txt"})
	defer d2.Close()
	assert.Equal(t, "big", d2.Header.Get("X-Size"))

	// Rules apply to full-content responses only.
	d3 := f.res.Resolve(context.Background(), Request{Path: "/b.txt", Range: "bytes=0-0"})
	defer d3.Close()
	assert.Empty(t, d3.Header.Get("X-Served-By"))
}

func TestResolve_UnknownExtension(t *testing.T) {
	f := newFixture(t, map[string]string{"blob.zzqx": "?"}, Config{})
	d := f.res.Resolve(context.Background(), Request{Path: "/blob.zzqx"})
	defer d.Close()
	assert.Equal(t, "application/octet-stream", d.Header.Get("Content-Type"))
}

func TestResolve_StreamErrorWhenFileVanishes(t *testing.T) {
	f := newFixture(t, map[string]string{"gone.txt": "bye"}, Config{})
	require.NoError(t, os.Remove(filepath.Join(f.root, "gone.txt")))

	// The index is stale by design, so resolution still succeeds.
	d := f.res.Resolve(context.Background(), Request{Path: "/gone.txt"})
	require.Equal(t, FullContent, d.Kind)
	defer d.Close()

	_, err := io.ReadAll(d.Body)
	var se *StreamError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolve_Concurrent(t *testing.T) {
	f := newFixture(t, map[string]string{"a.css": "aaaa", "v.mp4": "0123456789"}, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := Request{Path: "/a.css"}
			if i%2 == 0 {
				req = Request{Path: "/v.mp4", Range: "bytes=2-5"}
			}
			d := f.res.Resolve(context.Background(), req)
			defer d.Close()
			b, err := io.ReadAll(d.Body)
			assert.NoError(t, err)
			if i%2 == 0 {
				assert.Equal(t, "2345", string(b))
			} else {
				assert.Equal(t, "aaaa", string(b))
			}
		}(i)
	}
	wg.Wait()
}
