package resolver

import (
	"context"
	"errors"
	"io"

	"github.com/fruitsalade/fruitstatic/internal/storage"
)

var errStreamClosed = errors.New("stream closed")

// Stream is a lazily opened, length-bounded body. The origin is not touched
// until the first Read, and reads stop once ctx is done. A Stream is meant
// for a single consumer.
type Stream struct {
	ctx    context.Context
	src    storage.Source
	key    string
	offset int64
	length int64

	rc     io.ReadCloser
	read   int64
	closed bool
}

func newStream(ctx context.Context, src storage.Source, key string, offset, length int64) *Stream {
	return &Stream{ctx: ctx, src: src, key: key, offset: offset, length: length}
}

// Len returns the number of bytes the stream will produce.
func (s *Stream) Len() int64 { return s.length }

// Read implements io.Reader. Failures are reported as *StreamError; a body
// that ends before Len bytes yields io.ErrUnexpectedEOF.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, &StreamError{Key: s.key, Err: errStreamClosed}
	}
	if s.read >= s.length {
		return 0, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return 0, &StreamError{Key: s.key, Err: err}
	}
	if s.rc == nil {
		rc, err := s.src.Open(s.ctx, s.key, s.offset, s.length)
		if err != nil {
			return 0, &StreamError{Key: s.key, Err: err}
		}
		s.rc = rc
	}

	if remaining := s.length - s.read; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.rc.Read(p)
	s.read += int64(n)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if s.read < s.length {
			return n, &StreamError{Key: s.key, Err: io.ErrUnexpectedEOF}
		}
		return n, io.EOF
	default:
		return n, &StreamError{Key: s.key, Err: err}
	}
}

// Close releases the underlying origin reader. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.rc != nil {
		return s.rc.Close()
	}
	return nil
}
