package resolver

import (
	"net/http"

	"github.com/fruitsalade/fruitstatic/internal/index"
)

// Kind enumerates the outcomes of a resolution.
type Kind int

const (
	NotFound Kind = iota
	FullContent
	PartialContent
	NotModified
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case FullContent:
		return "full_content"
	case PartialContent:
		return "partial_content"
	case NotModified:
		return "not_modified"
	default:
		return "unknown"
	}
}

// Disposition is everything the host needs to answer one request.
type Disposition struct {
	Kind   Kind
	Status int
	Header http.Header

	// Entry is the resolved file; zero for NotFound.
	Entry index.FileEntry
	// Range is set for PartialContent.
	Range *Range
	// Length is the number of body bytes. It may be zero or negative for a
	// degenerate range.
	Length int64
	// Body is nil for NotFound, NotModified and degenerate ranges.
	Body *Stream
	// Err is a *NotFoundError for NotFound.
	Err error
}

// Degenerate reports a partial response whose clamped end lies before its
// start (a Range start at or past the end of the file).
func (d *Disposition) Degenerate() bool {
	return d.Kind == PartialContent && d.Length <= 0
}

// Close releases the body, if any.
func (d *Disposition) Close() error {
	if d.Body == nil {
		return nil
	}
	return d.Body.Close()
}
