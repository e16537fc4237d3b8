package resolver

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Range is an inclusive byte range. End may be below Start when the
// requested start lies beyond the end of the file.
type Range struct {
	Start int64
	End   int64
}

// Length returns End-Start+1, which is zero or negative for a degenerate range.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange parses "bytes=<start>-<end>?". Without an end the range extends
// chunk bytes past start (End = start+chunk, one byte more than a chunk).
// End is clamped to size-1; Start is not checked against size.
func ParseRange(header string, size, chunk int64) (Range, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return Range{}, fmt.Errorf("%w: start in %q", ErrMalformedRange, header)
	}

	var end int64
	if endStr = strings.TrimSpace(endStr); endStr == "" {
		if start > math.MaxInt64-chunk {
			end = math.MaxInt64
		} else {
			end = start + chunk
		}
	} else {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return Range{}, fmt.Errorf("%w: end in %q", ErrMalformedRange, header)
		}
	}

	if end > size-1 {
		end = size - 1
	}
	return Range{Start: start, End: end}, nil
}
