package resolver

import (
	"fmt"
	"time"

	"github.com/fruitsalade/fruitstatic/internal/index"
)

// FreshnessToken derives the ETag of an entry from its size and modification
// time (milliseconds), both in hex. Files sharing both collide.
func FreshnessToken(e index.FileEntry) string {
	return fmt.Sprintf(`"%x-%x"`, e.Size, e.ModTime.UnixMilli())
}

// FreshnessRecord remembers when a token was last issued.
type FreshnessRecord struct {
	Token    string
	MaxAge   time.Duration
	IssuedAt time.Time
}

// Fresh reports whether now is still inside the record's validity window.
func (r FreshnessRecord) Fresh(now time.Time) bool {
	return now.Sub(r.IssuedAt) < r.MaxAge
}
