package local

import "time"

type fileKind int

const (
	kindOther fileKind = iota
	kindRegular
	kindDir
	kindSymlink
)

// statResult is the subset of lstat output the index needs.
type statResult struct {
	kind    fileKind
	size    int64
	modTime time.Time
}
