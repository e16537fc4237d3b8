//go:build linux

package local

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

func lstat(path string) (statResult, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return statResult{}, &fs.PathError{Op: "lstat", Path: path, Err: err}
	}
	sec, nsec := st.Mtim.Unix()
	return statResult{
		kind:    kindOf(st.Mode & unix.S_IFMT),
		size:    st.Size,
		modTime: time.Unix(sec, nsec),
	}, nil
}

func kindOf(format uint32) fileKind {
	switch format {
	case unix.S_IFREG:
		return kindRegular
	case unix.S_IFDIR:
		return kindDir
	case unix.S_IFLNK:
		return kindSymlink
	default:
		return kindOther
	}
}
