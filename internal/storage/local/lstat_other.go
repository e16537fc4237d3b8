//go:build !linux

package local

import (
	"io/fs"
	"os"
)

func lstat(path string) (statResult, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return statResult{}, err
	}
	kind := kindOther
	switch info.Mode().Type() {
	case 0:
		kind = kindRegular
	case fs.ModeDir:
		kind = kindDir
	case fs.ModeSymlink:
		kind = kindSymlink
	}
	return statResult{kind: kind, size: info.Size(), modTime: info.ModTime()}, nil
}
