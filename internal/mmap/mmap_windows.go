//go:build windows

package mmap

import (
	"io"
	"os"
)

// Windows falls back to reading the file into memory; corpus access is
// read-only so the semantics are identical.
func mapFile(f *os.File, size int) ([]byte, bool, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, false, err
	}

	return data, false, nil
}

func unmapFile([]byte) error { return nil }
