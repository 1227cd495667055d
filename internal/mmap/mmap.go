// Package mmap provides read-only memory mapping of corpus files, so
// training workers can seek by byte offset without per-thread buffers.
package mmap

import (
	"fmt"
	"os"
)

// Mapping is a read-only view of a file.
type Mapping struct {
	data   []byte
	mapped bool
}

// Open maps the file at path read-only. Empty files yield an empty mapping.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	if info.Size() == 0 {
		return &Mapping{}, nil
	}

	data, mapped, err := mapFile(f, int(info.Size()))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &Mapping{data: data, mapped: mapped}, nil
}

// Data returns the mapped bytes.
func (m *Mapping) Data() []byte { return m.data }

// Len returns the mapping size.
func (m *Mapping) Len() int { return len(m.data) }

// Close releases the mapping.
func (m *Mapping) Close() error {
	if !m.mapped || m.data == nil {
		m.data = nil

		return nil
	}
	data := m.data
	m.data = nil

	return unmapFile(data)
}
