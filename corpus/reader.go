// Package corpus opens training corpora: sequential line readers with
// transparent decompression for vocabulary building, and mmap-backed
// seekable sections for training workers.
package corpus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/lingvec/internal/mmap"
)

// ErrStdinTraining is returned when a seekable corpus is requested for "-".
var ErrStdinTraining = errors.New("cannot use stdin for training")

// ErrCompressedTraining is returned when training is attempted on a
// compressed corpus; workers need byte-offset seeks.
var ErrCompressedTraining = errors.New("training requires an uncompressed corpus")

// Reader streams corpus lines sequentially.
type Reader struct {
	scanner *bufio.Scanner
	closers []io.Closer
}

const maxLineBytes = 64 * 1024 * 1024

// Open returns a line reader over the file, decompressing .zst, .gz and
// .lz4 inputs by extension. Pass "-" for stdin.
func Open(path string) (*Reader, error) {
	if path == "-" {
		return newReader(os.Stdin), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}

	var src io.Reader = f
	closers := []io.Closer{f}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()

			return nil, fmt.Errorf("open corpus %s: %w", path, err)
		}
		src = zr
		closers = append(closers, closerFunc(func() error { zr.Close(); return nil }))
	case ".gz":
		gr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()

			return nil, fmt.Errorf("open corpus %s: %w", path, err)
		}
		src = gr
		closers = append(closers, gr)
	case ".lz4":
		src = lz4.NewReader(f)
	}

	r := newReader(src)
	r.closers = closers

	return r, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newReader(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineBytes)

	return &Reader{scanner: scanner}
}

// Scan advances to the next line.
func (r *Reader) Scan() bool { return r.scanner.Scan() }

// Bytes returns the current line without its newline.
func (r *Reader) Bytes() []byte { return r.scanner.Bytes() }

// Err returns the first non-EOF error seen.
func (r *Reader) Err() error { return r.scanner.Err() }

// Close releases underlying resources.
func (r *Reader) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func isCompressed(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".gz", ".lz4":
		return true
	default:
		return false
	}
}

// File is an mmapped corpus shared by all training workers.
type File struct {
	mapping *mmap.Mapping
}

// OpenFile maps a corpus for section readers. Compressed corpora and stdin
// are rejected.
func OpenFile(path string) (*File, error) {
	if path == "-" {
		return nil, ErrStdinTraining
	}
	if isCompressed(path) {
		return nil, fmt.Errorf("%w: %s", ErrCompressedTraining, path)
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	return &File{mapping: m}, nil
}

// Size returns the corpus size in bytes.
func (f *File) Size() int64 { return int64(f.mapping.Len()) }

// Close releases the mapping. Call only after all sections are done.
func (f *File) Close() error { return f.mapping.Close() }

// Section returns a line reader starting at offset threadID*size/threads,
// advanced past the next newline, that wraps to the file start at EOF.
func (f *File) Section(threadID, threads int) *Section {
	data := f.mapping.Data()
	pos := int64(threadID) * int64(len(data)) / int64(threads)
	if pos > 0 {
		// Skip the partial line the seek landed in.
		if i := bytes.IndexByte(data[pos:], '\n'); i >= 0 {
			pos += int64(i) + 1
		} else {
			pos = 0
		}
	}

	return &Section{data: data, pos: pos}
}

// Section is one worker's cursor over the shared corpus bytes.
type Section struct {
	data []byte
	pos  int64
}

// ReadLine returns the next line without its newline, restarting from the
// beginning of the corpus at EOF. It implements dictionary.LineReader.
func (s *Section) ReadLine() ([]byte, bool, error) {
	if len(s.data) == 0 {
		return nil, false, io.EOF
	}

	wrapped := false
	for {
		if s.pos >= int64(len(s.data)) {
			if wrapped {
				// Only blank content; treat as exhausted.
				return nil, true, io.EOF
			}
			s.pos = 0
			wrapped = true
		}

		rest := s.data[s.pos:]
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i]
			s.pos += int64(i) + 1
		} else {
			line = rest
			s.pos = int64(len(s.data))
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		return line, wrapped, nil
	}
}
