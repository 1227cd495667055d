package corpus

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func readAll(t *testing.T, r *Reader) []string {
	t.Helper()
	var lines []string
	for r.Scan() {
		lines = append(lines, string(r.Bytes()))
	}
	require.NoError(t, r.Err())

	return lines
}

func TestOpenPlain(t *testing.T) {
	path := writeFile(t, "corpus.jsonl", []byte("one\ntwo\nthree\n"))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"one", "two", "three"}, readAll(t, r))
}

func TestOpenGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("alpha\nbeta\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeFile(t, "corpus.jsonl.gz", buf.Bytes())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"alpha", "beta"}, readAll(t, r))
}

func TestOpenZstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write([]byte("alpha\nbeta\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeFile(t, "corpus.zst", buf.Bytes())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"alpha", "beta"}, readAll(t, r))
}

func TestOpenLZ4(t *testing.T) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	_, err := zw.Write([]byte("alpha\nbeta\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeFile(t, "corpus.lz4", buf.Bytes())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"alpha", "beta"}, readAll(t, r))
}

func TestOpenFileRejectsCompressed(t *testing.T) {
	path := writeFile(t, "corpus.gz", []byte("x"))
	_, err := OpenFile(path)
	require.ErrorIs(t, err, ErrCompressedTraining)

	_, err = OpenFile("-")
	require.ErrorIs(t, err, ErrStdinTraining)
}

func TestSectionsSeekToLineBoundaries(t *testing.T) {
	path := writeFile(t, "corpus.jsonl", []byte("line-a\nline-b\nline-c\nline-d\n"))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	// First section starts at the beginning.
	s0 := f.Section(0, 2)
	line, wrapped, err := s0.ReadLine()
	require.NoError(t, err)
	assert.False(t, wrapped)
	assert.Equal(t, "line-a", string(line))

	// Later sections skip the partial line their seek landed in.
	s1 := f.Section(1, 2)
	line, _, err = s1.ReadLine()
	require.NoError(t, err)
	assert.Contains(t, []string{"line-b", "line-c", "line-d"}, string(line))
}

func TestSectionWrapsAround(t *testing.T) {
	path := writeFile(t, "corpus.jsonl", []byte("first\nsecond\n"))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	s := f.Section(0, 1)
	seen := map[string]int{}
	wrappedOnce := false
	for i := 0; i < 5; i++ {
		line, wrapped, err := s.ReadLine()
		require.NoError(t, err)
		seen[string(line)]++
		wrappedOnce = wrappedOnce || wrapped
	}

	assert.True(t, wrappedOnce)
	assert.GreaterOrEqual(t, seen["first"], 2)
	assert.GreaterOrEqual(t, seen["second"], 2)
}

func TestSectionSkipsBlankLines(t *testing.T) {
	path := writeFile(t, "corpus.jsonl", []byte("a\n\n\nb\n"))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	s := f.Section(0, 1)
	line, _, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "a", string(line))
	line, _, err = s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "b", string(line))
}
