// Package bpe applies prebuilt byte-pair-encoding merge tables to tokens,
// producing ranked subword segmentations. Merges are consumed from a codes
// file; learning them is out of scope.
package bpe

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

type pair struct {
	left  string
	right string
}

// Encoder holds a merge table keyed by adjacent symbol pairs. The zero or
// empty encoder is valid and produces no merges.
type Encoder struct {
	ranks map[pair]int
	codes []pair // in rank order, for serialization
}

// NewEncoder returns an empty encoder, used when loading a persisted model.
func NewEncoder() *Encoder {
	return &Encoder{ranks: make(map[pair]int)}
}

// NewEncoderFromFile reads a fastBPE-style codes file: one merge per line,
// "left right" optionally followed by a frequency column. Line order defines
// merge priority.
func NewEncoderFromFile(path string) (*Encoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open BPE codes %s: %w", path, err)
	}
	defer f.Close()

	e := NewEncoder()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed BPE codes line in %s: %q", path, line)
		}
		e.addCode(fields[0], fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read BPE codes %s: %w", path, err)
	}

	return e, nil
}

func (e *Encoder) addCode(left, right string) {
	p := pair{left: left, right: right}
	if _, ok := e.ranks[p]; ok {
		return
	}
	e.ranks[p] = len(e.codes)
	e.codes = append(e.codes, p)
}

// Size returns the number of merge rules.
func (e *Encoder) Size() int { return len(e.codes) }

// Apply segments token into up to maxVariants ranked subword sequences. The
// first variant is the fully-merged segmentation; later variants undo the
// final merges one at a time, exposing finer-grained subwords.
func (e *Encoder) Apply(token string, maxVariants int) [][]string {
	if token == "" || maxVariants <= 0 {
		return nil
	}

	symbols := splitSymbols(token)

	var states [][]string
	for {
		best, pos := -1, -1
		for i := 0; i+1 < len(symbols); i++ {
			rank, ok := e.ranks[pair{left: symbols[i], right: symbols[i+1]}]
			if ok && (best == -1 || rank < best) {
				best, pos = rank, i
			}
		}
		if best == -1 {
			break
		}

		merged := make([]string, 0, len(symbols)-1)
		merged = append(merged, symbols[:pos]...)
		merged = append(merged, symbols[pos]+symbols[pos+1])
		merged = append(merged, symbols[pos+2:]...)
		symbols = merged

		states = append(states, symbols)
	}

	if len(states) == 0 {
		return [][]string{symbols}
	}

	// Rank from most merged to least.
	variants := make([][]string, 0, min(maxVariants, len(states)))
	for i := len(states) - 1; i >= 0 && len(variants) < maxVariants; i-- {
		variants = append(variants, states[i])
	}

	return variants
}

func splitSymbols(token string) []string {
	runes := []rune(token)
	symbols := make([]string, len(runes))
	for i, r := range runes {
		symbols[i] = string(r)
	}

	return symbols
}

// UniqSubwords flattens segmentation variants into the unique subword set of
// length ≥ minn, preserving first-seen order.
func UniqSubwords(variants [][]string, minn int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, variant := range variants {
		for _, sub := range variant {
			if len([]rune(sub)) < minn {
				continue
			}
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
		}
	}

	return out
}

var byteOrder = binary.LittleEndian

// Save writes the merge table, in rank order, into the dictionary blob.
func (e *Encoder) Save(w io.Writer) error {
	if err := binary.Write(w, byteOrder, int32(len(e.codes))); err != nil {
		return fmt.Errorf("save BPE codes: %w", err)
	}
	for _, p := range e.codes {
		for _, s := range []string{p.left, p.right} {
			if _, err := w.Write(append([]byte(s), 0)); err != nil {
				return fmt.Errorf("save BPE codes: %w", err)
			}
		}
	}

	return nil
}

// Load reads a merge table written by Save.
func (e *Encoder) Load(r io.Reader) error {
	var n int32
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return fmt.Errorf("load BPE codes: %w", err)
	}

	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	e.ranks = make(map[pair]int, n)
	e.codes = e.codes[:0]
	for i := int32(0); i < n; i++ {
		left, err := readCString(br)
		if err != nil {
			return fmt.Errorf("load BPE codes: %w", err)
		}
		right, err := readCString(br)
		if err != nil {
			return fmt.Errorf("load BPE codes: %w", err)
		}
		e.addCode(left, right)
	}

	return nil
}

func readCString(r io.ByteReader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}
