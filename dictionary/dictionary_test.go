package dictionary

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lingvec/args"
	"github.com/hupe1980/lingvec/bpe"
	"github.com/hupe1980/lingvec/sent"
)

const testTableSize = 1 << 16

func testArgs() *args.Args {
	a := args.New()
	a.Verbose = 0
	a.MinCount = 1
	a.MinCountLabel = 0

	return a
}

func newTestDictionary(t *testing.T, a *args.Args) *Dictionary {
	t.Helper()

	return New(a, bpe.NewEncoder(), WithTableSize(testTableSize))
}

func scan(corpus string) LineScanner {
	return bufio.NewScanner(strings.NewReader(corpus))
}

func wordLine(words ...string) string {
	var sb strings.Builder
	sb.WriteString(`{"target":{"words":[`)
	for i, w := range words {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"w":%q,"p":1}`, w)
	}
	sb.WriteString(`]}}`)

	return sb.String()
}

func TestHashConstants(t *testing.T) {
	// Signed-char FNV-1a compatibility constant.
	assert.Equal(t, uint32(0x1a47e90b), Hash("abc"))
	assert.Equal(t, uint32(3020861980), Hash("the"))

	// POS tag folds into the hash only when non-zero.
	assert.Equal(t, Hash("the"), HashPos("the", 0))
	assert.NotEqual(t, Hash("the"), HashPos("the", 1))
	assert.NotEqual(t, HashPos("the", 1), HashPos("the", 2))
}

func TestThreshold(t *testing.T) {
	a := testArgs()
	a.MinCount = 3

	d := newTestDictionary(t, a)

	var lines []string
	counts := map[string]int{"a": 10, "b": 9, "c": 2, "d": 1, "e": 1}
	for w, n := range counts {
		for i := 0; i < n; i++ {
			lines = append(lines, wordLine(w))
		}
	}
	require.NoError(t, d.ReadFromFile(scan(strings.Join(lines, "\n"))))

	assert.Equal(t, int32(2), d.Nwords())
	assert.Equal(t, int64(23), d.Ntokens())

	// Survivors are ordered by descending count.
	assert.Equal(t, "a", d.GetWord(0))
	assert.Equal(t, "b", d.GetWord(1))
	wordCounts := d.GetCounts(KindWord)
	assert.Equal(t, []int64{10, 9}, wordCounts)

	// Dropped words no longer resolve.
	assert.Equal(t, int32(-1), d.GetID("c", 1, KindAll))
}

func TestFindResolvesEveryEntry(t *testing.T) {
	d := newTestDictionary(t, testArgs())

	corpus := strings.Join([]string{
		wordLine("alpha", "beta", "gamma"),
		wordLine("alpha", "beta"),
		`{"target":{"words":[{"w":"alpha","p":2}],"concepts":["Q42"]}}`,
	}, "\n")
	require.NoError(t, d.ReadFromFile(scan(corpus)))

	for i := int32(0); i < d.SizeAll(); i++ {
		assert.Equal(t, i, d.GetID(d.GetWord(i), d.GetPoS(i), d.GetType(i)),
			"entry %d (%s) does not resolve to itself", i, d.GetWord(i))
	}
}

func TestPerKindCountsSumToSize(t *testing.T) {
	d := newTestDictionary(t, testArgs())

	corpus := strings.Join([]string{
		`{"target":{"words":[{"w":"one","p":1},{"w":"two","p":1}],"phrases":[{"w":"one two","i":"one_two","p":1,"C":[0,1]}],"concepts":["Q1"]}}`,
		wordLine("one", "three"),
	}, "\n")
	require.NoError(t, d.ReadFromFile(scan(corpus)))

	sum := d.Size(KindWord) + d.Size(KindLabel) + d.Size(KindSubword) +
		d.Size(KindPhrase) + d.Size(KindKBConcept)
	assert.Equal(t, d.SizeAll(), sum)
	assert.Equal(t, d.SizeAll(), d.Size(KindAll))
}

func TestSameSurfaceDistinctKinds(t *testing.T) {
	d := newTestDictionary(t, testArgs())

	corpus := `{"target":{"words":[{"w":"bank","p":1}],"concepts":["bank"]}}`
	require.NoError(t, d.ReadFromFile(scan(corpus)))

	wordID := d.GetID("bank", 1, KindWord)
	conceptID := d.GetID("bank", 0, KindKBConcept)
	require.GreaterOrEqual(t, wordID, int32(0))
	require.GreaterOrEqual(t, conceptID, int32(0))
	assert.NotEqual(t, wordID, conceptID)
	assert.Equal(t, KindWord, d.GetType(wordID))
	assert.Equal(t, KindKBConcept, d.GetType(conceptID))
}

func TestPDiscardBounds(t *testing.T) {
	d := newTestDictionary(t, testArgs())
	require.NoError(t, d.ReadFromFile(scan(strings.Join([]string{
		wordLine("x", "y", "z"), wordLine("x"), wordLine("x", "y"),
	}, "\n"))))

	for i := int32(0); i < d.SizeAll(); i++ {
		p := d.PDiscard(i)
		assert.GreaterOrEqual(t, p, float32(0))
		assert.LessOrEqual(t, p, float32(1))
	}
}

func TestDiscardStatistics(t *testing.T) {
	a := testArgs()
	a.T = 1e-4

	d := newTestDictionary(t, a)

	// One word at frequency 0.01 of 10k tokens.
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, wordLine("rare"))
	}
	for i := 0; i < 9900; i++ {
		lines = append(lines, wordLine("common"))
	}
	require.NoError(t, d.ReadFromFile(scan(strings.Join(lines, "\n"))))

	id := d.GetID("rare", 1, KindWord)
	require.GreaterOrEqual(t, id, int32(0))

	// pdiscard = sqrt(t/f) + t/f = sqrt(0.01) + 0.01 = 0.11.
	assert.InDelta(t, 0.11, float64(d.PDiscard(id)), 1e-6)

	rng := rand.New(rand.NewSource(7))
	const samples = 1_000_000
	kept := 0
	for i := 0; i < samples; i++ {
		if !d.Discard(id, rng.Float32()) {
			kept++
		}
	}
	assert.InDelta(t, 0.11, float64(kept)/samples, 0.01*0.11+0.001)
}

func TestDiscardSupervisedAlwaysKeeps(t *testing.T) {
	a := testArgs()
	a.Model = args.ModelSupervised

	d := newTestDictionary(t, a)
	require.NoError(t, d.ReadFromFile(scan(wordLine("w"))))

	id := d.GetID("w", 1, KindWord)
	require.GreaterOrEqual(t, id, int32(0))
	assert.False(t, d.Discard(id, 0.99999))
}

func bpeEncoder(t *testing.T, codes string) *bpe.Encoder {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codes.txt")
	require.NoError(t, os.WriteFile(path, []byte(codes), 0o644))
	e, err := bpe.NewEncoderFromFile(path)
	require.NoError(t, err)

	return e
}

func TestInitSubwords(t *testing.T) {
	a := testArgs()
	a.Minn = 2
	a.MaxBPEVars = 3

	e := bpeEncoder(t, "f o\nfo x\n")
	d := New(a, e, WithTableSize(testTableSize))
	require.NoError(t, d.ReadFromFile(scan(wordLine("fox"))))

	id := d.GetID("fox", 1, KindWord)
	require.GreaterOrEqual(t, id, int32(0))

	subs := d.GetSubwords(id)
	require.NotEmpty(t, subs)
	assert.Equal(t, id, subs[0], "entry's own id comes first")

	// "fox" decomposes through fo+x; "fo" survives minn=2.
	foID := d.GetID("fo", 0, KindSubword)
	require.GreaterOrEqual(t, foID, int32(0))
	assert.Contains(t, subs, foID)
	assert.Greater(t, d.Size(KindSubword), int32(0))
}

func TestSaveLoadDumpRoundTrip(t *testing.T) {
	a := testArgs()
	a.Minn = 2

	e := bpeEncoder(t, "f o\nfo x\nq u\n")
	d := New(a, e, WithTableSize(testTableSize))

	corpus := strings.Join([]string{
		`{"target":{"words":[{"w":"fox","p":2},{"w":"quick","p":3}],"phrases":[{"w":"quick fox","i":"quick_fox","C":[1,0]}],"concepts":["Q1265"]}}`,
		wordLine("fox", "fox"),
	}, "\n")
	require.NoError(t, d.ReadFromFile(scan(corpus)))

	var blob bytes.Buffer
	require.NoError(t, d.Save(&blob))

	loaded, err := NewFromReader(a, bytes.NewReader(blob.Bytes()), WithTableSize(testTableSize))
	require.NoError(t, err)

	var dumpA, dumpB bytes.Buffer
	d.Dump(&dumpA)
	loaded.Dump(&dumpB)
	assert.Equal(t, dumpA.String(), dumpB.String())

	// A second round trip is byte-stable too.
	var blob2 bytes.Buffer
	require.NoError(t, loaded.Save(&blob2))
	loaded2, err := NewFromReader(a, bytes.NewReader(blob2.Bytes()), WithTableSize(testTableSize))
	require.NoError(t, err)
	var dumpC bytes.Buffer
	loaded2.Dump(&dumpC)
	assert.Equal(t, dumpA.String(), dumpC.String())
}

func TestEmptyVocabulary(t *testing.T) {
	a := testArgs()
	a.MinCount = 100

	d := newTestDictionary(t, a)
	err := d.ReadFromFile(scan(wordLine("once")))
	require.ErrorIs(t, err, ErrEmptyVocabulary)
}

type sliceLineReader struct {
	lines []string
	pos   int
}

func (s *sliceLineReader) ReadLine() ([]byte, bool, error) {
	if len(s.lines) == 0 {
		return nil, false, io.EOF
	}
	wrapped := false
	if s.pos >= len(s.lines) {
		s.pos = 0
		wrapped = true
	}
	line := s.lines[s.pos]
	s.pos++

	return []byte(line), wrapped, nil
}

func TestGetLineCompact(t *testing.T) {
	a := testArgs()
	a.Model = args.ModelSupervised // no subsampling, deterministic counts

	d := newTestDictionary(t, a)
	record := `{"target":{"words":[{"w":"le","p":1,"l":1},{"w":"chat","p":2,"l":0}]},"other_langs":[{"words":[{"w":"cat","p":2,"l":0}]}]}`
	require.NoError(t, d.ReadFromFile(scan(record)))

	lr := &sliceLineReader{lines: []string{record}}
	rng := rand.New(rand.NewSource(1))

	var line sent.CompactLine
	n, err := d.GetLine(lr, &line, rng)
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)

	require.Len(t, line.Target.Words, 2)
	assert.GreaterOrEqual(t, line.Target.Words[0].Num, int32(0))
	assert.GreaterOrEqual(t, line.Target.Words[1].Num, int32(0))

	// Aux offsets were derived.
	assert.NotZero(t, line.Target.Words[1].FirstChildOffs())

	// The missing cross-lingual mapping was filled.
	require.Len(t, line.OtherLangs, 1)
	assert.Len(t, line.OtherLangs[0].MappingToTargetWords, 1)
}

func TestGetLineSupervised(t *testing.T) {
	a := testArgs()
	a.Model = args.ModelSupervised
	a.Maxn = 0
	a.WordNgrams = 1

	d := newTestDictionary(t, a)
	// The supervised path tokenizes plain text; counts come from Add.
	for i := 0; i < 3; i++ {
		d.Add("__label__pos")
		d.Add("good")
		d.Add("movie")
	}
	d.Threshold(1, 1)

	lr := &sliceLineReader{lines: []string{"good movie __label__pos"}}
	var words, labels []int32
	n, err := d.GetLineSupervised(lr, &words, &labels)
	require.NoError(t, err)
	assert.Equal(t, int32(4), n) // good movie __label__pos </s>

	assert.Len(t, words, 2)
	require.Len(t, labels, 1)
	label, err := d.GetLabel(labels[0])
	require.NoError(t, err)
	assert.Equal(t, "__label__pos", label)
}

func TestGetLabelOutOfRange(t *testing.T) {
	d := newTestDictionary(t, testArgs())
	_, err := d.GetLabel(5)
	require.Error(t, err)
}

func TestPrune(t *testing.T) {
	a := testArgs()
	a.Model = args.ModelSupervised
	a.Maxn = 0

	d := newTestDictionary(t, a)
	for i := 0; i < 5; i++ {
		d.Add("keepme")
	}
	for i := 0; i < 4; i++ {
		d.Add("dropme")
	}
	d.Add("__label__a")
	d.Threshold(1, 1)

	require.Equal(t, int32(2), d.Nwords())
	require.Equal(t, int32(1), d.Nlabels())

	keepID := d.GetID("keepme", 0, KindWord)
	require.GreaterOrEqual(t, keepID, int32(0))

	d.Prune([]int32{keepID})

	assert.Equal(t, int32(1), d.Nwords())
	assert.Equal(t, int32(2), d.SizeAll())
	assert.True(t, d.IsPruned())

	assert.GreaterOrEqual(t, d.GetID("keepme", 0, KindWord), int32(0))
	assert.Equal(t, int32(-1), d.GetID("dropme", 0, KindWord))
	assert.GreaterOrEqual(t, d.GetID("__label__a", 0, KindLabel), int32(0))
}
