// Package dictionary implements the multi-kind hashed vocabulary: words,
// labels, phrases, knowledge-base concepts and BPE subwords share one
// open-addressed table keyed by (surface, POS tag, kind). It owns token
// counting, frequency thresholding, the subsampling discard table, pruning,
// and the binary vocabulary blob embedded in model files.
package dictionary

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lingvec/args"
	"github.com/hupe1980/lingvec/bpe"
	"github.com/hupe1980/lingvec/sent"
)

// Reserved strings for sentence boundaries and character n-gram bracketing.
const (
	EOS = "</s>"
	BOW = "<"
	EOW = ">"
)

const (
	// MaxVocabSize is the production size of the open-addressed bucket
	// table. Entry count must stay below 0.75 of it.
	MaxVocabSize = 150_000_000

	// MaxLineSize bounds tokens consumed per plain-text line (GetLineWords).
	MaxLineSize = 1024

	maxLoadFactor = 0.75
)

// EntryKind is a bitmask of vocabulary entry kinds, so call sites can ask
// for "any of these kinds".
type EntryKind uint8

const (
	KindWord      EntryKind = 1 << iota // 1
	KindLabel                           // 2
	KindPhrase                          // 4
	KindKBConcept                       // 8
	KindSubword                         // 16

	KindAll EntryKind = 255
)

// Contains reports whether kind is part of the mask.
func (m EntryKind) Contains(kind EntryKind) bool { return m&kind != 0 }

func (m EntryKind) String() string {
	switch m {
	case KindWord:
		return "word"
	case KindLabel:
		return "label"
	case KindPhrase:
		return "phrase"
	case KindKBConcept:
		return "concept"
	case KindSubword:
		return "subword"
	default:
		return fmt.Sprintf("kind(%d)", uint8(m))
	}
}

// Entry is one vocabulary item. Surface carries the raw word form used for
// BPE segmentation; it is not persisted. Hashes persists the subword (or,
// for phrases, component-word) hashes so ids can be rebound at load time.
type Entry struct {
	Word     string
	Surface  string
	PosTag   uint8
	Count    int64
	Kind     EntryKind
	Subwords []int32
	Hashes   []uint32
}

// ErrEmptyVocabulary is returned when thresholding leaves no entries.
var ErrEmptyVocabulary = errors.New("empty vocabulary, try a smaller -minCount value")

// Dictionary is the frozen-after-build vocabulary. It is safe for
// concurrent readers once training starts.
type Dictionary struct {
	args    *args.Args
	encoder *bpe.Encoder
	logger  *slog.Logger

	word2int []int32
	words    []Entry
	pdiscard []float32

	size        int32
	nwords      int32
	nlabels     int32
	nsubwords   int32
	nphrases    int32
	nkbconcepts int32
	ntokens     int64

	pruneidxSize int64
	pruneidx     map[int32]int32
}

// Option customizes dictionary construction.
type Option func(*options)

type options struct {
	tableSize int
	logger    *slog.Logger
}

// WithTableSize overrides the bucket table size. Intended for tests; probing
// behavior is identical at any size.
func WithTableSize(n int) Option {
	return func(o *options) { o.tableSize = n }
}

// WithLogger sets the logger used for build/load progress.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an empty dictionary backed by the given BPE encoder.
func New(a *args.Args, encoder *bpe.Encoder, opts ...Option) *Dictionary {
	o := options{tableSize: MaxVocabSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dictionary{
		args:         a,
		encoder:      encoder,
		logger:       o.logger,
		word2int:     make([]int32, o.tableSize),
		pruneidxSize: -1,
		pruneidx:     make(map[int32]int32),
	}
	for i := range d.word2int {
		d.word2int[i] = -1
	}

	return d
}

// NewFromReader loads a persisted dictionary (and its encoder blob).
func NewFromReader(a *args.Args, r io.Reader, opts ...Option) (*Dictionary, error) {
	d := New(a, bpe.NewEncoder(), opts...)
	if err := d.Load(r); err != nil {
		return nil, err
	}

	return d, nil
}

const (
	fnvSeed  = 2166136261
	fnvPrime = 16777619
)

// Hash is 32-bit FNV-1a with each byte sign-extended to int32 before the
// XOR, preserving compatibility with models hashed via signed char.
func Hash(s string) uint32 {
	h := uint32(fnvSeed)
	for i := 0; i < len(s); i++ {
		h ^= uint32(int32(int8(s[i])))
		h *= fnvPrime
	}

	return h
}

// HashPos folds a non-zero POS tag into the string hash.
func HashPos(s string, posTag uint8) uint32 {
	h := Hash(s)
	if posTag > 0 {
		h ^= uint32(posTag) << 6
		h *= fnvPrime
	}

	return h
}

// find returns the bucket for the key: the slot holding the matching entry,
// or the empty slot where it would be inserted.
func (d *Dictionary) find(word string, h uint32, posTag uint8, kinds EntryKind) int32 {
	tableSize := int32(len(d.word2int))
	id := int32(h % uint32(tableSize))

	for probes := int32(0); ; probes++ {
		if probes >= tableSize {
			panic("dictionary: hash table overflow")
		}
		pos := d.word2int[id]
		if pos == -1 {
			return id
		}
		w := &d.words[pos]
		if word != "" {
			if w.Word == word && w.PosTag == posTag && kinds.Contains(w.Kind) {
				return id
			}
		} else if HashPos(w.Word, w.PosTag) == h && kinds.Contains(w.Kind) {
			return id
		}
		id = (id + 1) % tableSize
	}
}

func (d *Dictionary) findHash(h uint32, kinds EntryKind) int32 {
	return d.find("", h, 0, kinds)
}

// GetID resolves (word, POS, kind-mask) to an entry id, or -1.
func (d *Dictionary) GetID(word string, posTag uint8, kinds EntryKind) int32 {
	return d.word2int[d.find(word, HashPos(word, posTag), posTag, kinds)]
}

// ResolveToken implements sent.Resolver.
func (d *Dictionary) ResolveToken(id string, posTag uint8) int32 {
	return d.GetID(id, posTag, KindWord|KindPhrase)
}

// ResolveConcept implements sent.Resolver.
func (d *Dictionary) ResolveConcept(s string) int32 {
	return d.GetID(s, 0, KindKBConcept)
}

// getType classifies a raw supervised token by its label prefix.
func (d *Dictionary) getType(w string) EntryKind {
	if strings.HasPrefix(w, d.args.Label) {
		return KindLabel
	}

	return KindWord
}

// Add inserts or increments a plain token (supervised corpora and
// pretrained-vector import).
func (d *Dictionary) Add(w string) {
	kind := d.getType(w)
	h := d.find(w, HashPos(w, 0), 0, kind)
	d.ntokens++
	if d.word2int[h] == -1 {
		d.words = append(d.words, Entry{Word: w, Surface: w, Count: 1, Kind: kind})
		d.word2int[h] = d.size
		d.size++
	} else {
		d.words[d.word2int[h]].Count++
	}
}

// AddWord inserts or increments an annotated word keyed by its stable id
// and POS tag.
func (d *Dictionary) AddWord(w *sent.Word) {
	h := d.find(w.ID, HashPos(w.ID, w.PosTag), w.PosTag, KindWord)
	d.ntokens++
	if d.word2int[h] == -1 {
		d.words = append(d.words, Entry{
			Word:    w.ID,
			Surface: w.Str,
			PosTag:  w.PosTag,
			Count:   1,
			Kind:    KindWord,
		})
		d.word2int[h] = d.size
		d.size++
	} else {
		d.words[d.word2int[h]].Count++
	}
}

// AddPhrase inserts or increments a phrase, recording the hash and current
// id of each component word.
func (d *Dictionary) AddPhrase(p *sent.Phrase, words []sent.Word) {
	h := d.find(p.ID, Hash(p.ID), 0, KindPhrase)
	d.ntokens++
	if d.word2int[h] == -1 {
		e := Entry{Word: p.ID, Surface: p.Str, Count: 1, Kind: KindPhrase}
		for i := 0; i < int(p.Size); i++ {
			c := int(p.Components[i])
			if c < 0 || c >= len(words) {
				continue
			}
			w := &words[c]
			wh := HashPos(w.ID, w.PosTag)
			e.Hashes = append(e.Hashes, wh)
			e.Subwords = append(e.Subwords, d.word2int[d.find(w.ID, wh, w.PosTag, KindWord)])
		}
		d.words = append(d.words, e)
		d.word2int[h] = d.size
		d.size++
	} else {
		d.words[d.word2int[h]].Count++
	}
}

// AddConcept inserts or increments a knowledge-base concept.
func (d *Dictionary) AddConcept(s string) {
	h := d.find(s, Hash(s), 0, KindKBConcept)
	if d.word2int[h] == -1 {
		d.words = append(d.words, Entry{Word: s, Surface: s, Count: 1, Kind: KindKBConcept})
		d.word2int[h] = d.size
		d.size++
	} else {
		d.words[d.word2int[h]].Count++
	}
}

// AddSubword inserts or increments a subword entry, returning its hash and
// entry id.
func (d *Dictionary) AddSubword(w string) (uint32, int32) {
	h := Hash(w)
	bucket := d.find(w, h, 0, KindSubword)
	if d.word2int[bucket] == -1 {
		d.words = append(d.words, Entry{Word: w, Surface: w, Count: 1, Kind: KindSubword})
		d.word2int[bucket] = d.size
		d.size++
		d.nsubwords++
	} else {
		d.words[d.word2int[bucket]].Count++
	}

	return h, d.word2int[bucket]
}

// AddSent feeds one sentence of a corpus record into the counts.
func (d *Dictionary) AddSent(s *sent.Sent) {
	for i := range s.Words {
		d.AddWord(&s.Words[i])
		if d.ntokens%1_000_000 == 0 && d.args.Verbose > 1 {
			d.logger.Info("reading corpus", "tokens_millions", d.ntokens/1_000_000)
		}
	}
	for i := range s.Phrases {
		if s.Phrases[i].Size == 0 {
			continue
		}
		d.AddPhrase(&s.Phrases[i], s.Words)
	}
	for _, c := range s.Concepts {
		d.AddConcept(c)
	}
}

// AddLine feeds one corpus record into the counts.
func (d *Dictionary) AddLine(line *sent.Line) {
	d.AddSent(&line.Target)
	for i := range line.OtherLangs {
		d.AddSent(&line.OtherLangs[i])
	}
}

// LineScanner yields corpus lines sequentially. *bufio.Scanner and
// *corpus.Reader both satisfy it.
type LineScanner interface {
	Scan() bool
	Bytes() []byte
	Err() error
}

// ReadFromFile builds the vocabulary by streaming JSON records, keeps the
// table load below 0.75 by raising a minimum count, then applies the final
// threshold, discard table and subword initialization.
func (d *Dictionary) ReadFromFile(scanner LineScanner) error {
	minThreshold := int64(1)

	var line sent.Line
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		if err := sent.ParseLine(data, &line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		d.AddLine(&line)
		if float64(d.size) > maxLoadFactor*float64(len(d.word2int)) {
			minThreshold++
			d.Threshold(minThreshold, minThreshold)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}

	d.Threshold(int64(d.args.MinCount), int64(d.args.MinCountLabel))
	d.initSubwords()
	// Rebind every subword id through the persisted hashes, so the fresh
	// dictionary is indistinguishable from a reloaded one.
	d.initSubwordsPos()
	d.initTableDiscard()

	if d.args.Verbose > 0 {
		d.logger.Info("vocabulary built",
			"tokens", d.ntokens,
			"words", d.nwords,
			"labels", d.nlabels,
			"phrases", d.nphrases,
			"concepts", d.nkbconcepts,
			"subwords", d.nsubwords,
		)
	}
	if d.size == 0 {
		return ErrEmptyVocabulary
	}

	return nil
}

// Threshold drops infrequent entries and re-packs ids: entries are ordered
// by kind then descending count, labels are held to tl, everything else
// to t.
func (d *Dictionary) Threshold(t, tl int64) {
	sort.SliceStable(d.words, func(i, j int) bool {
		if d.words[i].Kind != d.words[j].Kind {
			return d.words[i].Kind < d.words[j].Kind
		}

		return d.words[i].Count > d.words[j].Count
	})

	kept := d.words[:0]
	for i := range d.words {
		e := &d.words[i]
		if e.Kind != KindLabel && e.Count < t {
			continue
		}
		if e.Kind == KindLabel && e.Count < tl {
			continue
		}
		kept = append(kept, *e)
	}
	d.words = kept

	d.size = 0
	d.nwords = 0
	d.nlabels = 0
	d.nsubwords = 0
	d.nphrases = 0
	d.nkbconcepts = 0
	for i := range d.word2int {
		d.word2int[i] = -1
	}
	for i := range d.words {
		e := &d.words[i]
		h := d.find(e.Word, HashPos(e.Word, e.PosTag), e.PosTag, e.Kind)
		d.word2int[h] = d.size
		d.size++
		switch e.Kind {
		case KindWord:
			d.nwords++
		case KindSubword:
			d.nsubwords++
		case KindPhrase:
			d.nphrases++
		case KindLabel:
			d.nlabels++
		case KindKBConcept:
			d.nkbconcepts++
		}
	}
}

// initTableDiscard fills per-id keep probabilities for words and phrases:
// pdiscard = sqrt(t/f) + t/f, clamped to 1.
func (d *Dictionary) initTableDiscard() {
	d.pdiscard = make([]float32, d.size)
	for i := range d.pdiscard {
		d.pdiscard[i] = 1.0
	}

	for i := int32(0); i < d.size; i++ {
		e := &d.words[i]
		if e.Kind != KindWord && e.Kind != KindPhrase {
			continue
		}
		f := float64(e.Count) / float64(d.ntokens)
		p := math.Sqrt(d.args.T/f) + d.args.T/f
		if p > 1 {
			p = 1
		}
		d.pdiscard[i] = float32(p)
	}
}

// Discard reports whether a sampled token should be dropped. Supervised
// models never subsample.
func (d *Dictionary) Discard(id int32, r float32) bool {
	if d.args.Model == args.ModelSupervised {
		return false
	}

	return r > d.pdiscard[id]
}

// PDiscard returns the keep probability of an entry.
func (d *Dictionary) PDiscard(id int32) float32 { return d.pdiscard[id] }

func (d *Dictionary) extractSubwords(s string) []string {
	variants := d.encoder.Apply(s, d.args.MaxBPEVars)

	return bpe.UniqSubwords(variants, d.args.Minn)
}

// initSubwords runs the BPE encoder over every surviving word and registers
// the resulting subwords, recording ids and hashes on the word entry. The
// entry's own id always comes first.
func (d *Dictionary) initSubwords() {
	sz := d.size
	minThreshold := int64(1)
	for i := int32(0); i < sz; i++ {
		if d.words[i].Kind != KindWord {
			continue
		}
		d.words[i].Subwords = d.words[i].Subwords[:0]
		d.words[i].Subwords = append(d.words[i].Subwords, i)
		if d.words[i].Surface == EOS {
			continue
		}
		for _, sub := range d.extractSubwords(d.words[i].Surface) {
			h, pos := d.AddSubword(sub)
			d.words[i].Subwords = append(d.words[i].Subwords, pos)
			d.words[i].Hashes = append(d.words[i].Hashes, h)
		}
		if float64(d.size) > maxLoadFactor*float64(len(d.word2int)) {
			minThreshold++
			d.Threshold(minThreshold, minThreshold)
		}
	}
}

// initSubwordsPos rebinds subword ids from the persisted hash lists. Phrase
// hashes resolve against word entries, word hashes against subwords.
func (d *Dictionary) initSubwordsPos() {
	for i := int32(0); i < d.size; i++ {
		e := &d.words[i]
		if e.Kind == KindLabel {
			continue
		}

		findKind := KindSubword
		if e.Kind == KindPhrase {
			findKind = KindWord
		}

		e.Subwords = e.Subwords[:0]
		e.Subwords = append(e.Subwords, i)
		for _, h := range e.Hashes {
			pos := d.word2int[d.findHash(h, findKind)]
			if pos != -1 {
				e.Subwords = append(e.Subwords, pos)
			}
		}
	}
}

// initNgrams rebuilds subword id lists after a prune, resolving BPE
// subwords of each surviving entry against whatever subword entries remain.
func (d *Dictionary) initNgrams() {
	for i := int32(0); i < d.size; i++ {
		e := &d.words[i]
		e.Subwords = e.Subwords[:0]
		e.Subwords = append(e.Subwords, i)
		if e.Word == EOS {
			continue
		}
		d.computeSubwords(BOW+e.Word+EOW, &e.Subwords, nil)
	}
}

// computeSubwords appends the ids of in-vocabulary BPE subwords of word.
func (d *Dictionary) computeSubwords(word string, ngrams *[]int32, substrings *[]string) {
	subs := d.extractSubwords(word)
	for _, sub := range subs {
		id := d.find(sub, Hash(sub), 0, KindSubword)
		if d.word2int[id] == -1 {
			continue
		}
		*ngrams = append(*ngrams, d.word2int[id])
	}
	if substrings != nil {
		*substrings = append(*substrings, subs...)
	}
}

// GetSubwords returns the feature id list of an entry (own id first).
// Entries whose subwords were never initialized decompose to themselves.
func (d *Dictionary) GetSubwords(id int32) []int32 {
	if len(d.words[id].Subwords) == 0 {
		return []int32{id}
	}

	return d.words[id].Subwords
}

// GetSubwordsOf resolves a surface word to its feature ids, computing
// subwords on the fly for out-of-vocabulary words.
func (d *Dictionary) GetSubwordsOf(word string, posTag uint8) []int32 {
	if i := d.GetID(word, posTag, KindAll); i >= 0 {
		return d.GetSubwords(i)
	}
	var ngrams []int32
	if word != EOS {
		d.computeSubwords(word, &ngrams, nil)
	}

	return ngrams
}

// GetSubwordsWithStrings resolves a word to feature ids plus the subword
// surfaces, for the print-ngrams query.
func (d *Dictionary) GetSubwordsWithStrings(word string) ([]int32, []string) {
	var (
		ngrams     []int32
		substrings []string
	)
	if i := d.GetID(word, 0, KindAll); i >= 0 {
		ngrams = append(ngrams, i)
		substrings = append(substrings, d.words[i].Word)
	}
	if word != EOS {
		d.computeSubwords(word, &ngrams, &substrings)
	}

	return ngrams, substrings
}

// Size returns the number of entries of the given kinds.
func (d *Dictionary) Size(kinds EntryKind) int32 {
	var sz int32
	if kinds.Contains(KindWord) {
		sz += d.nwords
	}
	if kinds.Contains(KindPhrase) {
		sz += d.nphrases
	}
	if kinds.Contains(KindLabel) {
		sz += d.nlabels
	}
	if kinds.Contains(KindKBConcept) {
		sz += d.nkbconcepts
	}
	if kinds.Contains(KindSubword) {
		sz += d.nsubwords
	}

	return sz
}

// SizeAll returns the total entry count.
func (d *Dictionary) SizeAll() int32 { return d.size }

// Nwords returns the word entry count.
func (d *Dictionary) Nwords() int32 { return d.nwords }

// Nlabels returns the label entry count.
func (d *Dictionary) Nlabels() int32 { return d.nlabels }

// Ntokens returns the total token occurrences counted.
func (d *Dictionary) Ntokens() int64 { return d.ntokens }

// GetWord returns an entry's surface key.
func (d *Dictionary) GetWord(id int32) string { return d.words[id].Word }

// GetPoS returns an entry's POS tag.
func (d *Dictionary) GetPoS(id int32) uint8 { return d.words[id].PosTag }

// GetType returns an entry's kind.
func (d *Dictionary) GetType(id int32) EntryKind { return d.words[id].Kind }

// GetLabel returns the surface of label lid.
func (d *Dictionary) GetLabel(lid int32) (string, error) {
	if lid < 0 || lid >= d.nlabels {
		return "", fmt.Errorf("label id is out of range [0, %d]", d.nlabels)
	}

	return d.words[lid+d.nwords].Word, nil
}

// GetCounts returns occurrence counts of all entries matching the kinds, in
// id order.
func (d *Dictionary) GetCounts(kinds EntryKind) []int64 {
	var counts []int64
	for i := range d.words {
		if kinds.Contains(d.words[i].Kind) {
			counts = append(counts, d.words[i].Count)
		}
	}

	return counts
}

// IsPruned reports whether the n-gram bucket space was pruned.
func (d *Dictionary) IsPruned() bool { return d.pruneidxSize >= 0 }

// LineReader yields corpus lines, wrapping to the start at end of input.
type LineReader interface {
	// ReadLine returns the next line without its trailing newline. wrapped
	// is true when the reader restarted from the beginning of the input.
	ReadLine() (line []byte, wrapped bool, err error)
}

// GetLine parses the next corpus record into a compact line: ids resolved,
// auxiliary tree offsets derived, absent cross-lingual mappings filled
// randomly and frequent tokens subsampled (num set to -1). It returns the
// number of in-vocabulary tokens seen.
func (d *Dictionary) GetLine(lr LineReader, line *sent.CompactLine, rng *rand.Rand) (int32, error) {
	data, _, err := lr.ReadLine()
	if err != nil {
		return 0, err
	}

	if err := sent.ParseCompactLine(data, d, line); err != nil {
		return 0, err
	}
	sent.MakeAuxOffsLine(line)
	if len(line.OtherLangs) > 0 && len(line.OtherLangs[0].MappingToTargetWords) == 0 {
		sent.FillOtherMappingRandomly(line, rng)
	}

	var ntokens int32
	finSent := func(s *sent.CompactSent) {
		for i := range s.Words {
			w := &s.Words[i]
			if w.Num >= 0 {
				ntokens++
				if d.Discard(w.Num, rng.Float32()) {
					w.Num = -1
				}
			}
		}
		for i := range s.Phrases {
			w := &s.Phrases[i]
			if w.IsPhrase() && w.Num >= 0 {
				ntokens++
				if d.Discard(w.Num, rng.Float32()) {
					w.Num = -1
				}
			}
		}
	}

	finSent(&line.Target)
	for i := range line.OtherLangs {
		finSent(&line.OtherLangs[i].CompactSent)
	}

	return ntokens, nil
}

// GetLineWords reads one whitespace-tokenized line into subsampled word
// ids, for the cbow path.
func (d *Dictionary) GetLineWords(lr LineReader, words *[]int32, rng *rand.Rand) (int32, error) {
	data, _, err := lr.ReadLine()
	if err != nil {
		return 0, err
	}

	*words = (*words)[:0]
	var ntokens int32
	for _, token := range append(strings.Fields(string(data)), EOS) {
		wid := d.GetID(token, 0, KindAll)
		if wid < 0 {
			continue
		}
		ntokens++
		if d.GetType(wid) == KindWord && !d.Discard(wid, rng.Float32()) {
			*words = append(*words, wid)
		}
		if ntokens > MaxLineSize {
			break
		}
	}

	return ntokens, nil
}

// GetLineSupervised reads one whitespace-tokenized line into word feature
// ids and label ids.
func (d *Dictionary) GetLineSupervised(lr LineReader, words, labels *[]int32) (int32, error) {
	data, _, err := lr.ReadLine()
	if err != nil {
		return 0, err
	}

	return d.tokensToLine(append(strings.Fields(string(data)), EOS), words, labels), nil
}

// TokensToSupervisedLine converts raw tokens to feature and label ids (used
// by the predict path where input is not a corpus reader).
func (d *Dictionary) TokensToSupervisedLine(tokens []string, words, labels *[]int32) int32 {
	return d.tokensToLine(tokens, words, labels)
}

func (d *Dictionary) tokensToLine(tokens []string, words, labels *[]int32) int32 {
	*words = (*words)[:0]
	*labels = (*labels)[:0]

	var wordHashes []int32
	var ntokens int32
	for _, token := range tokens {
		h := HashPos(token, 0)
		wid := d.word2int[d.find(token, h, 0, KindAll)]
		kind := d.getType(token)
		if wid >= 0 {
			kind = d.GetType(wid)
		}

		ntokens++
		switch kind {
		case KindWord:
			d.addSubwordsFor(words, token, wid)
			wordHashes = append(wordHashes, int32(h))
		case KindLabel:
			if wid >= 0 {
				*labels = append(*labels, wid-d.nwords)
			}
		}
		if token == EOS {
			break
		}
	}
	d.addWordNgrams(words, wordHashes, d.args.WordNgrams)

	return ntokens
}

func (d *Dictionary) addSubwordsFor(line *[]int32, token string, wid int32) {
	if wid < 0 { // out of vocab
		if token != EOS {
			d.computeSubwords(BOW+token+EOW, line, nil)
		}

		return
	}
	if d.args.Maxn <= 0 { // in vocab w/o subwords
		*line = append(*line, wid)

		return
	}
	*line = append(*line, d.GetSubwords(wid)...)
}

// addWordNgrams hashes adjacent word-hash windows into the bucket space.
func (d *Dictionary) addWordNgrams(line *[]int32, hashes []int32, n int) {
	for i := 0; i < len(hashes); i++ {
		h := uint64(uint32(hashes[i]))
		for j := i + 1; j < len(hashes) && j < i+n; j++ {
			h = h*116049371 + uint64(uint32(hashes[j]))
			d.pushHash(line, int32(h%uint64(d.args.Bucket)))
		}
	}
}

func (d *Dictionary) pushHash(hashes *[]int32, id int32) {
	if d.pruneidxSize == 0 || id < 0 {
		return
	}
	if d.pruneidxSize > 0 {
		mapped, ok := d.pruneidx[id]
		if !ok {
			return
		}
		id = mapped
	}
	*hashes = append(*hashes, d.nwords+id)
}

// Prune keeps only the given word rows (labels always survive) and remaps
// surviving n-gram bucket ids into a compact index.
func (d *Dictionary) Prune(idx []int32) []int32 {
	var words, ngrams []int32
	for _, i := range idx {
		if i < d.nwords {
			words = append(words, i)
		} else {
			ngrams = append(ngrams, i)
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i] < words[j] })

	keep := roaring.New()
	for _, w := range words {
		keep.Add(uint32(w))
	}

	result := words
	if len(ngrams) != 0 {
		for j, ngram := range ngrams {
			d.pruneidx[ngram-d.nwords] = int32(j)
		}
		result = append(result, ngrams...)
	}
	d.pruneidxSize = int64(len(d.pruneidx))

	for i := range d.word2int {
		d.word2int[i] = -1
	}

	j := int32(0)
	for i := int32(0); i < int32(len(d.words)); i++ {
		if d.GetType(i) == KindLabel || keep.Contains(uint32(i)) {
			d.words[j] = d.words[i]
			wt := &d.words[j]
			d.word2int[d.find(wt.Word, HashPos(wt.Word, wt.PosTag), wt.PosTag, wt.Kind)] = j
			j++
		}
	}
	d.nwords = int32(len(words))
	d.size = d.nwords + d.nlabels
	d.words = d.words[:d.size]
	d.nsubwords = 0
	d.nphrases = 0
	d.nkbconcepts = 0
	d.initNgrams()

	return result
}

var byteOrder = binary.LittleEndian

// Save writes the binary vocabulary blob: counts, entries (null-terminated
// surface, POS, persisted hashes, count, kind), the prune map and the BPE
// encoder blob.
func (d *Dictionary) Save(w io.Writer) error {
	for _, v := range []int32{d.size, d.nwords, d.nlabels, d.nsubwords, d.nphrases, d.nkbconcepts} {
		if err := binary.Write(w, byteOrder, v); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
	}
	if err := binary.Write(w, byteOrder, d.ntokens); err != nil {
		return fmt.Errorf("save dictionary: %w", err)
	}
	if err := binary.Write(w, byteOrder, d.pruneidxSize); err != nil {
		return fmt.Errorf("save dictionary: %w", err)
	}

	for i := int32(0); i < d.size; i++ {
		e := &d.words[i]
		if _, err := w.Write(append([]byte(e.Word), 0)); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
		if _, err := w.Write([]byte{e.PosTag}); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
		if err := binary.Write(w, byteOrder, uint16(len(e.Hashes))); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
		if err := binary.Write(w, byteOrder, e.Hashes); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
		if err := binary.Write(w, byteOrder, e.Count); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
		if _, err := w.Write([]byte{byte(e.Kind)}); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
	}

	for first, second := range d.pruneidx {
		if err := binary.Write(w, byteOrder, first); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
		if err := binary.Write(w, byteOrder, second); err != nil {
			return fmt.Errorf("save dictionary: %w", err)
		}
	}

	return d.encoder.Save(w)
}

// Load reads a blob written by Save, rebuilds the probe table and discard
// table, and rebinds subword ids from the persisted hashes.
func (d *Dictionary) Load(r io.Reader) error {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	d.words = d.words[:0]
	for _, v := range []*int32{&d.size, &d.nwords, &d.nlabels, &d.nsubwords, &d.nphrases, &d.nkbconcepts} {
		if err := binary.Read(br, byteOrder, v); err != nil {
			return fmt.Errorf("load dictionary: %w", err)
		}
	}
	if err := binary.Read(br, byteOrder, &d.ntokens); err != nil {
		return fmt.Errorf("load dictionary: %w", err)
	}
	if err := binary.Read(br, byteOrder, &d.pruneidxSize); err != nil {
		return fmt.Errorf("load dictionary: %w", err)
	}

	for i := int32(0); i < d.size; i++ {
		var e Entry
		word, err := readCString(br)
		if err != nil {
			return fmt.Errorf("load dictionary entry %d: %w", i, err)
		}
		e.Word = word
		// The raw surface is not persisted; the stable key stands in.
		e.Surface = word

		posTag, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("load dictionary entry %d: %w", i, err)
		}
		e.PosTag = posTag

		var hsz uint16
		if err := binary.Read(br, byteOrder, &hsz); err != nil {
			return fmt.Errorf("load dictionary entry %d: %w", i, err)
		}
		e.Hashes = make([]uint32, hsz)
		if err := binary.Read(br, byteOrder, e.Hashes); err != nil {
			return fmt.Errorf("load dictionary entry %d: %w", i, err)
		}
		if err := binary.Read(br, byteOrder, &e.Count); err != nil {
			return fmt.Errorf("load dictionary entry %d: %w", i, err)
		}
		kind, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("load dictionary entry %d: %w", i, err)
		}
		e.Kind = EntryKind(kind)
		d.words = append(d.words, e)
	}

	d.pruneidx = make(map[int32]int32)
	for i := int64(0); i < d.pruneidxSize; i++ {
		var first, second int32
		if err := binary.Read(br, byteOrder, &first); err != nil {
			return fmt.Errorf("load dictionary prune index: %w", err)
		}
		if err := binary.Read(br, byteOrder, &second); err != nil {
			return fmt.Errorf("load dictionary prune index: %w", err)
		}
		d.pruneidx[first] = second
	}

	if err := d.encoder.Load(br); err != nil {
		return err
	}

	d.initTableDiscard()

	for i := range d.word2int {
		d.word2int[i] = -1
	}
	for i := int32(0); i < d.size; i++ {
		e := &d.words[i]
		d.word2int[d.find(e.Word, HashPos(e.Word, e.PosTag), e.PosTag, e.Kind)] = i
	}
	d.initSubwordsPos()

	d.logger.Info("loaded dictionary",
		"words", d.nwords,
		"phrases", d.nphrases,
		"concepts", d.nkbconcepts,
		"subwords", d.nsubwords,
		"tokens", d.ntokens,
	)

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

// Dump writes the textual listing used by dump_dict and the round-trip
// tests.
func (d *Dictionary) Dump(w io.Writer) {
	fmt.Fprintf(w, "%d\n", len(d.words))
	for i := range d.words {
		e := &d.words[i]
		fmt.Fprintf(w, "# %d %s: %s postag=%d h=%d cnt=%d sub_hashes=%s sub_nums=%s\n",
			i, e.Kind, e.Word, e.PosTag, HashPos(e.Word, e.PosTag), e.Count,
			joinUint32(e.Hashes), joinInt32(e.Subwords))
	}
}

func joinUint32(v []uint32) string {
	parts := make([]string, len(v))
	for i, u := range v {
		parts[i] = fmt.Sprintf("%d", u)
	}

	return strings.Join(parts, ",")
}

func joinInt32(v []int32) string {
	parts := make([]string, len(v))
	for i, u := range v {
		parts[i] = fmt.Sprintf("%d", u)
	}

	return strings.Join(parts, ",")
}
