// Package lingvec trains and serves multilingual, syntax-aware embeddings
// of words, phrases, knowledge-base concepts and BPE subwords. The corpus
// is one JSON record per line (a target sentence plus parallel
// other-language sentences with dependency trees and token alignments);
// the result is a two-matrix embedding store queryable for word, sentence,
// nearest-neighbour and analogy vectors, and quantizable for deployment.
package lingvec

import (
	"bufio"
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/lingvec/args"
	"github.com/hupe1980/lingvec/blobstore"
	"github.com/hupe1980/lingvec/dictionary"
	"github.com/hupe1980/lingvec/internal/math32"
	"github.com/hupe1980/lingvec/loss"
	"github.com/hupe1980/lingvec/matrix"
	"github.com/hupe1980/lingvec/model"
)

const (
	modelMagic   int32 = 793712314
	modelVersion int32 = 12
)

// TrainCallback receives periodic progress: fraction done, average loss,
// words/sec/thread, current learning rate and ETA seconds.
type TrainCallback func(progress, lossValue float32, wst, lr float64, eta int64)

// LingVec is the top-level service: it owns the dictionary, the two
// embedding matrices and the model, and drives training, persistence,
// queries and quantization.
type LingVec struct {
	args   *args.Args
	dict   *dictionary.Dictionary
	input  matrix.Matrix
	output matrix.Matrix
	model  *model.Model

	quant   bool
	version int32

	wordVectors *matrix.DenseMatrix

	logger        *Logger
	dictTableSize int

	tokenCount atomic.Int64
	lossBits   atomic.Uint32
	start      time.Time

	trainErrMu sync.Mutex
	trainErr   error
}

// Option customizes a LingVec instance.
type Option func(*LingVec)

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(lv *LingVec) { lv.logger = l }
}

// WithDictTableSize overrides the vocabulary bucket table size (tests).
func WithDictTableSize(n int) Option {
	return func(lv *LingVec) { lv.dictTableSize = n }
}

// New creates an untrained instance.
func New(opts ...Option) *LingVec {
	lv := &LingVec{
		version:       modelVersion,
		logger:        NewLogger(nil),
		dictTableSize: dictionary.MaxVocabSize,
	}
	for _, opt := range opts {
		opt(lv)
	}

	return lv
}

// Args returns the effective hyperparameters.
func (lv *LingVec) Args() *args.Args { return lv.args }

// Dictionary returns the vocabulary.
func (lv *LingVec) Dictionary() *dictionary.Dictionary { return lv.dict }

// Dimension returns the embedding size.
func (lv *LingVec) Dimension() int { return lv.args.Dim }

// IsQuant reports whether the input matrix is product-quantized.
func (lv *LingVec) IsQuant() bool { return lv.quant }

// InputMatrix returns the dense input matrix; quantized models refuse.
func (lv *LingVec) InputMatrix() (*matrix.DenseMatrix, error) {
	if lv.input == nil {
		return nil, ErrModelNeverTrained
	}
	if lv.quant {
		return nil, ErrQuantizedExport
	}

	return lv.input.(*matrix.DenseMatrix), nil
}

// OutputMatrix returns the dense output matrix; quantized outputs refuse.
func (lv *LingVec) OutputMatrix() (*matrix.DenseMatrix, error) {
	if lv.output == nil {
		return nil, ErrModelNeverTrained
	}
	if lv.quant && lv.args.QOut {
		return nil, ErrQuantizedExport
	}

	return lv.output.(*matrix.DenseMatrix), nil
}

func (lv *LingVec) getTargetCounts() []int64 {
	if lv.args.Model == args.ModelSupervised {
		return lv.dict.GetCounts(dictionary.KindLabel)
	}

	return lv.dict.GetCounts(dictionary.KindWord | dictionary.KindPhrase)
}

func (lv *LingVec) createLoss(output matrix.Matrix) (loss.Loss, error) {
	switch lv.args.Loss {
	case args.LossHierarchicalSoftmax:
		return loss.NewHierarchicalSoftmax(output, lv.getTargetCounts()), nil
	case args.LossNegativeSampling:
		return loss.NewNegativeSampling(output, lv.args.Neg, lv.getTargetCounts()), nil
	case args.LossSoftmax:
		return loss.NewSoftmax(output), nil
	case args.LossOneVsAll:
		return loss.NewOneVsAll(output), nil
	default:
		return nil, fmt.Errorf("unknown loss: %d", lv.args.Loss)
	}
}

func (lv *LingVec) buildModel() error {
	l, err := lv.createLoss(lv.output)
	if err != nil {
		return err
	}
	normalizeGradient := lv.args.Model == args.ModelSupervised
	lv.model = model.New(lv.input, lv.output, l, normalizeGradient)

	return nil
}

func (lv *LingVec) createRandomMatrix() *matrix.DenseMatrix {
	input := matrix.NewDenseMatrix(int64(lv.dict.SizeAll()), int64(lv.args.Dim))
	input.Uniform(1.0/float32(lv.args.Dim), int64(lv.args.Seed))

	return input
}

func (lv *LingVec) createTrainOutputMatrix() *matrix.DenseMatrix {
	var m int64
	if lv.args.Model == args.ModelSupervised {
		m = int64(lv.dict.Nlabels())
	} else {
		m = int64(lv.dict.Size(dictionary.KindWord | dictionary.KindPhrase))
	}
	lv.logger.Info("creating train output matrix", "rows", m, "dim", lv.args.Dim)

	return matrix.NewDenseMatrix(m, int64(lv.args.Dim))
}

// getInputMatrixFromFile seeds the input matrix from a textual vector file
// ("n dim" header, then "word v1 v2 ..." rows).
func (lv *LingVec) getInputMatrixFromFile(filename string) (*matrix.DenseMatrix, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%s cannot be opened for loading: %w", filename, err)
	}
	defer f.Close()

	var n, dim int64
	if _, err := fmt.Fscan(f, &n, &dim); err != nil {
		return nil, fmt.Errorf("read pretrained vectors %s: %w", filename, err)
	}
	if int(dim) != lv.args.Dim {
		return nil, &ErrDimensionMismatch{Expected: lv.args.Dim, Actual: int(dim)}
	}

	mat := matrix.NewDenseMatrix(n, dim)
	words := make([]string, 0, n)
	for i := int64(0); i < n; i++ {
		var word string
		if _, err := fmt.Fscan(f, &word); err != nil {
			return nil, fmt.Errorf("read pretrained vectors %s: %w", filename, err)
		}
		words = append(words, word)
		lv.dict.Add(word)
		row := mat.Row(i)
		for j := int64(0); j < dim; j++ {
			if _, err := fmt.Fscan(f, &row[j]); err != nil {
				return nil, fmt.Errorf("read pretrained vectors %s: %w", filename, err)
			}
		}
	}

	lv.dict.Threshold(1, 0)

	input := matrix.NewDenseMatrix(int64(lv.dict.SizeAll()), dim)
	input.Uniform(1.0/float32(lv.args.Dim), int64(lv.args.Seed))
	for i := int64(0); i < n; i++ {
		idx := lv.dict.GetID(words[i], 0, dictionary.KindAll)
		if idx < 0 || idx >= lv.dict.Nwords() {
			continue
		}
		copy(input.Row(int64(idx)), mat.Row(i))
	}

	return input, nil
}

func (lv *LingVec) signModel(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, modelMagic); err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, modelVersion)
}

func (lv *LingVec) checkModel(r io.Reader) error {
	var magic int32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return err
	}
	if magic != modelMagic {
		return &ErrInvalidMagic{Got: magic}
	}
	var version int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version > modelVersion {
		return &ErrUnsupportedVersion{Got: version}
	}
	lv.version = version

	return nil
}

// SaveModel writes the versioned binary model file.
func (lv *LingVec) SaveModel(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("%s cannot be opened for saving: %w", filename, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := lv.saveModelTo(w); err != nil {
		return err
	}

	return w.Flush()
}

func (lv *LingVec) saveModelTo(w io.Writer) error {
	if lv.input == nil || lv.output == nil {
		return ErrModelNeverTrained
	}
	if err := lv.signModel(w); err != nil {
		return err
	}
	if err := lv.args.Save(w); err != nil {
		return err
	}
	if err := lv.dict.Save(w); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, lv.quant); err != nil {
		return err
	}
	if err := lv.input.Save(w); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, lv.args.QOut); err != nil {
		return err
	}

	return lv.output.Save(w)
}

// LoadModel reads a model file written by SaveModel.
func (lv *LingVec) LoadModel(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("%s cannot be opened for loading: %w", filename, err)
	}
	defer f.Close()

	return lv.LoadModelFromReader(bufio.NewReader(f))
}

// LoadModelFromReader reads a model from a stream.
func (lv *LingVec) LoadModelFromReader(r io.Reader) error {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	if err := lv.checkModel(br); err != nil {
		return err
	}

	lv.args = args.New()
	if err := lv.args.Load(br); err != nil {
		return err
	}
	if lv.version == 11 && lv.args.Model == args.ModelSupervised {
		// Older supervised models predate char ngrams.
		lv.args.Maxn = 0
	}

	var err error
	lv.dict, err = dictionary.NewFromReader(lv.args, br,
		dictionary.WithTableSize(lv.dictTableSize),
		dictionary.WithLogger(lv.logger.Logger))
	if err != nil {
		return err
	}

	var quantInput bool
	if err := binary.Read(br, binary.LittleEndian, &quantInput); err != nil {
		return err
	}
	if quantInput {
		lv.quant = true
		lv.input = matrix.NewEmptyQuantMatrix()
	} else {
		lv.input = matrix.NewDenseMatrix(0, 0)
	}
	if err := lv.input.Load(br); err != nil {
		return err
	}

	if !quantInput && lv.dict.IsPruned() {
		return ErrPrunedModel
	}

	if err := binary.Read(br, binary.LittleEndian, &lv.args.QOut); err != nil {
		return err
	}
	if lv.quant && lv.args.QOut {
		lv.output = matrix.NewEmptyQuantMatrix()
	} else {
		lv.output = matrix.NewDenseMatrix(0, 0)
	}
	if err := lv.output.Load(br); err != nil {
		return err
	}

	return lv.buildModel()
}

// SaveModelTo writes the model into an artifact store.
func (lv *LingVec) SaveModelTo(ctx context.Context, store blobstore.Store, key string) error {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		w := bufio.NewWriter(pw)
		err := lv.saveModelTo(w)
		if err == nil {
			err = w.Flush()
		}
		pw.CloseWithError(err)
		done <- err
	}()

	if err := store.Put(ctx, key, pr); err != nil {
		return err
	}

	return <-done
}

// LoadModelFrom reads the model from an artifact store.
func (lv *LingVec) LoadModelFrom(ctx context.Context, store blobstore.Store, key string) error {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	return lv.LoadModelFromReader(bufio.NewReader(rc))
}

// GetWordVector fills vec with the mean of the word's feature rows.
// Returns false for out-of-vocabulary words with no subwords.
func (lv *LingVec) GetWordVector(vec []float32, word string, posTag uint8) bool {
	return lv.vectorForNgrams(vec, lv.dict.GetSubwordsOf(word, posTag))
}

// GetWordVectorByID fills vec with entry i's feature-row mean.
func (lv *LingVec) GetWordVectorByID(vec []float32, i int32) bool {
	return lv.vectorForNgrams(vec, lv.dict.GetSubwords(i))
}

func (lv *LingVec) vectorForNgrams(vec []float32, ngrams []int32) bool {
	if len(ngrams) == 0 {
		return false
	}
	math32.Zero(vec)
	for _, id := range ngrams {
		lv.input.AddRowToVector(vec, int64(id), 1.0)
	}
	math32.ScaleInPlace(vec, 1.0/float32(len(ngrams)))

	return true
}

// GetSubwordVector fills vec with a single subword's input row.
func (lv *LingVec) GetSubwordVector(vec []float32, subword string) {
	math32.Zero(vec)
	if id := lv.dict.GetID(subword, 0, dictionary.KindSubword); id >= 0 {
		lv.input.AddRowToVector(vec, int64(id), 1.0)
	}
}

// GetNgramVectors returns the subword surfaces and vectors of a word.
func (lv *LingVec) GetNgramVectors(word string) ([]string, [][]float32) {
	ngrams, substrings := lv.dict.GetSubwordsWithStrings(word)
	vecs := make([][]float32, 0, len(ngrams))
	names := make([]string, 0, len(ngrams))
	for i, id := range ngrams {
		vec := make([]float32, lv.args.Dim)
		if id >= 0 {
			lv.input.AddRowToVector(vec, int64(id), 1.0)
		}
		if i < len(substrings) {
			names = append(names, substrings[i])
		} else {
			names = append(names, word)
		}
		vecs = append(vecs, vec)
	}

	return names, vecs
}

// GetSentenceVector fills svec from one line of text: supervised models
// average the line's feature rows, others average norm-normalized word
// vectors.
func (lv *LingVec) GetSentenceVector(svec []float32, line string) {
	math32.Zero(svec)

	if lv.args.Model == args.ModelSupervised {
		var words, labels []int32
		lv.dict.TokensToSupervisedLine(append(strings.Fields(line), dictionary.EOS), &words, &labels)
		for _, id := range words {
			lv.input.AddRowToVector(svec, int64(id), 1.0)
		}
		if len(words) > 0 {
			math32.ScaleInPlace(svec, 1.0/float32(len(words)))
		}

		return
	}

	vec := make([]float32, lv.args.Dim)
	count := 0
	for _, word := range strings.Fields(line) {
		if !lv.GetWordVector(vec, word, 0) {
			continue
		}
		norm := math32.Norm(vec)
		if norm > 0 {
			math32.AddScaled(svec, vec, 1.0/norm)
			count++
		}
	}
	if count > 0 {
		math32.ScaleInPlace(svec, 1.0/float32(count))
	}
}

func (lv *LingVec) precomputeWordVectors(wordVectors *matrix.DenseMatrix) {
	vec := make([]float32, lv.args.Dim)
	wordVectors.Zero()
	for i := int32(0); i < lv.dict.SizeAll(); i++ {
		if !lv.GetWordVectorByID(vec, i) {
			continue
		}
		norm := math32.Norm(vec)
		if norm > 0 {
			wordVectors.AddVectorToRow(vec, int64(i), 1.0/norm)
		}
	}
}

func (lv *LingVec) lazyComputeWordVectors() {
	if lv.wordVectors == nil {
		lv.wordVectors = matrix.NewDenseMatrix(int64(lv.dict.SizeAll()), int64(lv.args.Dim))
		lv.precomputeWordVectors(lv.wordVectors)
	}
}

// ScoredWord is one similarity result.
type ScoredWord struct {
	Score float32
	Word  string
}

// GetNN returns the k nearest neighbours of word by cosine over the
// precomputed word vectors, restricted to allowed entry kinds.
func (lv *LingVec) GetNN(word string, posTag uint8, k int, allowedKinds dictionary.EntryKind) []ScoredWord {
	query := make([]float32, lv.args.Dim)
	lv.GetWordVector(query, word, posTag)

	lv.lazyComputeWordVectors()

	return lv.nn(lv.wordVectors, query, k, map[string]struct{}{word: {}}, allowedKinds)
}

type scoredHeap []ScoredWord

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)         { *h = append(*h, x.(ScoredWord)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}

func (lv *LingVec) nn(wordVectors *matrix.DenseMatrix, query []float32, k int, banSet map[string]struct{}, allowedKinds dictionary.EntryKind) []ScoredWord {
	queryNorm := math32.Norm(query)
	if math.Abs(float64(queryNorm)) < 1e-8 {
		queryNorm = 1
	}

	h := make(scoredHeap, 0, k+1)
	for i := int32(0); i < lv.dict.SizeAll(); i++ {
		kind := lv.dict.GetType(i)
		if !allowedKinds.Contains(kind) {
			continue
		}
		word := lv.dict.GetWord(i)
		if _, banned := banSet[word]; banned {
			continue
		}
		similarity := wordVectors.DotRow(query, int64(i)) / queryNorm
		if len(h) == k && similarity < h[0].Score {
			continue
		}
		heap.Push(&h, ScoredWord{
			Score: similarity,
			Word:  fmt.Sprintf("%d %s_%d", kind, word, lv.dict.GetPoS(i)),
		})
		if len(h) > k {
			heap.Pop(&h)
		}
	}

	out := make([]ScoredWord, len(h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(ScoredWord)
	}

	return out
}

// GetAnalogies answers A - B + C queries over normalized word vectors.
func (lv *LingVec) GetAnalogies(k int, wordA, wordB, wordC string) []ScoredWord {
	query := make([]float32, lv.args.Dim)
	buffer := make([]float32, lv.args.Dim)

	lv.GetWordVector(buffer, wordA, 0)
	math32.AddScaled(query, buffer, 1.0/(math32.Norm(buffer)+1e-8))
	lv.GetWordVector(buffer, wordB, 0)
	math32.AddScaled(query, buffer, -1.0/(math32.Norm(buffer)+1e-8))
	lv.GetWordVector(buffer, wordC, 0)
	math32.AddScaled(query, buffer, 1.0/(math32.Norm(buffer)+1e-8))

	lv.lazyComputeWordVectors()

	return lv.nn(lv.wordVectors, query, k, map[string]struct{}{wordA: {}, wordB: {}, wordC: {}}, dictionary.KindAll)
}

// CompareWords returns the cosine similarity of two words, or NaN when
// either has no vector.
func (lv *LingVec) CompareWords(word1 string, posTag1 uint8, word2 string, posTag2 uint8) float32 {
	query := make([]float32, lv.args.Dim)
	if !lv.GetWordVector(query, word1, posTag1) {
		return float32(math.NaN())
	}
	other := make([]float32, lv.args.Dim)
	if !lv.GetWordVector(other, word2, posTag2) {
		return float32(math.NaN())
	}

	return math32.Dot(query, other) / math32.Norm(query) / math32.Norm(other)
}

// Predict returns the top-k labels above threshold for a tokenized line.
func (lv *LingVec) Predict(k int, words []int32, threshold float32) (loss.Predictions, error) {
	if len(words) == 0 {
		return nil, nil
	}
	if lv.args.Model != args.ModelSupervised {
		return nil, fmt.Errorf("%w for prediction", ErrNotSupervised)
	}

	state := loss.NewState(lv.args.Dim, int(lv.output.Rows()), 0)
	var predictions loss.Predictions
	if err := lv.model.Predict(words, k, threshold, &predictions, state); err != nil {
		return nil, err
	}
	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].LogProb > predictions[j].LogProb
	})

	return predictions, nil
}

// PredictLine tokenizes one text line and predicts labels with their
// probabilities.
func (lv *LingVec) PredictLine(line string, k int, threshold float32) ([]ScoredWord, error) {
	var words, labels []int32
	lv.dict.TokensToSupervisedLine(append(strings.Fields(line), dictionary.EOS), &words, &labels)

	predictions, err := lv.Predict(k, words, threshold)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredWord, 0, len(predictions))
	for _, p := range predictions {
		label, err := lv.dict.GetLabel(p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredWord{
			Score: float32(math.Exp(float64(p.LogProb))),
			Word:  label,
		})
	}

	return out, nil
}

// Test evaluates a supervised model over a labeled corpus.
func (lv *LingVec) Test(r io.Reader, k int, threshold float32, meter *Meter) error {
	if lv.args.Model != args.ModelSupervised {
		return fmt.Errorf("%w for testing", ErrNotSupervised)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)

	var words, labels []int32
	for scanner.Scan() {
		tokens := append(strings.Fields(scanner.Text()), dictionary.EOS)
		lv.dict.TokensToSupervisedLine(tokens, &words, &labels)
		if len(labels) == 0 || len(words) == 0 {
			continue
		}
		predictions, err := lv.Predict(k, words, threshold)
		if err != nil {
			return err
		}
		meter.Log(labels, predictions)
	}

	return scanner.Err()
}

// SaveVectors writes the textual word-vector file ("size dim" header).
func (lv *LingVec) SaveVectors(filename string) error {
	if lv.input == nil || lv.output == nil {
		return ErrModelNeverTrained
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("%s cannot be opened for saving vectors: %w", filename, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d %d\n", lv.dict.SizeAll(), lv.args.Dim)
	vec := make([]float32, lv.args.Dim)
	for i := int32(0); i < lv.dict.SizeAll(); i++ {
		lv.GetWordVectorByID(vec, i)
		fmt.Fprint(w, lv.dict.GetWord(i))
		for _, v := range vec {
			fmt.Fprintf(w, " %g", v)
		}
		fmt.Fprintln(w)
	}

	return w.Flush()
}

// SaveOutput writes the textual output-layer vectors. Refused for
// quantized models.
func (lv *LingVec) SaveOutput(filename string) error {
	if lv.quant {
		return fmt.Errorf("%w: -saveOutput", ErrQuantizedExport)
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("%s cannot be opened for saving vectors: %w", filename, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	n := lv.output.Rows()
	fmt.Fprintf(w, "%d %d\n", n, lv.args.Dim)
	vec := make([]float32, lv.args.Dim)
	for i := int64(0); i < n; i++ {
		var word string
		if lv.args.Model == args.ModelSupervised {
			word, _ = lv.dict.GetLabel(int32(i))
		} else {
			word = lv.dict.GetWord(int32(i))
		}
		math32.Zero(vec)
		lv.output.AddRowToVector(vec, i, 1.0)
		fmt.Fprint(w, word)
		for _, v := range vec {
			fmt.Fprintf(w, " %g", v)
		}
		fmt.Fprintln(w)
	}

	return w.Flush()
}

// selectEmbeddings picks the cutoff rows to keep: the EOS row first, then
// by descending L2 norm.
func (lv *LingVec) selectEmbeddings(cutoff int) []int32 {
	input := lv.input.(*matrix.DenseMatrix)
	norms := make([]float32, input.Rows())
	input.L2NormRows(norms)

	idx := make([]int32, input.Rows())
	for i := range idx {
		idx[i] = int32(i)
	}
	eosID := lv.dict.GetID(dictionary.EOS, 0, dictionary.KindAll)
	sort.SliceStable(idx, func(a, b int) bool {
		i1, i2 := idx[a], idx[b]
		if i1 == eosID {
			return true
		}

		return i2 != eosID && norms[i1] > norms[i2]
	})

	return idx[:cutoff]
}

// Quantize compresses the input (and optionally output) matrix with
// product quantization, optionally pruning to a row cutoff and retraining.
func (lv *LingVec) Quantize(qargs *args.Args, callback TrainCallback) error {
	if lv.args.Model != args.ModelSupervised {
		return ErrQuantizeUnsupported
	}
	lv.args.Input = qargs.Input
	lv.args.QOut = qargs.QOut
	lv.args.Output = qargs.Output

	input := lv.input.(*matrix.DenseMatrix)
	output := lv.output.(*matrix.DenseMatrix)
	normalizeGradient := lv.args.Model == args.ModelSupervised

	if qargs.Cutoff > 0 && qargs.Cutoff < int(input.Rows()) {
		idx := lv.selectEmbeddings(qargs.Cutoff)
		idx = lv.dict.Prune(idx)

		ninput := matrix.NewDenseMatrix(int64(len(idx)), int64(lv.args.Dim))
		for i, row := range idx {
			copy(ninput.Row(int64(i)), input.Row(int64(row)))
		}
		input = ninput
		lv.input = input

		if qargs.Retrain {
			lv.args.Epoch = qargs.Epoch
			lv.args.LR = qargs.LR
			lv.args.Thread = qargs.Thread
			lv.args.Verbose = qargs.Verbose
			l, err := lv.createLoss(lv.output)
			if err != nil {
				return err
			}
			lv.model = model.New(input, output, l, normalizeGradient)
			if err := lv.startWorkers(callback); err != nil {
				return err
			}
		}
	}

	qinput, err := matrix.NewQuantMatrix(input, int32(qargs.DSub), qargs.QNorm)
	if err != nil {
		return err
	}
	lv.input = qinput

	if lv.args.QOut {
		qoutput, err := matrix.NewQuantMatrix(output, 2, qargs.QNorm)
		if err != nil {
			return err
		}
		lv.output = qoutput
	}

	lv.quant = true
	lv.wordVectors = nil

	return lv.buildModel()
}
