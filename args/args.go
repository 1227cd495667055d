// Package args holds the hyperparameter set shared by every lingvec
// subcommand, its command-line parsing, and the binary blob persisted
// inside model files.
package args

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
)

// ModelName selects the training objective structure.
type ModelName int32

const (
	ModelCBOW ModelName = iota + 1
	ModelSkipGram
	ModelSupervised
	ModelSyntaxSkipGram
	ModelHybridSkipGram
)

func (m ModelName) String() string {
	switch m {
	case ModelCBOW:
		return "cbow"
	case ModelSkipGram:
		return "sg"
	case ModelSupervised:
		return "sup"
	case ModelSyntaxSkipGram:
		return "syntax_sg"
	case ModelHybridSkipGram:
		return "hybrid_sg"
	default:
		return fmt.Sprintf("model(%d)", int32(m))
	}
}

// LossName selects the output-layer loss kernel.
type LossName int32

const (
	LossHierarchicalSoftmax LossName = iota + 1
	LossNegativeSampling
	LossSoftmax
	LossOneVsAll
)

func (l LossName) String() string {
	switch l {
	case LossHierarchicalSoftmax:
		return "hs"
	case LossNegativeSampling:
		return "ns"
	case LossSoftmax:
		return "softmax"
	case LossOneVsAll:
		return "ova"
	default:
		return fmt.Sprintf("loss(%d)", int32(l))
	}
}

// ParseModelName maps a -model flag value to a ModelName.
func ParseModelName(s string) (ModelName, error) {
	switch s {
	case "cbow":
		return ModelCBOW, nil
	case "sg", "skipgram":
		return ModelSkipGram, nil
	case "sup", "supervised":
		return ModelSupervised, nil
	case "syntax_sg", "syntax_skipgram":
		return ModelSyntaxSkipGram, nil
	case "hybrid_sg", "hybrid_skipgram":
		return ModelHybridSkipGram, nil
	default:
		return 0, fmt.Errorf("unknown model: %s", s)
	}
}

// ParseLossName maps a -loss flag value to a LossName.
func ParseLossName(s string) (LossName, error) {
	switch s {
	case "hs":
		return LossHierarchicalSoftmax, nil
	case "ns":
		return LossNegativeSampling, nil
	case "softmax":
		return LossSoftmax, nil
	case "one-vs-all", "ova":
		return LossOneVsAll, nil
	default:
		return 0, fmt.Errorf("unknown loss: %s", s)
	}
}

// Args carries every tunable of training, quantization and inference.
type Args struct {
	Input              string
	Output             string
	DicPath            string
	BPECodesPath       string
	PretrainedVectors  string
	Label              string
	LR                 float64
	T                  float64
	Dim                int
	WS                 int
	Epoch              int
	MinCount           int
	MinCountLabel      int
	Neg                int
	WordNgrams         int
	Bucket             int
	Minn               int
	Maxn               int
	Thread             int
	LRUpdateRate       int
	Verbose            int
	Seed               int
	MaxBPEVars         int
	AddSentFeats       int
	SaveOutput         bool
	Model              ModelName
	Loss               LossName

	// Quantization.
	QOut    bool
	QNorm   bool
	Retrain bool
	Cutoff  int
	DSub    int
}

// New returns the defaults shared by all subcommands.
func New() *Args {
	return &Args{
		Label:        "__label__",
		LR:           0.05,
		T:            1e-4,
		Dim:          100,
		WS:           5,
		Epoch:        5,
		MinCount:     5,
		MinCountLabel: 0,
		Neg:          5,
		WordNgrams:   1,
		Bucket:       2000000,
		Minn:         3,
		Maxn:         6,
		Thread:       12,
		LRUpdateRate: 100,
		Verbose:      2,
		MaxBPEVars:   3,
		Model:        ModelSkipGram,
		Loss:         LossNegativeSampling,
		DSub:         2,
	}
}

// NewForCommand returns defaults adjusted for the given training subcommand.
func NewForCommand(command string) (*Args, error) {
	a := New()

	switch command {
	case "supervised":
		a.Model = ModelSupervised
		a.Loss = LossSoftmax
		a.MinCount = 1
		a.LR = 0.1
	case "cbow":
		a.Model = ModelCBOW
	case "skipgram":
		a.Model = ModelSkipGram
	case "syntax_skipgram":
		a.Model = ModelSyntaxSkipGram
	case "hybrid_skipgram":
		a.Model = ModelHybridSkipGram
	case "quantize", "create_dict":
		// Defaults as-is.
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}

	return a, nil
}

// Parse binds the flag set for this Args and parses argv.
func (a *Args) Parse(name string, argv []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&a.Input, "input", a.Input, "training file path")
	fs.StringVar(&a.Output, "output", a.Output, "output file path")
	fs.StringVar(&a.DicPath, "dicPath", a.DicPath, "prebuilt dictionary path")
	fs.StringVar(&a.BPECodesPath, "bpeCodesPath", a.BPECodesPath, "BPE codes path")
	fs.StringVar(&a.PretrainedVectors, "pretrainedVectors", a.PretrainedVectors, "pretrained word vectors")
	fs.StringVar(&a.Label, "label", a.Label, "label prefix")
	fs.Float64Var(&a.LR, "lr", a.LR, "learning rate")
	fs.Float64Var(&a.T, "t", a.T, "sampling threshold")
	fs.IntVar(&a.Dim, "dim", a.Dim, "size of word vectors")
	fs.IntVar(&a.WS, "ws", a.WS, "size of the context window")
	fs.IntVar(&a.Epoch, "epoch", a.Epoch, "number of epochs")
	fs.IntVar(&a.MinCount, "minCount", a.MinCount, "minimal number of word occurrences")
	fs.IntVar(&a.MinCountLabel, "minCountLabel", a.MinCountLabel, "minimal number of label occurrences")
	fs.IntVar(&a.Neg, "neg", a.Neg, "number of negatives sampled")
	fs.IntVar(&a.WordNgrams, "wordNgrams", a.WordNgrams, "max length of word ngram")
	fs.IntVar(&a.Bucket, "bucket", a.Bucket, "number of ngram buckets")
	fs.IntVar(&a.Minn, "minn", a.Minn, "min length of subword")
	fs.IntVar(&a.Maxn, "maxn", a.Maxn, "max length of char ngram")
	fs.IntVar(&a.Thread, "thread", a.Thread, "number of threads")
	fs.IntVar(&a.LRUpdateRate, "lrUpdateRate", a.LRUpdateRate, "change the rate of updates for the learning rate")
	fs.IntVar(&a.Verbose, "verbose", a.Verbose, "verbosity level")
	fs.IntVar(&a.Seed, "seed", a.Seed, "random generator seed")
	fs.IntVar(&a.MaxBPEVars, "maxBpeVars", a.MaxBPEVars, "max BPE segmentation variants per token")
	fs.IntVar(&a.AddSentFeats, "addSentFeats", a.AddSentFeats, "probability (out of 10) of adding sentence concepts as features")
	fs.BoolVar(&a.SaveOutput, "saveOutput", a.SaveOutput, "whether output params should be saved")
	fs.BoolVar(&a.QOut, "qout", a.QOut, "quantizing the classifier")
	fs.BoolVar(&a.QNorm, "qnorm", a.QNorm, "quantizing the norm separately")
	fs.BoolVar(&a.Retrain, "retrain", a.Retrain, "whether embeddings are finetuned if a cutoff is applied")
	fs.IntVar(&a.Cutoff, "cutoff", a.Cutoff, "number of words and ngrams to retain")
	fs.IntVar(&a.DSub, "dsub", a.DSub, "size of each sub-vector")

	lossFlag := fs.String("loss", a.Loss.String(), "loss function {ns, hs, softmax, ova}")
	modelFlag := fs.String("model", a.Model.String(), "training model {cbow, sg, sup, syntax_sg, hybrid_sg}")

	if err := fs.Parse(argv); err != nil {
		return err
	}

	loss, err := ParseLossName(*lossFlag)
	if err != nil {
		return err
	}
	a.Loss = loss

	model, err := ParseModelName(*modelFlag)
	if err != nil {
		return err
	}
	a.Model = model

	if a.Output == "" && name != "create_dict" {
		return fmt.Errorf("%s: empty -output not allowed", name)
	}

	return nil
}

var byteOrder = binary.LittleEndian

// Save writes the binary args blob embedded in model files.
//
// The field order is part of the on-disk format and must not change.
func (a *Args) Save(w io.Writer) error {
	fields := []any{
		int32(a.Dim),
		int32(a.WS),
		int32(a.Epoch),
		int32(a.MinCount),
		int32(a.Neg),
		int32(a.WordNgrams),
		int32(a.Loss),
		int32(a.Model),
		int32(a.Bucket),
		int32(a.Minn),
		int32(a.Maxn),
		int32(a.LRUpdateRate),
		a.T,
		int32(a.MaxBPEVars),
		int32(a.AddSentFeats),
	}
	for _, f := range fields {
		if err := binary.Write(w, byteOrder, f); err != nil {
			return fmt.Errorf("save args: %w", err)
		}
	}

	return nil
}

// Load reads the binary args blob written by Save.
func (a *Args) Load(r io.Reader) error {
	var (
		dim, ws, epoch, minCount, neg, wordNgrams int32
		loss, model                               int32
		bucket, minn, maxn, lrUpdateRate          int32
		maxBPEVars, addSentFeats                  int32
	)
	fields := []any{
		&dim, &ws, &epoch, &minCount, &neg, &wordNgrams,
		&loss, &model, &bucket, &minn, &maxn, &lrUpdateRate,
		&a.T, &maxBPEVars, &addSentFeats,
	}
	for _, f := range fields {
		if err := binary.Read(r, byteOrder, f); err != nil {
			return fmt.Errorf("load args: %w", err)
		}
	}

	a.Dim = int(dim)
	a.WS = int(ws)
	a.Epoch = int(epoch)
	a.MinCount = int(minCount)
	a.Neg = int(neg)
	a.WordNgrams = int(wordNgrams)
	a.Loss = LossName(loss)
	a.Model = ModelName(model)
	a.Bucket = int(bucket)
	a.Minn = int(minn)
	a.Maxn = int(maxn)
	a.LRUpdateRate = int(lrUpdateRate)
	a.MaxBPEVars = int(maxBPEVars)
	a.AddSentFeats = int(addSentFeats)

	return nil
}

// Dump writes a human-readable listing of the persisted fields.
func (a *Args) Dump(w io.Writer) {
	fmt.Fprintf(w, "dim %d\n", a.Dim)
	fmt.Fprintf(w, "ws %d\n", a.WS)
	fmt.Fprintf(w, "epoch %d\n", a.Epoch)
	fmt.Fprintf(w, "minCount %d\n", a.MinCount)
	fmt.Fprintf(w, "neg %d\n", a.Neg)
	fmt.Fprintf(w, "wordNgrams %d\n", a.WordNgrams)
	fmt.Fprintf(w, "loss %s\n", a.Loss)
	fmt.Fprintf(w, "model %s\n", a.Model)
	fmt.Fprintf(w, "bucket %d\n", a.Bucket)
	fmt.Fprintf(w, "minn %d\n", a.Minn)
	fmt.Fprintf(w, "maxn %d\n", a.Maxn)
	fmt.Fprintf(w, "lrUpdateRate %d\n", a.LRUpdateRate)
	fmt.Fprintf(w, "t %g\n", a.T)
	fmt.Fprintf(w, "maxBpeVars %d\n", a.MaxBPEVars)
	fmt.Fprintf(w, "addSentFeats %d\n", a.AddSentFeats)
}
