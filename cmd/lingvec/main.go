// Command lingvec trains and queries multilingual syntax-aware embedding
// models.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/lingvec"
	"github.com/hupe1980/lingvec/args"
	"github.com/hupe1980/lingvec/blobstore"
	lvminio "github.com/hupe1980/lingvec/blobstore/minio"
	lvs3 "github.com/hupe1980/lingvec/blobstore/s3"
	"github.com/hupe1980/lingvec/dictionary"
)

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: lingvec <command> <args>

The commands supported by lingvec are:

  supervised              train a supervised classifier
  quantize                quantize a model to reduce the memory usage
  test                    evaluate a supervised classifier
  test-label              print labels with precision and recall scores
  predict                 predict most likely labels
  predict-prob            predict most likely labels with probabilities
  skipgram                train a skipgram model
  syntax_skipgram         train a syntax-skipgram model
  hybrid_skipgram         train a classic skipgram model + use syntax context
  cbow                    train a cbow model
  print-word-vectors      print word vectors given a trained model
  print-sentence-vectors  print sentence vectors given a trained model
  print-ngrams            print ngrams given a trained model and word
  nn                      query for nearest neighbors
  analogies               query for analogies
  dump                    dump arguments,dictionary,input/output vectors
  create_dict             build and save a dictionary from a corpus
  dump_dict               print a saved dictionary
  compare                 compute similarities for word pairs

`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// modelStore resolves s3:// and minio:// model locations to a blob store;
// everything else is a local path.
func modelStore(ctx context.Context, location string) (blobstore.Store, string, bool, error) {
	switch {
	case strings.HasPrefix(location, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(location, "s3://"), "/")
		if !ok {
			return nil, "", false, fmt.Errorf("invalid s3 location: %s", location)
		}
		store, err := lvs3.NewStoreFromDefaultConfig(ctx, bucket, "")
		if err != nil {
			return nil, "", false, err
		}

		return store, key, true, nil
	case strings.HasPrefix(location, "minio://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(location, "minio://"), "/")
		if !ok {
			return nil, "", false, fmt.Errorf("invalid minio location: %s", location)
		}
		endpoint := os.Getenv("MINIO_ENDPOINT")
		if endpoint == "" {
			return nil, "", false, fmt.Errorf("MINIO_ENDPOINT must be set for %s", location)
		}
		client, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: os.Getenv("MINIO_SECURE") == "true",
		})
		if err != nil {
			return nil, "", false, err
		}

		return lvminio.NewStore(client, bucket, ""), key, true, nil
	default:
		return nil, location, false, nil
	}
}

func saveModel(lv *lingvec.LingVec, location string) error {
	store, key, remote, err := modelStore(context.Background(), location)
	if err != nil {
		return err
	}
	if remote {
		return lv.SaveModelTo(context.Background(), store, key)
	}

	return lv.SaveModel(key)
}

func loadModel(location string) (*lingvec.LingVec, error) {
	lv := lingvec.New()
	store, key, remote, err := modelStore(context.Background(), location)
	if err != nil {
		return nil, err
	}
	if remote {
		if err := lv.LoadModelFrom(context.Background(), store, key); err != nil {
			return nil, err
		}

		return lv, nil
	}
	if err := lv.LoadModel(key); err != nil {
		return nil, err
	}

	return lv, nil
}

func train(argv []string) {
	command := argv[1]
	a, err := args.NewForCommand(command)
	if err != nil {
		fatal(err)
	}
	if err := a.Parse(command, argv[2:]); err != nil {
		os.Exit(1)
	}

	lv := lingvec.New()
	if err := lv.Train(a, nil); err != nil {
		fatal(err)
	}

	if err := saveModel(lv, a.Output+".bin"); err != nil {
		fatal(err)
	}
	if err := lv.SaveVectors(a.Output + ".vec"); err != nil {
		fatal(err)
	}
	if a.SaveOutput {
		if err := lv.SaveOutput(a.Output + ".output"); err != nil {
			fatal(err)
		}
	}
}

func quantize(argv []string) {
	a, err := args.NewForCommand("quantize")
	if err != nil {
		fatal(err)
	}
	if err := a.Parse("quantize", argv[2:]); err != nil {
		os.Exit(1)
	}

	lv, err := loadModel(a.Output + ".bin")
	if err != nil {
		fatal(err)
	}
	if err := lv.Quantize(a, nil); err != nil {
		fatal(err)
	}
	if err := saveModel(lv, a.Output+".ftz"); err != nil {
		fatal(err)
	}
}

func test(argv []string) {
	perLabel := argv[1] == "test-label"
	if len(argv) < 4 || len(argv) > 6 {
		fmt.Fprintf(os.Stderr, "usage: lingvec %s <model> <test-data> [<k>] [<th>]\n", argv[1])
		os.Exit(1)
	}

	k := 1
	threshold := 0.0
	if len(argv) > 4 {
		k = mustAtoi(argv[4])
	}
	if len(argv) > 5 {
		threshold = mustAtof(argv[5])
	}

	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	var in *os.File
	if argv[3] == "-" {
		in = os.Stdin
	} else {
		in, err = os.Open(argv[3])
		if err != nil {
			fatal(fmt.Errorf("test file cannot be opened: %w", err))
		}
		defer in.Close()
	}

	meter := lingvec.NewMeter()
	if err := lv.Test(in, k, float32(threshold), meter); err != nil {
		fatal(err)
	}

	if perLabel {
		writeMetric := func(name string, value float64) {
			if value == value { // not NaN
				fmt.Printf("%s : %.6f  ", name, value)
			} else {
				fmt.Printf("%s : --------  ", name)
			}
		}
		dict := lv.Dictionary()
		for labelID := int32(0); labelID < dict.Nlabels(); labelID++ {
			writeMetric("F1-Score", meter.F1ScoreForLabel(labelID))
			writeMetric("Precision", meter.PrecisionForLabel(labelID))
			writeMetric("Recall", meter.RecallForLabel(labelID))
			label, _ := dict.GetLabel(labelID)
			fmt.Printf(" %s\n", label)
		}
	}
	meter.WriteGeneralMetrics(os.Stdout, k)
}

func predict(argv []string) {
	if len(argv) < 4 || len(argv) > 6 {
		fmt.Fprintln(os.Stderr, "usage: lingvec predict[-prob] <model> <test-data> [<k>] [<th>]")
		os.Exit(1)
	}
	k := 1
	threshold := 0.0
	if len(argv) > 4 {
		k = mustAtoi(argv[4])
		if len(argv) == 6 {
			threshold = mustAtof(argv[5])
		}
	}
	printProb := argv[1] == "predict-prob"

	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	var in *os.File
	if argv[3] == "-" {
		in = os.Stdin
	} else {
		in, err = os.Open(argv[3])
		if err != nil {
			fatal(fmt.Errorf("input file cannot be opened: %w", err))
		}
		defer in.Close()
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		predictions, err := lv.PredictLine(scanner.Text(), k, float32(threshold))
		if err != nil {
			fatal(err)
		}
		for i, p := range predictions {
			if i > 0 {
				fmt.Print(" ")
			}
			fmt.Print(p.Word)
			if printProb {
				fmt.Printf(" %g", p.Score)
			}
		}
		fmt.Println()
	}
}

func printWordVectors(argv []string) {
	if len(argv) != 3 {
		fmt.Fprintln(os.Stderr, "usage: lingvec print-word-vectors <model>")
		os.Exit(1)
	}
	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	vec := make([]float32, lv.Dimension())
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		word := scanner.Text()
		lv.GetWordVector(vec, word, 0)
		fmt.Print(word)
		for _, v := range vec {
			fmt.Printf(" %g", v)
		}
		fmt.Println()
	}
}

func printSentenceVectors(argv []string) {
	if len(argv) != 3 {
		fmt.Fprintln(os.Stderr, "usage: lingvec print-sentence-vectors <model>")
		os.Exit(1)
	}
	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	svec := make([]float32, lv.Dimension())
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lv.GetSentenceVector(svec, scanner.Text())
		for i, v := range svec {
			if i > 0 {
				fmt.Print(" ")
			}
			fmt.Printf("%g", v)
		}
		fmt.Println()
	}
}

func printNgrams(argv []string) {
	if len(argv) != 4 {
		fmt.Fprintln(os.Stderr, "usage: lingvec print-ngrams <model> <word>")
		os.Exit(1)
	}
	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	names, vecs := lv.GetNgramVectors(argv[3])
	for i := range names {
		fmt.Print(names[i])
		for _, v := range vecs[i] {
			fmt.Printf(" %g", v)
		}
		fmt.Println()
	}
}

func nn(argv []string) {
	k := 10
	allowedKinds := dictionary.KindAll
	switch len(argv) {
	case 3:
	case 4:
		k = mustAtoi(argv[3])
	case 5:
		k = mustAtoi(argv[3])
		allowedKinds = dictionary.EntryKind(mustAtoi(argv[4]))
	default:
		fmt.Fprintln(os.Stderr, "usage: lingvec nn <model> [<k>] [<allowedTypes>]")
		os.Exit(1)
	}

	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	fmt.Print("Query word? ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		for _, p := range lv.GetNN(scanner.Text(), 0, k, allowedKinds) {
			fmt.Printf("%s %g\n", p.Word, p.Score)
		}
		fmt.Print("Query word? ")
	}
}

func analogies(argv []string) {
	k := 10
	switch len(argv) {
	case 3:
	case 4:
		k = mustAtoi(argv[3])
	default:
		fmt.Fprintln(os.Stderr, "usage: lingvec analogies <model> [<k>]")
		os.Exit(1)
	}
	if k <= 0 {
		fatal(fmt.Errorf("k needs to be 1 or higher"))
	}

	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	fmt.Print("Query triplet (A - B + C)? ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Split(bufio.ScanWords)
	read := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}

		return scanner.Text(), true
	}
	for {
		wordA, ok := read()
		if !ok {
			break
		}
		wordB, ok := read()
		if !ok {
			break
		}
		wordC, ok := read()
		if !ok {
			break
		}
		for _, p := range lv.GetAnalogies(k, wordA, wordB, wordC) {
			fmt.Printf("%s %g\n", p.Word, p.Score)
		}
		fmt.Print("Query triplet (A - B + C)? ")
	}
}

func dump(argv []string) {
	if len(argv) < 4 {
		fmt.Fprintln(os.Stderr, "usage: lingvec dump <model> args|dict|input|output")
		os.Exit(1)
	}

	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	switch argv[3] {
	case "args":
		lv.Args().Dump(os.Stdout)
	case "dict":
		lv.Dictionary().Dump(os.Stdout)
	case "input":
		m, err := lv.InputMatrix()
		if err != nil {
			fatal(fmt.Errorf("not supported for quantized models: %w", err))
		}
		m.Dump(os.Stdout)
	case "output":
		m, err := lv.OutputMatrix()
		if err != nil {
			fatal(fmt.Errorf("not supported for quantized models: %w", err))
		}
		m.Dump(os.Stdout)
	default:
		fmt.Fprintln(os.Stderr, "usage: lingvec dump <model> args|dict|input|output")
		os.Exit(1)
	}
}

func createDict(argv []string) {
	a, err := args.NewForCommand("create_dict")
	if err != nil {
		fatal(err)
	}
	if err := a.Parse("create_dict", argv[2:]); err != nil {
		os.Exit(1)
	}
	if a.Input == "" || a.Output == "" {
		fmt.Fprintln(os.Stderr, "usage: lingvec create_dict -input <file> -bpeCodesPath <codes> -output <out>")
		os.Exit(1)
	}

	d, err := lingvec.BuildDictionary(a)
	if err != nil {
		fatal(err)
	}

	out, err := os.Create(a.Output)
	if err != nil {
		fatal(fmt.Errorf("%s cannot be opened for saving dict: %w", a.Output, err))
	}
	defer out.Close()
	w := bufio.NewWriter(out)
	if err := d.Save(w); err != nil {
		fatal(err)
	}
	if err := w.Flush(); err != nil {
		fatal(err)
	}
}

func dumpDict(argv []string) {
	if len(argv) < 3 {
		fmt.Fprintln(os.Stderr, "usage: lingvec dump_dict <file>")
		os.Exit(1)
	}

	f, err := os.Open(argv[2])
	if err != nil {
		fatal(fmt.Errorf("failed to open %s: %w", argv[2], err))
	}
	defer f.Close()

	d, err := dictionary.NewFromReader(args.New(), bufio.NewReader(f))
	if err != nil {
		fatal(err)
	}
	d.Dump(os.Stdout)
}

func compare(argv []string) {
	if len(argv) < 5 {
		fmt.Fprintln(os.Stderr, "usage: lingvec compare <model> <input file> <output file> [-no-pos-tag]")
		os.Exit(1)
	}

	lv, err := loadModel(argv[2])
	if err != nil {
		fatal(err)
	}

	in, err := os.Open(argv[3])
	if err != nil {
		fatal(fmt.Errorf("failed to open %s: %w", argv[3], err))
	}
	defer in.Close()

	out, err := os.Create(argv[4])
	if err != nil {
		fatal(fmt.Errorf("failed to open %s: %w", argv[4], err))
	}
	defer out.Close()

	noPosTag := len(argv) > 5 && argv[5] == "-no-pos-tag"

	scanner := bufio.NewScanner(in)
	scanner.Scan() // header
	oovCount := 0
	w := bufio.NewWriter(out)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ",")
		if len(parts) != 5 {
			fatal(fmt.Errorf("failed to split string: %q", scanner.Text()))
		}
		var posTag uint8
		if !noPosTag {
			switch parts[3] {
			case "nouns":
				posTag = 2
			case "verbs":
				posTag = 1
			case "adjectives":
				posTag = 3
			case "adverbs":
				posTag = 13
			default:
				fatal(fmt.Errorf("unknown pos_tag %s", parts[3]))
			}
		}

		sim := lv.CompareWords(parts[1], posTag, parts[2], posTag)
		if sim != sim { // NaN
			oovCount++
			sim = 0
		}
		fmt.Fprintf(w, "%s,%s,%s,%g\n", parts[0], parts[1], parts[2], sim)
	}
	if err := w.Flush(); err != nil {
		fatal(err)
	}
	fmt.Printf("Count of OOV words %d\n", oovCount)
}

func mustAtoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		fatal(err)
	}

	return v
}

func mustAtof(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fatal(err)
	}

	return v
}

func main() {
	argv := os.Args
	if len(argv) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch argv[1] {
	case "skipgram", "syntax_skipgram", "hybrid_skipgram", "cbow", "supervised":
		train(argv)
	case "test", "test-label":
		test(argv)
	case "quantize":
		quantize(argv)
	case "print-word-vectors":
		printWordVectors(argv)
	case "print-sentence-vectors":
		printSentenceVectors(argv)
	case "print-ngrams":
		printNgrams(argv)
	case "nn":
		nn(argv)
	case "analogies":
		analogies(argv)
	case "predict", "predict-prob":
		predict(argv)
	case "dump":
		dump(argv)
	case "create_dict":
		createDict(argv)
	case "dump_dict":
		dumpDict(argv)
	case "compare":
		compare(argv)
	default:
		printUsage()
		os.Exit(1)
	}
}
