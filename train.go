package lingvec

import (
	"fmt"
	"math"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/lingvec/args"
	"github.com/hupe1980/lingvec/bpe"
	"github.com/hupe1980/lingvec/corpus"
	"github.com/hupe1980/lingvec/dictionary"
	"github.com/hupe1980/lingvec/loss"
	"github.com/hupe1980/lingvec/sent"
)

// Train builds matrices and runs the hogwild worker pool over the corpus.
// The dictionary is loaded from a.DicPath (built beforehand with
// BuildDictionary) and frozen before workers start.
func (lv *LingVec) Train(a *args.Args, callback TrainCallback) error {
	lv.args = a

	df, err := os.Open(a.DicPath)
	if err != nil {
		return fmt.Errorf("%s cannot be opened for training: %w", a.DicPath, err)
	}
	lv.dict, err = dictionary.NewFromReader(a, df,
		dictionary.WithTableSize(lv.dictTableSize),
		dictionary.WithLogger(lv.logger.Logger))
	df.Close()
	if err != nil {
		return err
	}

	if a.PretrainedVectors != "" {
		input, err := lv.getInputMatrixFromFile(a.PretrainedVectors)
		if err != nil {
			return err
		}
		lv.input = input
	} else {
		input := lv.createRandomMatrix()
		lv.logger.Info("created input matrix", "rows", input.Rows(), "dim", input.Cols())
		lv.input = input
	}
	lv.output = lv.createTrainOutputMatrix()
	lv.quant = false
	if err := lv.buildModel(); err != nil {
		return err
	}

	return lv.startWorkers(callback)
}

// BuildDictionary streams the corpus once and returns the thresholded,
// subword-initialized dictionary (the create_dict subcommand).
func BuildDictionary(a *args.Args, opts ...Option) (*dictionary.Dictionary, error) {
	lv := New(opts...)
	lv.args = a

	encoder, err := loadEncoder(a)
	if err != nil {
		return nil, err
	}

	d := dictionary.New(a, encoder,
		dictionary.WithTableSize(lv.dictTableSize),
		dictionary.WithLogger(lv.logger.Logger))

	r, err := corpus.Open(a.Input)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := d.ReadFromFile(r); err != nil {
		return nil, err
	}

	return d, nil
}

func loadEncoder(a *args.Args) (*bpe.Encoder, error) {
	if a.BPECodesPath == "" {
		return bpe.NewEncoder(), nil
	}

	return bpe.NewEncoderFromFile(a.BPECodesPath)
}

// Abort asks workers to stop; ErrAborted is re-raised after they join.
func (lv *LingVec) Abort() {
	lv.recordTrainError(ErrAborted)
}

func (lv *LingVec) recordTrainError(err error) {
	lv.trainErrMu.Lock()
	defer lv.trainErrMu.Unlock()
	if lv.trainErr == nil {
		lv.trainErr = err
	}
}

func (lv *LingVec) trainError() error {
	lv.trainErrMu.Lock()
	defer lv.trainErrMu.Unlock()

	return lv.trainErr
}

func (lv *LingVec) keepTraining(ntokens int64) bool {
	return lv.tokenCount.Load() < int64(lv.args.Epoch)*ntokens && lv.trainError() == nil
}

func (lv *LingVec) storeLoss(v float32) { lv.lossBits.Store(math.Float32bits(v)) }
func (lv *LingVec) loadLoss() float32   { return math.Float32frombits(lv.lossBits.Load()) }

func (lv *LingVec) progressInfo(progress float32) (wst, lr float64, eta int64) {
	t := time.Since(lv.start).Seconds()
	lr = lv.args.LR * (1.0 - float64(progress))

	eta = 720 * 3600 // effectively "unknown" until progress registers
	if progress > 0 && t >= 0 {
		eta = int64(t * float64(1-progress) / float64(progress))
		wst = float64(lv.tokenCount.Load()) / t / float64(lv.args.Thread)
	}

	return wst, lr, eta
}

func (lv *LingVec) printInfo(progress, lossValue float32) {
	wst, lr, eta := lv.progressInfo(progress)
	lv.logger.Info("training",
		"progress_pct", fmt.Sprintf("%.1f", progress*100),
		"words_sec_thread", int64(wst),
		"lr", fmt.Sprintf("%.6f", lr),
		"avg_loss", fmt.Sprintf("%.6f", lossValue),
		"eta_sec", eta,
	)
}

// startWorkers runs one goroutine per thread over the shared matrices and
// joins them. Worker errors land in a single shared slot (first writer
// wins) and are re-raised here after the join.
func (lv *LingVec) startWorkers(callback TrainCallback) error {
	lv.start = time.Now()
	lv.tokenCount.Store(0)
	lv.storeLoss(-1)
	lv.trainErrMu.Lock()
	lv.trainErr = nil
	lv.trainErrMu.Unlock()

	file, err := corpus.OpenFile(lv.args.Input)
	if err != nil {
		return err
	}
	defer file.Close()

	ntokens := lv.dict.Ntokens()

	var g errgroup.Group
	if lv.args.Thread > 1 {
		for i := 0; i < lv.args.Thread; i++ {
			g.Go(func() error {
				return lv.trainWorker(i, file.Section(i, lv.args.Thread), callback)
			})
		}

		limiter := rate.NewLimiter(rate.Every(time.Second), 1)
		for lv.keepTraining(ntokens) {
			time.Sleep(100 * time.Millisecond)
			if lv.loadLoss() >= 0 && lv.args.Verbose > 1 && limiter.Allow() {
				progress := float32(lv.tokenCount.Load()) / float32(int64(lv.args.Epoch)*ntokens)
				lv.printInfo(progress, lv.loadLoss())
			}
		}
		if err := g.Wait(); err != nil {
			lv.recordTrainError(err)
		}
	} else {
		if err := lv.trainWorker(0, file.Section(0, 1), callback); err != nil {
			lv.recordTrainError(err)
		}
	}

	if err := lv.trainError(); err != nil {
		return err
	}
	if lv.args.Verbose > 0 {
		lv.printInfo(1.0, lv.loadLoss())
	}

	return nil
}

func (lv *LingVec) trainWorker(threadID int, section *corpus.Section, callback TrainCallback) error {
	state := loss.NewState(lv.args.Dim, int(lv.output.Rows()), int64(threadID+lv.args.Seed))

	ntokens := lv.dict.Ntokens()
	var localTokenCount int64
	var callbackCounter uint64
	var line sent.CompactLine
	var words, labels []int32

	for lv.keepTraining(ntokens) {
		progress := float32(lv.tokenCount.Load()) / float32(int64(lv.args.Epoch)*ntokens)
		if callback != nil && callbackCounter%64 == 0 {
			wst, lr, eta := lv.progressInfo(progress)
			callback(progress, lv.loadLoss(), wst, lr, eta)
		}
		callbackCounter++
		lr := float32(lv.args.LR * (1.0 - float64(progress)))

		var err error
		switch lv.args.Model {
		case args.ModelSupervised:
			var n int32
			n, err = lv.dict.GetLineSupervised(section, &words, &labels)
			localTokenCount += int64(n)
			if err == nil {
				err = lv.supervised(state, lr, words, labels)
			}
		case args.ModelCBOW:
			var n int32
			n, err = lv.dict.GetLineWords(section, &words, state.Rng)
			localTokenCount += int64(n)
			if err == nil {
				err = lv.cbow(state, lr, words)
			}
		case args.ModelSkipGram:
			var n int32
			n, err = lv.dict.GetLine(section, &line, state.Rng)
			localTokenCount += int64(n)
			if err == nil {
				err = lv.skipgram(state, lr, &line)
			}
		case args.ModelSyntaxSkipGram:
			var n int32
			n, err = lv.dict.GetLine(section, &line, state.Rng)
			localTokenCount += int64(n)
			if err == nil {
				err = lv.syntaxSkipgram(state, lr, &line)
			}
		case args.ModelHybridSkipGram:
			var n int32
			n, err = lv.dict.GetLine(section, &line, state.Rng)
			localTokenCount += int64(n)
			if err == nil {
				err = lv.skipgram(state, lr, &line)
			}
			if err == nil {
				err = lv.syntaxSkipgram(state, lr, &line)
			}
		default:
			err = fmt.Errorf("unsupported model: %s", lv.args.Model)
		}
		if err != nil {
			lv.recordTrainError(err)

			return err
		}

		if localTokenCount > int64(lv.args.LRUpdateRate) {
			lv.tokenCount.Add(localTokenCount)
			localTokenCount = 0
			if threadID == 0 && lv.args.Verbose > 1 {
				lv.storeLoss(state.AvgLoss())
			}
		}
	}
	if threadID == 0 {
		lv.storeLoss(state.AvgLoss())
	}

	return nil
}

// supervised trains the classifier on one line: all labels with one-vs-all
// loss, a uniformly drawn one otherwise.
func (lv *LingVec) supervised(state *loss.State, lr float32, line, labels []int32) error {
	if len(labels) == 0 || len(line) == 0 {
		return nil
	}
	if lv.args.Loss == args.LossOneVsAll {
		return lv.model.Update(line, loss.IDSlice(labels), loss.KAllTargets, lr, state)
	}

	i := state.Rng.Intn(len(labels))

	return lv.model.Update(line, loss.IDSlice(labels), i, lr, state)
}

// cbow predicts each word from the bag of its context subwords.
func (lv *LingVec) cbow(state *loss.State, lr float32, line []int32) error {
	var bow []int32
	for w := range line {
		boundary := 1 + state.Rng.Intn(lv.args.WS)
		bow = bow[:0]
		for c := -boundary; c <= boundary; c++ {
			if c != 0 && w+c >= 0 && w+c < len(line) {
				bow = append(bow, lv.dict.GetSubwords(line[w+c])...)
			}
		}
		if err := lv.model.Update(bow, loss.IDSlice(line), w, lr, state); err != nil {
			return err
		}
	}

	return nil
}

// skipgram trains on positional windows within every sentence, and maps
// other-language words onto windows around their aligned target position.
func (lv *LingVec) skipgram(state *loss.State, lr float32, line *sent.CompactLine) error {
	if err := lv.updateModelOnWords(state, lr, line.Target.Words); err != nil {
		return err
	}

	for i := range line.OtherLangs {
		other := &line.OtherLangs[i]
		if err := lv.updateModelOnWords(state, lr, other.Words); err != nil {
			return err
		}
		if err := lv.mapOtherLangToTarget(state, lr, line.Target.Words, other.Words, other.MappingToTargetWords); err != nil {
			return err
		}
	}

	return nil
}

func (lv *LingVec) updateModelOnWords(state *loss.State, lr float32, words []sent.CompactWord) error {
	for w := range words {
		if words[w].Num < 0 {
			continue
		}
		feats := lv.dict.GetSubwords(words[w].Num)
		boundary := 1 + state.Rng.Intn(lv.args.WS)
		for c := -boundary; c <= boundary; c++ {
			if c != 0 && w+c >= 0 && w+c < len(words) {
				if err := lv.model.Update(feats, loss.WordSlice(words), w+c, lr, state); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (lv *LingVec) mapOtherLangToTarget(state *loss.State, lr float32, targetSent, otherSent []sent.CompactWord, mapping []int16) error {
	for i := range otherSent {
		if otherSent[i].Num == -1 || i >= len(mapping) {
			continue
		}

		targetPos := int(mapping[i])
		if targetPos < 0 || targetPos >= len(targetSent) || targetSent[targetPos].Num == -1 {
			continue
		}

		feats := lv.dict.GetSubwords(otherSent[i].Num)
		boundary := 1 + state.Rng.Intn(lv.args.WS)
		for c := -boundary; c <= boundary; c++ {
			if targetPos+c >= 0 && targetPos+c < len(targetSent) {
				if err := lv.model.Update(feats, loss.WordSlice(targetSent), targetPos+c, lr, state); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// syntaxSkipgram draws context pairs from the dependency tree instead of
// the positional window, mirrored through cross-lingual alignments.
func (lv *LingVec) syntaxSkipgram(state *loss.State, lr float32, line *sent.CompactLine) error {
	if err := lv.updateModelOnWordsSyntax(state, lr, line.Target.Words, line.Target.Concepts); err != nil {
		return err
	}
	if err := lv.updateModelOnPhrasesSyntax(state, lr, line.Target.Phrases, line.Target.Concepts); err != nil {
		return err
	}
	for i := range line.OtherLangs {
		other := &line.OtherLangs[i]
		if err := lv.updateModelOnWordsSyntax(state, lr, other.Words, other.Concepts); err != nil {
			return err
		}
		if err := lv.mapOtherLangToTargetSyntax(state, lr, line.Target.Words, other.Words, other.MappingToTargetWords, other.Concepts); err != nil {
			return err
		}
		if err := lv.updateModelOnPhrasesSyntax(state, lr, other.Phrases, other.Concepts); err != nil {
			return err
		}
		if err := lv.mapOtherLangToTargetSyntax(state, lr, line.Target.Phrases, other.Phrases, other.MappingToTargetPhrases, other.Concepts); err != nil {
			return err
		}
	}

	return nil
}

// combineFeats appends the sentence concept ids to the features with
// probability addSentFeats/10.
func (lv *LingVec) combineFeats(state *loss.State, feats, sentFeats []int32) []int32 {
	if len(sentFeats) == 0 {
		return feats
	}

	n := 1 + state.Rng.Intn(10)
	if n <= lv.args.AddSentFeats {
		combined := make([]int32, 0, len(feats)+len(sentFeats))
		combined = append(combined, feats...)
		combined = append(combined, sentFeats...)

		return combined
	}

	return feats
}

func (lv *LingVec) updateModelOnWordsSyntax(state *loss.State, lr float32, words []sent.CompactWord, sentFeats []int32) error {
	for w := range words {
		if words[w].Num == -1 {
			continue
		}
		feats := lv.combineFeats(state, lv.dict.GetSubwords(words[w].Num), sentFeats)

		update := func(pos int) error {
			return lv.model.Update(feats, loss.WordSlice(words), pos, lr, state)
		}

		if err := callOnAllSiblings(words, w, update); err != nil {
			return err
		}
		if err := callOnChildren(words, w, update); err != nil {
			return err
		}
		if err := callOnHeads(words, w, update); err != nil {
			return err
		}
	}

	return nil
}

func (lv *LingVec) updateModelOnPhrasesSyntax(state *loss.State, lr float32, phrases []sent.CompactWord, sentFeats []int32) error {
	for w := range phrases {
		if !phrases[w].IsPhrase() || phrases[w].Num == -1 {
			continue
		}
		// The phrase id and its component word ids.
		feats := lv.combineFeats(state, lv.dict.GetSubwords(phrases[w].Num), sentFeats)

		update := func(pos int) error {
			return lv.model.Update(feats, loss.WordSlice(phrases), pos, lr, state)
		}

		if err := callOnAllSiblings(phrases, w, update); err != nil {
			return err
		}
		if err := callOnChildren(phrases, w, update); err != nil {
			return err
		}
		if err := callOnHeads(phrases, w, update); err != nil {
			return err
		}

		// Tie the phrase to the bag of its components.
		if len(feats) > 1 {
			if err := lv.model.Update(feats[1:], loss.WordSlice(phrases), w, lr, state); err != nil {
				return err
			}
		}
	}

	return nil
}

func (lv *LingVec) mapOtherLangToTargetSyntax(state *loss.State, lr float32, targetSent, otherSent []sent.CompactWord, mapping []int16, sentFeats []int32) error {
	for i := range otherSent {
		if otherSent[i].Num == -1 || i >= len(mapping) {
			continue
		}

		targetPos := int(mapping[i])
		if targetPos < 0 || targetPos >= len(targetSent) || targetSent[targetPos].Num == -1 {
			continue
		}

		feats := lv.combineFeats(state, lv.dict.GetSubwords(otherSent[i].Num), sentFeats)

		update := func(pos int) error {
			return lv.model.Update(feats, loss.WordSlice(targetSent), pos, lr, state)
		}

		if err := update(targetPos); err != nil {
			return err
		}
		if err := callOnAllSiblings(targetSent, targetPos, update); err != nil {
			return err
		}
		if err := callOnChildren(targetSent, targetPos, update); err != nil {
			return err
		}
		if err := callOnHeads(targetSent, targetPos, update); err != nil {
			return err
		}
	}

	return nil
}

// callOnChildren visits every dependent of the head, skipping modifiers.
func callOnChildren(words []sent.CompactWord, headPos int, fn func(pos int) error) error {
	head := &words[headPos]
	if head.FirstChildOffs() == 0 {
		return nil
	}

	childPos := headPos + head.FirstChildOffs()
	for childPos >= 0 && childPos < len(words) {
		child := &words[childPos]

		if !sent.IsModifier(child) && child.Num != -1 {
			if err := fn(childPos); err != nil {
				return err
			}
		}

		if child.NextSiblingOffs() == 0 {
			break
		}
		childPos += child.NextSiblingOffs()
	}

	return nil
}

// callOnAllSiblings visits every sibling of the word, skipping modifiers
// and the word itself.
func callOnAllSiblings(words []sent.CompactWord, wordPos int, fn func(pos int) error) error {
	// Rewind to the leftmost sibling.
	pos := wordPos
	for words[pos].PrevSiblingOffs() != 0 {
		next := pos + words[pos].PrevSiblingOffs()
		if next < 0 || next >= len(words) {
			break
		}
		pos = next
	}

	for pos >= 0 && pos < len(words) {
		sibl := &words[pos]

		if !sent.IsModifier(sibl) && pos != wordPos && sibl.Num != -1 {
			if err := fn(pos); err != nil {
				return err
			}
		}

		if sibl.NextSiblingOffs() == 0 {
			break
		}
		pos += sibl.NextSiblingOffs()
	}

	return nil
}

// callOnHeads walks ancestors toward the root, stopping after clausal or
// modifier attachments.
func callOnHeads(words []sent.CompactWord, wordPos int, fn func(pos int) error) error {
	pos := wordPos
	for hops := 0; hops < len(words); hops++ {
		word := &words[pos]
		parentPos := pos + word.ParentOffs()
		if parentPos < 0 || parentPos >= len(words) {
			break
		}
		parent := &words[parentPos]
		if parent.Num != -1 && parentPos != pos {
			if err := fn(parentPos); err != nil {
				return err
			}
		}

		if parent.ParentOffs() == 0 || sent.IsClausal(word) || sent.IsModifier(word) {
			break
		}
		pos = parentPos
	}

	return nil
}
