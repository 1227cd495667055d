package args

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewForCommand(t *testing.T) {
	a, err := NewForCommand("supervised")
	require.NoError(t, err)
	assert.Equal(t, ModelSupervised, a.Model)
	assert.Equal(t, LossSoftmax, a.Loss)
	assert.Equal(t, 0.1, a.LR)
	assert.Equal(t, 1, a.MinCount)

	a, err = NewForCommand("skipgram")
	require.NoError(t, err)
	assert.Equal(t, ModelSkipGram, a.Model)
	assert.Equal(t, LossNegativeSampling, a.Loss)

	a, err = NewForCommand("syntax_skipgram")
	require.NoError(t, err)
	assert.Equal(t, ModelSyntaxSkipGram, a.Model)

	_, err = NewForCommand("frobnicate")
	require.Error(t, err)
}

func TestParse(t *testing.T) {
	a, err := NewForCommand("skipgram")
	require.NoError(t, err)

	err = a.Parse("skipgram", []string{
		"-input", "corpus.jsonl",
		"-output", "model",
		"-dim", "64",
		"-lr", "0.1",
		"-ws", "3",
		"-loss", "hs",
		"-thread", "2",
		"-maxBpeVars", "5",
	})
	require.NoError(t, err)

	assert.Equal(t, "corpus.jsonl", a.Input)
	assert.Equal(t, "model", a.Output)
	assert.Equal(t, 64, a.Dim)
	assert.Equal(t, 0.1, a.LR)
	assert.Equal(t, 3, a.WS)
	assert.Equal(t, LossHierarchicalSoftmax, a.Loss)
	assert.Equal(t, 2, a.Thread)
	assert.Equal(t, 5, a.MaxBPEVars)
}

func TestParseUnknownLoss(t *testing.T) {
	a, err := NewForCommand("skipgram")
	require.NoError(t, err)

	err = a.Parse("skipgram", []string{"-output", "m", "-loss", "bogus"})
	require.Error(t, err)
}

func TestParseMissingOutput(t *testing.T) {
	a, err := NewForCommand("skipgram")
	require.NoError(t, err)

	err = a.Parse("skipgram", []string{"-input", "x"})
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a := New()
	a.Dim = 50
	a.WS = 7
	a.Epoch = 3
	a.MinCount = 2
	a.Neg = 10
	a.Loss = LossOneVsAll
	a.Model = ModelSyntaxSkipGram
	a.Bucket = 123456
	a.Minn = 2
	a.Maxn = 5
	a.LRUpdateRate = 50
	a.T = 1e-5
	a.MaxBPEVars = 4
	a.AddSentFeats = 3

	var buf bytes.Buffer
	require.NoError(t, a.Save(&buf))

	b := New()
	require.NoError(t, b.Load(bytes.NewReader(buf.Bytes())))

	assert.Equal(t, a.Dim, b.Dim)
	assert.Equal(t, a.WS, b.WS)
	assert.Equal(t, a.Epoch, b.Epoch)
	assert.Equal(t, a.MinCount, b.MinCount)
	assert.Equal(t, a.Neg, b.Neg)
	assert.Equal(t, a.Loss, b.Loss)
	assert.Equal(t, a.Model, b.Model)
	assert.Equal(t, a.Bucket, b.Bucket)
	assert.Equal(t, a.Minn, b.Minn)
	assert.Equal(t, a.Maxn, b.Maxn)
	assert.Equal(t, a.LRUpdateRate, b.LRUpdateRate)
	assert.Equal(t, a.T, b.T)
	assert.Equal(t, a.MaxBPEVars, b.MaxBPEVars)
	assert.Equal(t, a.AddSentFeats, b.AddSentFeats)
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	New().Dump(&buf)

	out := buf.String()
	assert.Contains(t, out, "dim 100")
	assert.Contains(t, out, "loss ns")
	assert.Contains(t, out, "model sg")
}

func TestLossNameRoundTrip(t *testing.T) {
	for _, name := range []string{"ns", "hs", "softmax"} {
		l, err := ParseLossName(name)
		require.NoError(t, err)
		assert.Equal(t, name, l.String())
	}

	l, err := ParseLossName("one-vs-all")
	require.NoError(t, err)
	assert.Equal(t, LossOneVsAll, l)
}
