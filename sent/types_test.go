package sent

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsToBits(t *testing.T) {
	assert.Equal(t, 5, OffsToBits(5))
	assert.Equal(t, -5, OffsToBits(-5))
	assert.Equal(t, 31, OffsToBits(31))
	assert.Equal(t, -31, OffsToBits(-31))

	// Out-of-range offsets saturate to "no neighbour".
	assert.Equal(t, 0, OffsToBits(32))
	assert.Equal(t, 0, OffsToBits(-32))
	assert.Equal(t, 0, OffsToBits(200))
	assert.Equal(t, 0, OffsToBits(-200))
}

func TestCompactWordPacking(t *testing.T) {
	var w CompactWord

	w.SetIsPhrase(true)
	w.SetSyntRel(7)
	w.SetParentOffs(-3)
	w.SetFirstChildOffs(12)
	w.SetPrevSiblingOffs(-1)
	w.SetNextSiblingOffs(31)

	assert.True(t, w.IsPhrase())
	assert.Equal(t, uint32(7), w.SyntRel())
	assert.Equal(t, -3, w.ParentOffs())
	assert.Equal(t, 12, w.FirstChildOffs())
	assert.Equal(t, -1, w.PrevSiblingOffs())
	assert.Equal(t, 31, w.NextSiblingOffs())

	// Fields are independent.
	w.SetParentOffs(4)
	assert.Equal(t, 4, w.ParentOffs())
	assert.Equal(t, 12, w.FirstChildOffs())
	assert.True(t, w.IsPhrase())

	// Relation values beyond the enum width clip to 31.
	w.SetSyntRel(40)
	assert.Equal(t, uint32(31), w.SyntRel())
}

// buildWords creates a token array from parent offsets.
func buildWords(parentOffs ...int) []CompactWord {
	words := make([]CompactWord, len(parentOffs))
	for i, p := range parentOffs {
		words[i].SetParentOffs(p)
		words[i].Num = int32(i)
	}

	return words
}

func TestMakeAuxOffs(t *testing.T) {
	// the(2) quick(1) fox(0) jumps(-1): head is fox at position 2.
	words := buildWords(2, 1, 0, -1)
	MakeAuxOffs(words)

	head := &words[2]
	require.NotZero(t, head.FirstChildOffs())
	assert.Equal(t, -2, head.FirstChildOffs()) // leftmost dependent is position 0

	// Siblings chain in sentence order: 0 -> 1 -> 3.
	assert.Equal(t, 1, words[0].NextSiblingOffs())
	assert.Equal(t, -1, words[1].PrevSiblingOffs())
	assert.Equal(t, 2, words[1].NextSiblingOffs())
	assert.Equal(t, -2, words[3].PrevSiblingOffs())
	assert.Equal(t, 0, words[3].NextSiblingOffs())
}

func TestMakeAuxOffsRoundTrip(t *testing.T) {
	words := buildWords(3, 2, 1, 0, -1, -2)
	MakeAuxOffs(words)

	for i := range words {
		p := words[i].ParentOffs()
		if p == 0 {
			continue
		}
		head := &words[i+p]
		require.NotZero(t, head.FirstChildOffs(), "head of %d has no first child", i)

		// Walking the sibling chain from the first child reaches i.
		pos := (i + p) + head.FirstChildOffs()
		found := false
		for {
			if pos == i {
				found = true

				break
			}
			if words[pos].NextSiblingOffs() == 0 {
				break
			}
			pos += words[pos].NextSiblingOffs()
		}
		assert.True(t, found, "sibling chain misses %d", i)
	}
}

func TestFillOtherMappingRandomly(t *testing.T) {
	line := &CompactLine{}
	line.Target.Words = buildWords(0, -1, -2, -3)
	line.OtherLangs = append(line.OtherLangs, OtherCompactSent{})
	line.OtherLangs[0].Words = buildWords(0, -1)

	rng := rand.New(rand.NewSource(42))
	FillOtherMappingRandomly(line, rng)

	mapping := line.OtherLangs[0].MappingToTargetWords
	require.Len(t, mapping, 2)
	assert.NotEqual(t, mapping[0], mapping[1])
	for _, m := range mapping {
		assert.GreaterOrEqual(t, m, int16(0))
		assert.Less(t, m, int16(4))
	}

	// Longer other sentences pad with -1.
	line.OtherLangs[0].Words = buildWords(0, -1, -2, -3, -4, -5)
	FillOtherMappingRandomly(line, rng)
	mapping = line.OtherLangs[0].MappingToTargetWords
	require.Len(t, mapping, 6)
	assert.Equal(t, int16(-1), mapping[4])
	assert.Equal(t, int16(-1), mapping[5])
}

func TestContains(t *testing.T) {
	words := buildWords(0, -1)
	words[0].Num = 7
	words[1].Num = -1

	assert.True(t, Contains(words, 7))
	assert.False(t, Contains(words, 8))
	assert.True(t, Contains(words, -1))
}
