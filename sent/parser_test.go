package sent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecord = `{
  "target": {
    "words": [
      {"w": "the", "p": 4, "l": 2, "n": 20},
      {"w": "quick", "p": 3, "l": 1, "n": 5},
      {"w": "fox", "i": "fox#n", "p": 2, "l": 0, "n": 0}
    ],
    "phrases": [
      {"w": "quick fox", "i": "quick_fox", "p": 2, "l": 0, "n": 0, "C": [1, 2]}
    ],
    "concepts": ["Q1265"]
  },
  "other_langs": [
    {
      "words": [
        {"w": "rapide", "p": 3, "l": 1, "n": 5},
        {"w": "renard", "p": 2, "l": 0, "n": 0}
      ],
      "origin": "fr",
      "words_mapping": [1, 2]
    }
  ]
}`

func TestParseLineRich(t *testing.T) {
	var line Line
	require.NoError(t, ParseLine([]byte(sampleRecord), &line))

	require.Len(t, line.Target.Words, 3)
	assert.Equal(t, "the", line.Target.Words[0].Str)
	assert.Equal(t, "the", line.Target.Words[0].ID)
	assert.Equal(t, uint8(4), line.Target.Words[0].PosTag)
	assert.Equal(t, int16(2), line.Target.Words[0].ParentOffs)
	assert.Equal(t, uint8(20), line.Target.Words[0].SyntRel)

	assert.Equal(t, "fox#n", line.Target.Words[2].ID)
	assert.Equal(t, "fox", line.Target.Words[2].Str)

	require.Len(t, line.Target.Phrases, 1)
	phrase := &line.Target.Phrases[0]
	assert.Equal(t, "quick_fox", phrase.ID)
	assert.Equal(t, uint8(2), phrase.Size)
	assert.Equal(t, int16(1), phrase.Components[0])
	assert.Equal(t, int16(2), phrase.Components[1])

	assert.Equal(t, []string{"Q1265"}, line.Target.Concepts)

	require.Len(t, line.OtherLangs, 1)
	other := &line.OtherLangs[0]
	require.Len(t, other.Words, 2)
	assert.Equal(t, "fr", other.Origin)
	assert.Equal(t, []int16{1, 2}, other.WordsMapping)
}

func TestParseLineReuseResets(t *testing.T) {
	var line Line
	require.NoError(t, ParseLine([]byte(sampleRecord), &line))
	require.NoError(t, ParseLine([]byte(`{"target":{"words":[{"w":"x","p":1}]}}`), &line))

	assert.Len(t, line.Target.Words, 1)
	assert.Empty(t, line.Target.Phrases)
	assert.Empty(t, line.OtherLangs)
}

func TestParseLineUnknownKeys(t *testing.T) {
	var line Line

	err := ParseLine([]byte(`{"target":{"words":[{"w":"a","p":1,"x":3}]}}`), &line)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown word obj key: x")

	err = ParseLine([]byte(`{"target":{"wordz":[]}}`), &line)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sent obj key: wordz")

	err = ParseLine([]byte(`{"tgt":{}}`), &line)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown line obj key: tgt")
}

func TestParseLineMalformed(t *testing.T) {
	var line Line

	err := ParseLine([]byte(`{"target": {`), &line)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, pe.Snippet)
}

type mapResolver map[string]int32

func (m mapResolver) ResolveToken(id string, posTag uint8) int32 {
	if num, ok := m[id]; ok {
		return num
	}

	return -1
}

func (m mapResolver) ResolveConcept(s string) int32 {
	if num, ok := m["concept:"+s]; ok {
		return num
	}

	return -1
}

func TestParseCompactLine(t *testing.T) {
	resolver := mapResolver{
		"the": 0, "quick": 1, "fox#n": 2, "quick_fox": 3,
		"rapide": 4, "renard": 5,
		"concept:Q1265": 6,
	}

	var line CompactLine
	require.NoError(t, ParseCompactLine([]byte(sampleRecord), resolver, &line))

	require.Len(t, line.Target.Words, 3)
	assert.Equal(t, int32(0), line.Target.Words[0].Num)
	assert.Equal(t, int32(1), line.Target.Words[1].Num)
	assert.Equal(t, int32(2), line.Target.Words[2].Num)
	assert.Equal(t, 2, line.Target.Words[0].ParentOffs())
	assert.Equal(t, uint32(20), line.Target.Words[0].SyntRel())

	require.Len(t, line.Target.Phrases, 1)
	assert.True(t, line.Target.Phrases[0].IsPhrase())
	assert.Equal(t, int32(3), line.Target.Phrases[0].Num)

	assert.Equal(t, []int32{6}, line.Target.Concepts)

	require.Len(t, line.OtherLangs, 1)
	assert.Equal(t, []int16{1, 2}, line.OtherLangs[0].MappingToTargetWords)
	assert.Equal(t, int32(4), line.OtherLangs[0].Words[0].Num)
}

func TestParseCompactLineClipping(t *testing.T) {
	record := `{"target":{"words":[{"w":"a","p":1,"l":200,"n":40}]}}`

	var line CompactLine
	require.NoError(t, ParseCompactLine([]byte(record), mapResolver{"a": 0}, &line))

	w := &line.Target.Words[0]
	assert.Equal(t, 0, w.ParentOffs(), "out-of-range parent offset saturates to 0")
	assert.Equal(t, uint32(31), w.SyntRel(), "relations >= 32 clip to 31")
}

func TestParseCompactLineOOV(t *testing.T) {
	record := `{"target":{"words":[{"w":"missing","p":1}]}}`

	var line CompactLine
	require.NoError(t, ParseCompactLine([]byte(record), mapResolver{}, &line))
	assert.Equal(t, int32(-1), line.Target.Words[0].Num)
}
