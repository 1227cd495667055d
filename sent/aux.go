package sent

import "math/rand"

func computeOffs(headPos, depPos int) int {
	return OffsToBits(headPos - depPos)
}

// MakeAuxOffs derives first-child, prev-sibling and next-sibling offsets
// from the parent offsets of one token array. Siblings are linked in
// sentence order.
func MakeAuxOffs(words []CompactWord) {
	for i := range words {
		head := &words[i]
		prevSiblingPos := -1

		for j := range words {
			mod := &words[j]
			if i == j || j+mod.ParentOffs() != i {
				continue
			}
			if head.FirstChildOffs() == 0 {
				head.SetFirstChildOffs(computeOffs(j, i))
			}
			if prevSiblingPos != -1 {
				mod.SetPrevSiblingOffs(computeOffs(prevSiblingPos, j))
				words[prevSiblingPos].SetNextSiblingOffs(computeOffs(j, prevSiblingPos))
			}
			prevSiblingPos = j
		}
	}
}

// MakeAuxOffsLine derives auxiliary offsets for every sentence of the line.
func MakeAuxOffsLine(line *CompactLine) {
	MakeAuxOffs(line.Target.Words)
	MakeAuxOffs(line.Target.Phrases)

	for i := range line.OtherLangs {
		MakeAuxOffs(line.OtherLangs[i].Words)
		MakeAuxOffs(line.OtherLangs[i].Phrases)
	}
}

// FillOtherMappingRandomly assigns a random one-to-one alignment between
// each other-language sentence and the target, used when the corpus carries
// no explicit word mapping.
func FillOtherMappingRandomly(line *CompactLine, rng *rand.Rand) {
	for i := range line.OtherLangs {
		os := &line.OtherLangs[i]

		n := min(len(os.Words), len(line.Target.Words))
		perm := rng.Perm(n)

		os.MappingToTargetWords = os.MappingToTargetWords[:0]
		for j := range os.Words {
			if j < n {
				os.MappingToTargetWords = append(os.MappingToTargetWords, int16(perm[j]))
			} else {
				os.MappingToTargetWords = append(os.MappingToTargetWords, -1)
			}
		}
	}
}
