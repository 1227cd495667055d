package sent

// SyntRel enumerates Universal Dependencies v2 relations as they appear in
// the corpus `n` field.
type SyntRel uint32

const (
	Root SyntRel = iota
	Nsubj
	Obj
	Obl
	Advmod
	Amod
	Nmod
	Case
	Acl
	Advcl
	Appos
	Aux
	Cc
	Ccomp
	Clf
	Compound
	Conj
	Cop
	Csubj
	Dep
	Det
	Discourse
	Dislocated
	Expl
	Fixed
	Flat
	Goeswith
	Iobj
	List
	Mark
	Nummod
	Orphan
	Parataxis
	Punct
	Reparandum
	Vocative
	Xcomp
)

// IsModifier reports whether the word attaches through a modifier relation
// that syntactic context traversal skips.
func IsModifier(w *CompactWord) bool {
	switch SyntRel(w.SyntRel()) {
	case Amod, Advmod, Discourse:
		return true
	default:
		return false
	}
}

// IsClausal reports whether the word attaches through a clausal relation
// that stops ancestor traversal.
func IsClausal(w *CompactWord) bool {
	switch SyntRel(w.SyntRel()) {
	case Acl, Advcl:
		return true
	default:
		return false
	}
}
