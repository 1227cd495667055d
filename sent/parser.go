package sent

import (
	"bytes"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
)

// ParseError describes a malformed corpus record. Snippet carries the
// offending JSON context for user-visible messages.
type ParseError struct {
	Msg     string
	Snippet string
	cause   error
}

func (e *ParseError) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("parse line: %s (near %q)", e.Msg, e.Snippet)
	}

	return fmt.Sprintf("parse line: %s", e.Msg)
}

func (e *ParseError) Unwrap() error { return e.cause }

// Resolver maps token and concept surfaces to vocabulary ids (-1 when
// absent). The compact parsing mode stores only resolved ids.
type Resolver interface {
	ResolveToken(id string, posTag uint8) int32
	ResolveConcept(s string) int32
}

// sink receives parse events. The rich and compact modes implement it over
// the same state machine.
type sink interface {
	beginLine()
	beginSent(target bool)
	beginWord()
	beginPhrase()
	setSurface(s string)
	setID(s string)
	setPosTag(u uint32)
	setParentOffs(i int)
	setSyntRel(u uint32)
	componentsBegin() error
	addComponent(i int) error
	endWord() error
	addConcept(s string) error
	setOrigin(s string)
	addWordsMapping(i int)
	addPhrasesMapping(i int)
}

type parseState int

const (
	sLineBegin parseState = iota
	sLineKey
	sSentBegin
	sSentKey
	sWordsBegin
	sWordElem
	sPhrasesBegin
	sPhraseElem
	sWordKey
	sWordVal
	sComponentsBegin
	sComponentElem
	sConceptsBegin
	sConceptElem
	sOriginVal
	sWordsMappingBegin
	sWordsMappingElem
	sPhrasesMappingBegin
	sPhrasesMappingElem
	sOtherArrBegin
	sOtherElem
	sDone
)

// parser drives the tagged-state machine over a JSON token stream. One word
// or phrase is active at a time; inPhrase selects which array the finished
// object belongs to.
type parser struct {
	dec *gojson.Decoder

	state    parseState
	target   bool
	inPhrase bool
	wordKey  string

	sink sink
}

const snippetLen = 48

func snippet(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) > snippetLen {
		data = data[:snippetLen]
	}

	return string(data)
}

func parse(data []byte, s sink) error {
	p := &parser{
		dec:   gojson.NewDecoder(bytes.NewReader(data)),
		state: sLineBegin,
		sink:  s,
	}

	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ParseError{Msg: err.Error(), Snippet: snippet(data), cause: err}
		}
		if err := p.handle(tok); err != nil {
			var pe *ParseError
			if ok := asParseError(err, &pe); ok && pe.Snippet == "" {
				pe.Snippet = snippet(data)
			}

			return err
		}
	}

	if p.state != sDone {
		return &ParseError{Msg: "truncated record", Snippet: snippet(data)}
	}

	return nil
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}

	return ok
}

func (p *parser) errf(format string, args ...any) error {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

func delimIs(tok gojson.Token, d rune) bool {
	delim, ok := tok.(gojson.Delim)

	return ok && rune(delim) == d
}

func (p *parser) handle(tok gojson.Token) error {
	switch p.state {
	case sLineBegin:
		if !delimIs(tok, '{') {
			return p.errf("expected line object")
		}
		p.sink.beginLine()
		p.state = sLineKey

	case sLineKey:
		if delimIs(tok, '}') {
			p.state = sDone

			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return p.errf("expected line object key")
		}
		switch key {
		case "target":
			p.target = true
			p.state = sSentBegin
		case "other_langs":
			p.target = false
			p.state = sOtherArrBegin
		default:
			return p.errf("unknown line obj key: %s", key)
		}

	case sSentBegin:
		if !delimIs(tok, '{') {
			return p.errf("expected sentence object")
		}
		p.sink.beginSent(p.target)
		p.state = sSentKey

	case sSentKey:
		if delimIs(tok, '}') {
			if p.target {
				p.state = sLineKey
			} else {
				p.state = sOtherElem
			}

			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return p.errf("expected sentence object key")
		}
		switch key {
		case "words":
			p.state = sWordsBegin
		case "phrases":
			p.state = sPhrasesBegin
		case "concepts":
			p.state = sConceptsBegin
		case "origin":
			p.state = sOriginVal
		case "words_mapping":
			p.state = sWordsMappingBegin
		case "phrases_mapping":
			p.state = sPhrasesMappingBegin
		default:
			return p.errf("unknown sent obj key: %s", key)
		}

	case sWordsBegin:
		if !delimIs(tok, '[') {
			return p.errf("expected words array")
		}
		p.state = sWordElem

	case sWordElem:
		if delimIs(tok, ']') {
			p.state = sSentKey

			return nil
		}
		if !delimIs(tok, '{') {
			return p.errf("expected word object")
		}
		p.inPhrase = false
		p.sink.beginWord()
		p.state = sWordKey

	case sPhrasesBegin:
		if !delimIs(tok, '[') {
			return p.errf("expected phrases array")
		}
		p.state = sPhraseElem

	case sPhraseElem:
		if delimIs(tok, ']') {
			p.state = sSentKey

			return nil
		}
		if !delimIs(tok, '{') {
			return p.errf("expected phrase object")
		}
		p.inPhrase = true
		p.sink.beginPhrase()
		p.state = sWordKey

	case sWordKey:
		if delimIs(tok, '}') {
			if err := p.sink.endWord(); err != nil {
				return err
			}
			if p.inPhrase {
				p.state = sPhraseElem
			} else {
				p.state = sWordElem
			}

			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return p.errf("expected word object key")
		}
		switch key {
		case "w", "i", "p", "l", "n":
			p.wordKey = key
			p.state = sWordVal
		case "C":
			if !p.inPhrase {
				return p.errf("component list on non-phrase token")
			}
			p.state = sComponentsBegin
		default:
			return p.errf("unknown word obj key: %s", key)
		}

	case sWordVal:
		switch p.wordKey {
		case "w":
			s, ok := tok.(string)
			if !ok {
				return p.errf("word surface must be a string")
			}
			p.sink.setSurface(s)
		case "i":
			s, ok := tok.(string)
			if !ok {
				return p.errf("word id must be a string")
			}
			p.sink.setID(s)
		case "p":
			u, err := tokUint(tok)
			if err != nil {
				return p.errf("pos tag: %v", err)
			}
			p.sink.setPosTag(u)
		case "l":
			i, err := tokInt(tok)
			if err != nil {
				return p.errf("parent offset: %v", err)
			}
			p.sink.setParentOffs(i)
		case "n":
			u, err := tokUint(tok)
			if err != nil {
				return p.errf("syntactic relation: %v", err)
			}
			p.sink.setSyntRel(u)
		}
		p.state = sWordKey

	case sComponentsBegin:
		if !delimIs(tok, '[') {
			return p.errf("expected component array")
		}
		if err := p.sink.componentsBegin(); err != nil {
			return err
		}
		p.state = sComponentElem

	case sComponentElem:
		if delimIs(tok, ']') {
			p.state = sWordKey

			return nil
		}
		i, err := tokInt(tok)
		if err != nil {
			return p.errf("component: %v", err)
		}
		if err := p.sink.addComponent(i); err != nil {
			return err
		}

	case sConceptsBegin:
		if !delimIs(tok, '[') {
			return p.errf("expected concepts array")
		}
		p.state = sConceptElem

	case sConceptElem:
		if delimIs(tok, ']') {
			p.state = sSentKey

			return nil
		}
		s, ok := tok.(string)
		if !ok {
			return p.errf("concept must be a string")
		}
		if err := p.sink.addConcept(s); err != nil {
			return err
		}

	case sOriginVal:
		if s, ok := tok.(string); ok {
			p.sink.setOrigin(s)
		}
		p.state = sSentKey

	case sWordsMappingBegin:
		if !delimIs(tok, '[') {
			return p.errf("expected words_mapping array")
		}
		p.state = sWordsMappingElem

	case sWordsMappingElem:
		if delimIs(tok, ']') {
			p.state = sSentKey

			return nil
		}
		i, err := tokInt(tok)
		if err != nil {
			return p.errf("words_mapping: %v", err)
		}
		p.sink.addWordsMapping(i)

	case sPhrasesMappingBegin:
		if !delimIs(tok, '[') {
			return p.errf("expected phrases_mapping array")
		}
		p.state = sPhrasesMappingElem

	case sPhrasesMappingElem:
		if delimIs(tok, ']') {
			p.state = sSentKey

			return nil
		}
		i, err := tokInt(tok)
		if err != nil {
			return p.errf("phrases_mapping: %v", err)
		}
		p.sink.addPhrasesMapping(i)

	case sOtherArrBegin:
		if !delimIs(tok, '[') {
			return p.errf("expected other_langs array")
		}
		p.state = sOtherElem

	case sOtherElem:
		if delimIs(tok, ']') {
			p.state = sLineKey

			return nil
		}
		if !delimIs(tok, '{') {
			return p.errf("expected other-language sentence object")
		}
		p.sink.beginSent(false)
		p.state = sSentKey

	case sDone:
		return p.errf("trailing content after record")
	}

	return nil
}

func tokInt(tok gojson.Token) (int, error) {
	f, ok := tok.(float64)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", tok)
	}

	return int(f), nil
}

func tokUint(tok gojson.Token) (uint32, error) {
	f, ok := tok.(float64)
	if !ok || f < 0 {
		return 0, fmt.Errorf("expected non-negative number, got %v", tok)
	}

	return uint32(f), nil
}

// richSink builds a Line keeping surfaces as owned strings.
type richSink struct {
	line *Line
	sent *Sent

	word   *Word
	phrase *Phrase
}

func (r *richSink) current() *Word {
	if r.word != nil {
		return r.word
	}

	return &r.phrase.Word
}

func (r *richSink) beginLine() { r.line.Reset() }

func (r *richSink) beginSent(target bool) {
	if target {
		r.sent = &r.line.Target
	} else {
		r.line.OtherLangs = append(r.line.OtherLangs, Sent{})
		r.sent = &r.line.OtherLangs[len(r.line.OtherLangs)-1]
	}
}

func (r *richSink) beginWord() {
	r.sent.Words = append(r.sent.Words, Word{})
	r.word = &r.sent.Words[len(r.sent.Words)-1]
	r.phrase = nil
}

func (r *richSink) beginPhrase() {
	r.sent.Phrases = append(r.sent.Phrases, Phrase{})
	r.phrase = &r.sent.Phrases[len(r.sent.Phrases)-1]
	r.word = nil
}

func (r *richSink) setSurface(s string) {
	w := r.current()
	w.Str = s
	if w.ID == "" {
		w.ID = s
	}
}

func (r *richSink) setID(s string)       { r.current().ID = s }
func (r *richSink) setPosTag(u uint32)   { r.current().PosTag = uint8(u) }
func (r *richSink) setParentOffs(i int)  { r.current().ParentOffs = int16(i) }
func (r *richSink) setSyntRel(u uint32)  { r.current().SyntRel = uint8(ClipSyntRel(u)) }

func (r *richSink) componentsBegin() error {
	for i := range r.phrase.Components {
		r.phrase.Components[i] = -1
	}
	r.phrase.Size = 0

	return nil
}

func (r *richSink) addComponent(i int) error {
	if int(r.phrase.Size) >= MaxPhraseSize {
		return &ParseError{Msg: fmt.Sprintf("phrase has more than %d components", MaxPhraseSize)}
	}
	r.phrase.Components[r.phrase.Size] = int16(i)
	r.phrase.Size++

	return nil
}

func (r *richSink) endWord() error {
	if r.current().ID == "" {
		return &ParseError{Msg: "token without surface"}
	}
	r.word = nil
	r.phrase = nil

	return nil
}

func (r *richSink) addConcept(s string) error {
	r.sent.Concepts = append(r.sent.Concepts, s)

	return nil
}

func (r *richSink) setOrigin(s string)      { r.sent.Origin = s }
func (r *richSink) addWordsMapping(i int)   { r.sent.WordsMapping = append(r.sent.WordsMapping, int16(i)) }
func (r *richSink) addPhrasesMapping(i int) { r.sent.PhrasesMapping = append(r.sent.PhrasesMapping, int16(i)) }

// ParseLine parses one JSON corpus record into line.
func ParseLine(data []byte, line *Line) error {
	return parse(data, &richSink{line: line})
}

// compactSink builds a CompactLine, resolving ids through the callback and
// packing tree links with saturation.
type compactSink struct {
	line     *CompactLine
	resolver Resolver

	sent   *CompactSent
	other  *OtherCompactSent
	word   *CompactWord
	phrase bool

	curID  string
	curPos uint32
}

func (c *compactSink) beginLine() { c.line.Reset() }

func (c *compactSink) beginSent(target bool) {
	if target {
		c.sent = &c.line.Target
		c.other = nil
	} else {
		c.line.OtherLangs = append(c.line.OtherLangs, OtherCompactSent{})
		c.other = &c.line.OtherLangs[len(c.line.OtherLangs)-1]
		c.sent = &c.other.CompactSent
	}
}

func (c *compactSink) begin(phrase bool) {
	if phrase {
		c.sent.Phrases = append(c.sent.Phrases, CompactWord{})
		c.word = &c.sent.Phrases[len(c.sent.Phrases)-1]
	} else {
		c.sent.Words = append(c.sent.Words, CompactWord{})
		c.word = &c.sent.Words[len(c.sent.Words)-1]
	}
	c.phrase = phrase
	c.curID = ""
	c.curPos = 0
}

func (c *compactSink) beginWord()   { c.begin(false) }
func (c *compactSink) beginPhrase() { c.begin(true) }

func (c *compactSink) setSurface(s string) {
	if c.curID == "" {
		c.curID = s
	}
}

func (c *compactSink) setID(s string)     { c.curID = s }
func (c *compactSink) setPosTag(u uint32) { c.curPos = u }
func (c *compactSink) setParentOffs(i int) {
	c.word.SetParentOffs(i)
}
func (c *compactSink) setSyntRel(u uint32) { c.word.SetSyntRel(u) }

func (c *compactSink) componentsBegin() error {
	c.word.SetIsPhrase(true)

	return nil
}

func (c *compactSink) addComponent(int) error { return nil }

func (c *compactSink) endWord() error {
	if c.curID == "" {
		return &ParseError{Msg: "token without surface"}
	}

	pos := uint8(c.curPos)
	if c.phrase {
		// Phrases are registered in the vocabulary without a POS tag.
		pos = 0
	}
	c.word.Num = c.resolver.ResolveToken(c.curID, pos)

	return nil
}

func (c *compactSink) addConcept(s string) error {
	if num := c.resolver.ResolveConcept(s); num >= 0 {
		c.sent.Concepts = append(c.sent.Concepts, num)
	}

	return nil
}

func (c *compactSink) setOrigin(string) {}

func (c *compactSink) addWordsMapping(i int) {
	if c.other != nil {
		c.other.MappingToTargetWords = append(c.other.MappingToTargetWords, int16(i))
	}
}

func (c *compactSink) addPhrasesMapping(i int) {
	if c.other != nil {
		c.other.MappingToTargetPhrases = append(c.other.MappingToTargetPhrases, int16(i))
	}
}

// ParseCompactLine parses one JSON corpus record into line, resolving token
// ids through resolver.
func ParseCompactLine(data []byte, resolver Resolver, line *CompactLine) error {
	return parse(data, &compactSink{line: line, resolver: resolver})
}
