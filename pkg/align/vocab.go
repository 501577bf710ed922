package align

import (
	"github.com/MrWong99/transcriptalign/pkg/align/phonetic"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// vocab interns the token stream's words so the LCS inner loop compares
// integers instead of strings.
type vocab struct {
	ids    map[string]int32
	words  []string
	codes  []phonetic.Codes
	byCode map[string][]int32

	matcher *phonetic.Matcher

	// terms caches segment-word lookups for one Align call. Only the
	// sequential segment loop touches it.
	terms map[string]term
}

// term is a segment word resolved against the vocabulary: the id of the
// identical token word (-1 when the stream never contains it) plus the ids of
// sound-alike token words.
type term struct {
	id   int32
	alts []int32
}

func (t term) matches(tok int32) bool {
	if tok == t.id {
		return true
	}
	for _, a := range t.alts {
		if a == tok {
			return true
		}
	}
	return false
}

// newVocab interns toks and returns the stream as word ids. m may be nil to
// disable phonetic equivalence.
func newVocab(toks []types.Token, m *phonetic.Matcher) (*vocab, []int32) {
	v := &vocab{
		ids:     make(map[string]int32),
		matcher: m,
		terms:   make(map[string]term),
	}
	stream := make([]int32, len(toks))
	for i, t := range toks {
		id, ok := v.ids[t.Word]
		if !ok {
			id = int32(len(v.words))
			v.ids[t.Word] = id
			v.words = append(v.words, t.Word)
		}
		stream[i] = id
	}

	if m != nil {
		v.codes = make([]phonetic.Codes, len(v.words))
		v.byCode = make(map[string][]int32)
		for id, w := range v.words {
			c := m.Codes(w)
			v.codes[id] = c
			if c.Primary != "" {
				v.byCode[c.Primary] = append(v.byCode[c.Primary], int32(id))
			}
			if c.Secondary != "" {
				v.byCode[c.Secondary] = append(v.byCode[c.Secondary], int32(id))
			}
		}
	}
	return v, stream
}

// lookup resolves a normalized segment word.
func (v *vocab) lookup(word string) term {
	if t, ok := v.terms[word]; ok {
		return t
	}
	t := term{id: -1}
	if id, ok := v.ids[word]; ok {
		t.id = id
	}
	if v.matcher != nil {
		wc := v.matcher.Codes(word)
		seen := make(map[int32]struct{})
		for _, code := range [2]string{wc.Primary, wc.Secondary} {
			if code == "" {
				continue
			}
			for _, id := range v.byCode[code] {
				if id == t.id {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				if v.matcher.EquivalentCodes(word, wc, v.words[id], v.codes[id]) {
					t.alts = append(t.alts, id)
				}
			}
		}
	}
	v.terms[word] = t
	return t
}

func (v *vocab) lookupAll(words []string) []term {
	out := make([]term, len(words))
	for i, w := range words {
		out[i] = v.lookup(w)
	}
	return out
}
