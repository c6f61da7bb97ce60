package learning

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const minTokenLen = 3

var stopwords = toSet(strings.Fields(`
	a an the is are was were be been being have has had do does did will would
	shall should may might can could must of in to for on with at by from as into
	through during before after above below between out off over under again
	further then once here there when where why how all both each few more most
	other some such no nor not only own same so than too very and but or if
	about up its it he she they them their this that these those i me my we our
	you your yours his her hers what which who whom whose us him mine ours theirs
	get gets got make makes made go goes going went say says said see sees saw
	know knows take takes come comes want wants use uses let lets just also
	video videos channel channels
`))

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// TokenSet is a set of normalized keywords.
type TokenSet map[string]struct{}

// Tokenize lowercases text, splits on non-alphanumerics and drops stop words
// and tokens shorter than three characters.
func Tokenize(text string) TokenSet {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(TokenSet, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < minTokenLen {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// Keywords returns the sorted tokens of text.
func Keywords(text string) []string {
	return Tokenize(text).Sorted()
}

// Sorted returns the tokens in lexical order.
func (s TokenSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Union returns a new set holding the tokens of both sets.
func (s TokenSet) Union(other TokenSet) TokenSet {
	out := make(TokenSet, len(s)+len(other))
	for t := range s {
		out[t] = struct{}{}
	}
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|, or 0 when both sets are empty.
func Jaccard(a, b TokenSet) float64 {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Normalize lowercases text, removes punctuation and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
