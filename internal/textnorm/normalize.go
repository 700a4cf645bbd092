// Package textnorm implements the text normalization shared by every stage of
// the alignment engine.
//
// Manuscript words, ASR tokens, section titles and chapter labels all pass
// through the same steps before they are compared:
//
//  1. Unicode folding: NFKD decomposition with combining marks removed, so
//     "Café" and "cafe" compare equal, and typographic apostrophes collapse
//     to the ASCII apostrophe.
//  2. Lowercasing.
//  3. Tokenization into runs of letters, digits and inner apostrophes.
//  4. Optional contraction expansion ("don't" → "do not").
//
// Numbers are never stripped. [CollapseNumbers] can additionally rewrite
// number-like tokens into canonical decimal form for label matching.
//
// All functions are pure and safe for concurrent use. The lookup tables are
// built once at package initialisation and never mutated.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Version identifies the normalization scheme. It is recorded in artifact
// provenance; bump it whenever tokenization or the tables below change so
// that cached artifacts are regenerated.
const Version = "textnorm/1"

// apostrophes lists the characters folded to the ASCII apostrophe.
var apostrophes = strings.NewReplacer(
	"’", "'", // right single quotation mark
	"‘", "'", // left single quotation mark
	"ʼ", "'", // modifier letter apostrophe
	"`", "'", // grave accent
	"´", "'", // acute accent
)

// Fold lowercases s, strips combining marks after NFKD decomposition and
// normalizes apostrophe variants. Punctuation is preserved.
func Fold(s string) string {
	// transform.Chain keeps internal buffers, so a fresh chain per call keeps
	// Fold safe for concurrent use.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(apostrophes.Replace(folded))
}

// Tokenize folds s and splits it into word tokens. A token is a maximal run
// of letters, digits and apostrophes; leading and trailing apostrophes are
// trimmed and tokens left empty are dropped. Hyphens split tokens.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Normalize tokenizes s and expands contractions. It is the normalization
// used for alignment and diffing.
func Normalize(s string) []string {
	tokens := Tokenize(s)
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, ExpandContraction(t)...)
	}
	return out
}

// NormalizeText returns [Normalize] joined by single spaces.
func NormalizeText(s string) string {
	return strings.Join(Normalize(s), " ")
}

// Key returns the comparison key of a single manuscript word or ASR token:
// its normalized tokens joined by spaces. Punctuation-only input yields "".
func Key(word string) string {
	return NormalizeText(word)
}
