package textnorm

import "strings"

// irregularContractions maps whole contracted tokens whose expansion cannot be
// derived from the suffix rules.
var irregularContractions = map[string][]string{
	"won't":   {"will", "not"},
	"can't":   {"can", "not"},
	"cannot":  {"can", "not"},
	"shan't":  {"shall", "not"},
	"ain't":   {"is", "not"},
	"let's":   {"let", "us"},
	"it's":    {"it", "is"},
	"that's":  {"that", "is"},
	"what's":  {"what", "is"},
	"where's": {"where", "is"},
	"who's":   {"who", "is"},
	"there's": {"there", "is"},
	"here's":  {"here", "is"},
	"he's":    {"he", "is"},
	"she's":   {"she", "is"},
	"how's":   {"how", "is"},
	"y'all":   {"you", "all"},
	"o'clock": {"oclock"},
	"ma'am":   {"madam"},
}

// contractionSuffixes are tried in order; the first matching suffix wins.
var contractionSuffixes = []struct {
	suffix    string
	expansion string
}{
	{"n't", "not"},
	{"'re", "are"},
	{"'ve", "have"},
	{"'ll", "will"},
	{"'d", "would"},
	{"'m", "am"},
}

// ExpandContraction expands a single folded token. Possessive "'s" is
// dropped ("john's" → "johns") and any remaining apostrophes are removed, so
// the result never contains an apostrophe.
func ExpandContraction(tok string) []string {
	if exp, ok := irregularContractions[tok]; ok {
		return exp
	}
	for _, c := range contractionSuffixes {
		if stem, ok := strings.CutSuffix(tok, c.suffix); ok && stem != "" {
			return []string{strings.ReplaceAll(stem, "'", ""), c.expansion}
		}
	}
	if !strings.Contains(tok, "'") {
		return []string{tok}
	}
	return []string{strings.ReplaceAll(tok, "'", "")}
}

// stopWords are excluded from anchor n-grams. They still take part in
// alignment.
var stopWords = toSet(
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and",
	"any", "are", "as", "at", "be", "because", "been", "before", "being", "below",
	"between", "both", "but", "by", "can", "could", "did", "do", "does", "doing",
	"down", "during", "each", "few", "for", "from", "further", "had", "has", "have",
	"having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
	"i", "if", "in", "into", "is", "it", "its", "itself", "just", "me", "more",
	"most", "my", "myself", "no", "nor", "not", "now", "of", "off", "on", "once",
	"only", "or", "other", "our", "ours", "ourselves", "out", "over", "own", "said",
	"same", "she", "should", "so", "some", "such", "than", "that", "the", "their",
	"theirs", "them", "themselves", "then", "there", "these", "they", "this",
	"those", "through", "to", "too", "under", "until", "up", "us", "very", "was",
	"we", "were", "what", "when", "where", "which", "while", "who", "whom", "why",
	"will", "with", "would", "you", "your", "yours", "yourself", "yourselves",
)

// headingKeywords open a section heading when spoken first.
var headingKeywords = toSet(
	"chapter", "prologue", "epilogue", "preface", "introduction", "foreword",
	"prelude", "contents",
)

// chapterKeywords may precede a chapter number in a label.
var chapterKeywords = []string{"chapter", "chapt", "chap", "chpt", "ch"}

// IsStopWord reports whether tok is a common function word.
func IsStopWord(tok string) bool {
	_, ok := stopWords[tok]
	return ok
}

// IsHeadingKeyword reports whether tok is a section heading keyword.
func IsHeadingKeyword(tok string) bool {
	_, ok := headingKeywords[tok]
	return ok
}

// IsChapterKeyword reports whether tok is a chapter keyword or one of its
// abbreviations.
func IsChapterKeyword(tok string) bool {
	for _, k := range chapterKeywords {
		if tok == k {
			return true
		}
	}
	return false
}

// CutChapterPrefix splits a token such as "ch5" or "chapter05" into its
// chapter keyword and the remainder. ok is false when tok does not start with
// a chapter keyword or nothing follows it.
func CutChapterPrefix(tok string) (rest string, ok bool) {
	for _, k := range chapterKeywords {
		if r, found := strings.CutPrefix(tok, k); found && r != "" {
			return r, true
		}
	}
	return "", false
}

func toSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}
