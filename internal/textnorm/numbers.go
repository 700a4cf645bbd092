package textnorm

import (
	"strconv"
	"strings"
)

var unitWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
	"seventeen": 17, "eighteen": 18, "nineteen": 19,

	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6,
	"seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10, "eleventh": 11,
	"twelfth": 12, "thirteenth": 13, "fourteenth": 14, "fifteenth": 15,
	"sixteenth": 16, "seventeenth": 17, "eighteenth": 18, "nineteenth": 19,
}

var tensWords = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "sixty": 60,
	"seventy": 70, "eighty": 80, "ninety": 90,

	"twentieth": 20, "thirtieth": 30, "fortieth": 40, "fiftieth": 50,
	"sixtieth": 60, "seventieth": 70, "eightieth": 80, "ninetieth": 90,
}

var ordinalSuffixes = []string{"st", "nd", "rd", "th"}

var romanValues = map[byte]int{'i': 1, 'v': 5, 'x': 10, 'l': 50, 'c': 100}

// maxRoman bounds roman numeral recognition; larger values are far more
// likely to be ordinary words.
const maxRoman = 399

// NumberValue parses a single number-like token: decimal digits, digits with
// an ordinal suffix ("11th"), or a spelled unit 0–19 in cardinal or ordinal
// form. Spelled tens are handled by [CollapseNumbers] because they may
// combine with a following unit. Roman numerals are parsed by [RomanValue].
func NumberValue(tok string) (int, bool) {
	if n, ok := digitsValue(tok); ok {
		return n, true
	}
	for _, suf := range ordinalSuffixes {
		if stem, ok := strings.CutSuffix(tok, suf); ok {
			if n, ok := digitsValue(stem); ok {
				return n, true
			}
		}
	}
	if n, ok := unitWords[tok]; ok {
		return n, true
	}
	if n, ok := tensWords[tok]; ok {
		return n, true
	}
	return 0, false
}

func digitsValue(tok string) (int, bool) {
	if tok == "" || len(tok) > 6 {
		return 0, false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(tok)
	return n, err == nil
}

// RomanValue parses a strict lowercase roman numeral (i, v, x, l, c) up to
// 399. Non-canonical forms such as "iiii" or "il" are rejected.
func RomanValue(tok string) (int, bool) {
	if tok == "" {
		return 0, false
	}
	total := 0
	for i := 0; i < len(tok); i++ {
		v, ok := romanValues[tok[i]]
		if !ok {
			return 0, false
		}
		if i+1 < len(tok) && v < romanValues[tok[i+1]] {
			total -= v
		} else {
			total += v
		}
	}
	if total <= 0 || total > maxRoman || toRoman(total) != tok {
		return 0, false
	}
	return total, true
}

func toRoman(n int) string {
	steps := []struct {
		v int
		s string
	}{
		{100, "c"}, {90, "xc"}, {50, "l"}, {40, "xl"}, {10, "x"}, {9, "ix"},
		{5, "v"}, {4, "iv"}, {1, "i"},
	}
	var b strings.Builder
	for _, st := range steps {
		for n >= st.v {
			b.WriteString(st.s)
			n -= st.v
		}
	}
	return b.String()
}

// CollapseNumbers rewrites number-like tokens into canonical decimal tokens.
// A spelled tens word followed by a spelled unit 1–9 combines ("twenty one"
// → "21"). Roman numerals are collapsed when they are at least two letters
// long or follow a chapter keyword, so the pronoun "i" survives in ordinary
// text. The input slice is not modified.
func CollapseNumbers(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tens, ok := tensWords[tok]; ok {
			if i+1 < len(tokens) {
				if unit, ok := unitWords[tokens[i+1]]; ok && unit >= 1 && unit <= 9 {
					out = append(out, strconv.Itoa(tens+unit))
					i++
					continue
				}
			}
			out = append(out, strconv.Itoa(tens))
			continue
		}
		if n, ok := NumberValue(tok); ok {
			out = append(out, strconv.Itoa(n))
			continue
		}
		afterKeyword := i > 0 && IsChapterKeyword(tokens[i-1])
		if len(tok) >= 2 || afterKeyword {
			if n, ok := RomanValue(tok); ok {
				out = append(out, strconv.Itoa(n))
				continue
			}
		}
		out = append(out, tok)
	}
	return out
}

// IsCanonicalNumber reports whether tok is a decimal token as produced by
// [CollapseNumbers].
func IsCanonicalNumber(tok string) bool {
	_, ok := digitsValue(tok)
	return ok
}
