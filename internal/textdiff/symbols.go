package textdiff

import "github.com/sergi/go-diff/diffmatchpatch"

// firstSymbol is the rune assigned to the first distinct token.
const firstSymbol rune = 0x100

// dictionary assigns dense runes to tokens in first-seen order. Surrogate
// code points are skipped so every symbol survives a rune/string round trip.
type dictionary struct {
	symbols map[string]rune
	tokens  []string
	next    rune
}

func newDictionary() *dictionary {
	return &dictionary{symbols: make(map[string]rune), next: firstSymbol}
}

func (d *dictionary) symbol(tok string) rune {
	if r, ok := d.symbols[tok]; ok {
		return r
	}
	r := d.next
	d.next++
	if d.next == 0xD800 {
		d.next = 0xE000
	}
	d.symbols[tok] = r
	d.tokens = append(d.tokens, tok)
	return r
}

func (d *dictionary) encode(tokens []string) []rune {
	out := make([]rune, len(tokens))
	for i, t := range tokens {
		out[i] = d.symbol(t)
	}
	return out
}

func (d *dictionary) decode(s string) []string {
	out := make([]string, 0, len(s)/3)
	for _, r := range s {
		idx := int(r - firstSymbol)
		if r >= 0xE000 {
			idx -= 0xE000 - 0xD800
		}
		out = append(out, d.tokens[idx])
	}
	return out
}

// tokenDiff runs a Myers diff over the symbol encodings of ref and hyp.
func (a *Analyzer) tokenDiff(ref, hyp []string) []Op {
	dict := newDictionary()
	refSyms := dict.encode(ref)
	hypSyms := dict.encode(hyp)

	diffs := newDMP().DiffMainRunes(refSyms, hypSyms, false)

	ops := make([]Op, 0, len(diffs))
	for _, d := range diffs {
		var kind Kind
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = Equal
		case diffmatchpatch.DiffInsert:
			kind = Insert
		case diffmatchpatch.DiffDelete:
			kind = Delete
		}
		ops = append(ops, Op{Kind: kind, Tokens: dict.decode(d.Text)})
	}
	return ops
}
