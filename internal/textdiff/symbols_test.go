package textdiff

import (
	"slices"
	"testing"
)

func TestDictionary_SkipsSurrogates(t *testing.T) {
	t.Parallel()

	d := newDictionary()
	d.next = 0xD7FF
	d.tokens = make([]string, int(0xD7FF-firstSymbol))

	a := d.symbol("alpha")
	b := d.symbol("beta")
	if a != 0xD7FF {
		t.Fatalf("symbol(alpha) = %U, want U+D7FF", a)
	}
	if b != 0xE000 {
		t.Fatalf("symbol(beta) = %U, want U+E000", b)
	}

	got := d.decode(string([]rune{a, b, a}))
	if want := []string{"alpha", "beta", "alpha"}; !slices.Equal(got, want) {
		t.Errorf("decode = %q, want %q", got, want)
	}
}

func TestDictionary_SharedAcrossStreams(t *testing.T) {
	t.Parallel()

	d := newDictionary()
	ref := d.encode([]string{"the", "cat"})
	hyp := d.encode([]string{"cat", "the", "dog"})
	if ref[0] != hyp[1] || ref[1] != hyp[0] {
		t.Errorf("shared tokens got different symbols: ref=%v hyp=%v", ref, hyp)
	}
	if len(d.tokens) != 3 {
		t.Errorf("dictionary size = %d, want 3", len(d.tokens))
	}
}
