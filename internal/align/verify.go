package align

import "fmt"

// opSides lists, per op kind, whether it references a word and a token.
var opSides = map[OpKind][2]bool{
	Match:        {true, true},
	Substitution: {true, true},
	Deletion:     {true, false},
	Insertion:    {false, true},
}

// VerifyCoverage checks that every manuscript word and every ASR token inside
// x.Bounds is referenced by exactly one op on its side, that nothing outside
// the bounds is referenced, and that both sides advance monotonically. It
// returns an error wrapping [ErrInvariant] on the first violation.
func VerifyCoverage(x *Index) error {
	mb, ab := x.Bounds.Manuscript, x.Bounds.ASR
	nextWord, nextToken := mb.Start, ab.Start
	for i, op := range x.Ops {
		hasWord, hasToken := op.Word != nil, op.Token != nil
		want, known := opSides[op.Kind]
		if !known || hasWord != want[0] || hasToken != want[1] {
			return fmt.Errorf("align: %w: op %d of kind %q has word=%v token=%v", ErrInvariant, i, op.Kind, hasWord, hasToken)
		}
		if hasWord {
			if op.Word.Index != nextWord {
				return fmt.Errorf("align: %w: op %d references word %d, want %d", ErrInvariant, i, op.Word.Index, nextWord)
			}
			nextWord++
		}
		if hasToken {
			if op.Token.Index != nextToken {
				return fmt.Errorf("align: %w: op %d references token %d, want %d", ErrInvariant, i, op.Token.Index, nextToken)
			}
			nextToken++
		}
	}
	if nextWord != mb.End {
		return fmt.Errorf("align: %w: ops cover words up to %d, want %d", ErrInvariant, nextWord, mb.End)
	}
	if nextToken != ab.End {
		return fmt.Errorf("align: %w: ops cover tokens up to %d, want %d", ErrInvariant, nextToken, ab.End)
	}
	return nil
}
