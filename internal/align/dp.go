package align

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/bookalign/internal/phonetic"
)

// gapCost is the cost of a deletion or an insertion. The phonetic mismatch
// ceiling stays below twice this value so that a substitution is always
// cheaper than a deletion plus an insertion.
const gapCost = 1.0

// Backtrack moves, in tie-break order.
const (
	moveDiag uint8 = iota
	moveDel
	moveIns
)

// step is one backtracked DP move. word and token are -1 when absent.
type step struct {
	kind  OpKind
	word  int
	token int
	cost  float64
}

// code returns the phonetic code of a normalized key. Multi-token keys such
// as expanded contractions are encoded as one word.
func code(key string) phonetic.Code {
	c := phonetic.Encode(strings.ReplaceAll(key, " ", ""))
	c.Text = key
	return c
}

// align runs edit-distance alignment over w. The cost and backtrack tables
// are flat arrays indexed row*(cols)+col. On equal cost a diagonal move
// beats a deletion, which beats an insertion. Cancellation is checked once
// per row.
func (b *Builder) align(ctx context.Context, ch *chapter, w Window) ([]step, error) {
	n, m := w.Manuscript.Len(), w.ASR.Len()
	wc := make([]phonetic.Code, n)
	for i := range n {
		wc[i] = code(ch.wordKey[w.Manuscript.Start+i])
	}
	tc := make([]phonetic.Code, m)
	for j := range m {
		tc[j] = code(ch.tokenKey[w.ASR.Start+j])
	}

	cols := m + 1
	cost := make([]float64, (n+1)*cols)
	back := make([]uint8, (n+1)*cols)
	for j := 1; j <= m; j++ {
		cost[j] = float64(j) * gapCost
		back[j] = moveIns
	}
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("align: window %s: %w", w.Manuscript, err)
		}
		row, prev := i*cols, (i-1)*cols
		cost[row] = float64(i) * gapCost
		back[row] = moveDel
		for j := 1; j <= m; j++ {
			best, move := cost[prev+j-1]+b.scorer.Cost(wc[i-1], tc[j-1]), moveDiag
			if c := cost[prev+j] + gapCost; c < best {
				best, move = c, moveDel
			}
			if c := cost[row+j-1] + gapCost; c < best {
				best, move = c, moveIns
			}
			cost[row+j], back[row+j] = best, move
		}
	}

	steps := make([]step, 0, max(n, m))
	for i, j := n, m; i > 0 || j > 0; {
		switch back[i*cols+j] {
		case moveDiag:
			c := b.scorer.Cost(wc[i-1], tc[j-1])
			kind := Substitution
			if wc[i-1].Text == tc[j-1].Text {
				kind = Match
			}
			steps = append(steps, step{kind: kind, word: w.Manuscript.Start + i - 1, token: w.ASR.Start + j - 1, cost: c})
			i, j = i-1, j-1
		case moveDel:
			steps = append(steps, step{kind: Deletion, word: w.Manuscript.Start + i - 1, token: -1, cost: gapCost})
			i--
		default:
			steps = append(steps, step{kind: Insertion, word: -1, token: w.ASR.Start + j - 1, cost: gapCost})
			j--
		}
	}
	for l, r := 0, len(steps)-1; l < r; l, r = l+1, r-1 {
		steps[l], steps[r] = steps[r], steps[l]
	}
	return steps, nil
}
