package textdiff

import "github.com/MrWong99/bookalign/internal/phonetic"

// gluePass rewrites every adjacent delete/insert pair (in either order) so
// that split or merged words whose phonetic skeletons agree become Equal.
func (a *Analyzer) gluePass(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	for i := 0; i < len(ops); i++ {
		if i+1 < len(ops) {
			cur, next := ops[i], ops[i+1]
			switch {
			case cur.Kind == Delete && next.Kind == Insert:
				out = append(out, a.glueSpans(cur.Tokens, next.Tokens)...)
				i++
				continue
			case cur.Kind == Insert && next.Kind == Delete:
				out = append(out, a.glueSpans(next.Tokens, cur.Tokens)...)
				i++
				continue
			}
		}
		out = append(out, ops[i])
	}
	return out
}

// glueSpans resolves one deleted/inserted pair. It first looks for a deleted token
// matching a run of inserted tokens, then for an inserted token matching a
// run of deleted tokens. The first match splits the pair around a new Equal
// span and both remainders are glued recursively, so consumed tokens are never
// reused.
func (a *Analyzer) glueSpans(del, ins []string) []Op {
	if len(del) == 0 || len(ins) == 0 {
		return []Op{{Kind: Delete, Tokens: del}, {Kind: Insert, Tokens: ins}}
	}

	if x, s, e, ok := a.findRun(del, ins); ok {
		out := a.glueSpans(del[:x], ins[:s])
		out = append(out, Op{Kind: Equal, Tokens: del[x : x+1]})
		return append(out, a.glueSpans(del[x+1:], ins[e:])...)
	}
	if y, s, e, ok := a.findRun(ins, del); ok {
		out := a.glueSpans(del[:s], ins[:y])
		out = append(out, Op{Kind: Equal, Tokens: del[s:e]})
		return append(out, a.glueSpans(del[e:], ins[y+1:])...)
	}
	return []Op{{Kind: Delete, Tokens: del}, {Kind: Insert, Tokens: ins}}
}

// findRun searches for a token single[x] whose skeleton equals the skeleton of
// a contiguous run many[s:e] of at least two tokens. Tokens are scanned in
// order; runs are tried by start position, longest first.
func (a *Analyzer) findRun(single, many []string) (x, s, e int, ok bool) {
	if len(many) < 2 {
		return 0, 0, 0, false
	}
	for x, tok := range single {
		skel := phonetic.Skeleton(tok)
		if skel == "" {
			continue
		}
		for s := 0; s < len(many)-1; s++ {
			for e := min(len(many), s+a.maxGlueRun); e >= s+2; e-- {
				run := many[s:e]
				if !comparableLength(tok, run) {
					continue
				}
				if phonetic.Skeleton(run...) == skel {
					return x, s, e, true
				}
			}
		}
	}
	return 0, 0, 0, false
}

// comparableLength rejects runs whose letters are less than half or more
// than twice as long as tok; Double Metaphone codes are short enough that
// wildly different lengths can collide.
func comparableLength(tok string, run []string) bool {
	n := 0
	for _, r := range run {
		n += len(r)
	}
	return n*2 >= len(tok) && n <= len(tok)*2
}
