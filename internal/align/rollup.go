package align

import (
	"math"

	"github.com/MrWong99/bookalign/pkg/manuscript"
	"github.com/MrWong99/bookalign/pkg/span"
)

// NoRollup is the rollup id of ops that belong to no sentence or paragraph.
const NoRollup = -1

// Status is the alignment status of a rollup: the most degraded window kind
// that contributed to it.
type Status string

const (
	StatusAligned   Status = "aligned"
	StatusSplit     Status = "split"
	StatusUnmatched Status = "unmatched"
)

func statusOf(k WindowKind) Status {
	switch k {
	case WindowSplit:
		return StatusSplit
	case WindowUnmatched:
		return StatusUnmatched
	default:
		return StatusAligned
	}
}

var statusRank = map[Status]int{StatusAligned: 0, StatusSplit: 1, StatusUnmatched: 2}

func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// Timing is a time range in seconds.
type Timing struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (t Timing) Duration() float64 { return t.End - t.Start }

// Counts are the placeholder metrics of a rollup, derived from its ops
// before any text diffing.
type Counts struct {
	Words         int     `json:"words"`
	Matches       int     `json:"matches"`
	Substitutions int     `json:"substitutions"`
	Insertions    int     `json:"insertions"`
	Deletions     int     `json:"deletions"`
	Cost          float64 `json:"cost"`
	// WER is the op-level error rate min(1, (S+D+I)/Words).
	WER float64 `json:"wer"`
}

// Rollup summarises the ops of one sentence or paragraph.
type Rollup struct {
	ID         int        `json:"id"`
	Manuscript span.Range `json:"manuscript"`
	// ASR spans the tokens of the matched and substituted words; nil when
	// no word was matched.
	ASR *span.Range `json:"asr"`
	// Timing is derived from ASR; nil when ASR is nil.
	Timing *Timing    `json:"timing"`
	Ops    span.Range `json:"ops"`
	Counts Counts     `json:"counts"`
	Status Status     `json:"status"`
}

// pauseTolerance is the difference in seconds below which two pauses count
// as equally long.
const pauseTolerance = 0.01

// attribute assigns each op to the sentence and paragraph owning its word.
// A run of insertions between two ops of the same sentence joins it. A run
// between two sentences is cut at its longest pause: what precedes the cut
// joins the earlier sentence, the rest the later one. Runs at either end of
// the chapter join their only neighbour.
func attribute(idx *manuscript.Index, ops []WordOp) {
	prev := -1
	for i := 0; i <= len(ops); i++ {
		if i < len(ops) && ops[i].Word == nil {
			continue
		}
		if i < len(ops) {
			w := idx.Words[ops[i].Word.Index]
			ops[i].SentenceID, ops[i].ParagraphID = idx.Sentences[w.Sentence].ID, idx.Paragraphs[w.Paragraph].ID
		}
		run := ops[prev+1 : i]
		cut := len(run)
		switch {
		case len(run) == 0:
		case prev < 0 && i == len(ops):
			for j := range run {
				run[j].SentenceID, run[j].ParagraphID = NoRollup, NoRollup
			}
		case prev < 0:
			cut = 0
		case i < len(ops) && ops[prev].SentenceID != ops[i].SentenceID:
			cut = longestPause(ops, prev, i)
		}
		if len(run) > 0 && (prev >= 0 || i < len(ops)) {
			for j := range run {
				from := i
				if j < cut {
					from = prev
				}
				run[j].SentenceID, run[j].ParagraphID = ops[from].SentenceID, ops[from].ParagraphID
			}
		}
		prev = i
	}
}

// longestPause returns how many of the insertions between ops a and b come
// before the longest silence between consecutive tokens. Ties go to the
// latest cut.
func longestPause(ops []WordOp, a, b int) int {
	n := b - a - 1
	best, bestGap := n, math.Inf(-1)
	for c := n; c >= 0; c-- {
		left, right := ops[a+c].Token, ops[a+c+1].Token
		if left == nil || right == nil {
			continue
		}
		if gap := right.Start - left.End; gap > bestGap+pauseTolerance {
			best, bestGap = c, gap
		}
	}
	return best
}

// rollup builds the sentence and paragraph rollups of every sentence and
// paragraph intersecting the chapter bounds. Manuscript ranges are clipped
// to the bounds.
func rollup(idx *manuscript.Index, x *Index) (sentences, paragraphs []Rollup) {
	bounds := x.Bounds.Manuscript
	sentences = []Rollup{}
	sentencePos := make(map[int]int)
	for _, s := range idx.Sentences {
		if r, ok := clip(s.Range, bounds); ok {
			sentencePos[s.ID] = len(sentences)
			sentences = append(sentences, Rollup{ID: s.ID, Manuscript: r, Status: StatusAligned})
		}
	}
	paragraphs = []Rollup{}
	paragraphPos := make(map[int]int)
	for _, p := range idx.Paragraphs {
		if r, ok := clip(p.Range, bounds); ok {
			paragraphPos[p.ID] = len(paragraphs)
			paragraphs = append(paragraphs, Rollup{ID: p.ID, Manuscript: r, Status: StatusAligned})
		}
	}

	for i, op := range x.Ops {
		status := statusOf(x.Windows[op.Window].Kind)
		if pos, ok := sentencePos[op.SentenceID]; ok {
			add(&sentences[pos], i, op, status)
		}
		if pos, ok := paragraphPos[op.ParagraphID]; ok {
			add(&paragraphs[pos], i, op, status)
		}
	}
	for i := range sentences {
		finish(&sentences[i])
	}
	for i := range paragraphs {
		finish(&paragraphs[i])
	}
	return sentences, paragraphs
}

func clip(r, bounds span.Range) (span.Range, bool) {
	c := span.New(max(r.Start, bounds.Start), min(r.End, bounds.End))
	return c, !c.Empty()
}

// add folds op i into r. Ops of one rollup are contiguous, so the op range
// grows from its first op.
func add(r *Rollup, i int, op WordOp, status Status) {
	if r.Ops.Empty() {
		r.Ops = span.New(i, i+1)
	} else {
		r.Ops.End = i + 1
	}
	r.Status = worse(r.Status, status)
	r.Counts.Cost += op.Cost
	switch op.Kind {
	case Match:
		r.Counts.Matches++
	case Substitution:
		r.Counts.Substitutions++
	case Insertion:
		r.Counts.Insertions++
		return
	case Deletion:
		r.Counts.Deletions++
		return
	}

	t := op.Token
	if r.ASR == nil {
		r.ASR = &span.Range{Start: t.Index, End: t.Index + 1}
		r.Timing = &Timing{Start: t.Start, End: t.End}
		return
	}
	if t.Index < r.ASR.Start {
		r.ASR.Start = t.Index
		r.Timing.Start = t.Start
	}
	if t.Index >= r.ASR.End {
		r.ASR.End = t.Index + 1
		r.Timing.End = t.End
	}
}

func finish(r *Rollup) {
	r.Counts.Words = r.Manuscript.Len()
	if r.Counts.Words > 0 {
		errs := r.Counts.Substitutions + r.Counts.Deletions + r.Counts.Insertions
		r.Counts.WER = min(1, float64(errs)/float64(r.Counts.Words))
	}
}
