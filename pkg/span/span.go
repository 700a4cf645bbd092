// Package span defines the half-open index range shared by the manuscript and
// ASR data contracts.
package span

import "fmt"

// Range is the half-open index interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// New returns the range [start, end).
func New(start, end int) Range { return Range{Start: start, End: end} }

// Len returns the number of indices in r, or 0 when r is inverted.
func (r Range) Len() int { return max(0, r.End-r.Start) }

// Empty reports whether r contains no index.
func (r Range) Empty() bool { return r.End <= r.Start }

// Contains reports whether i lies in r.
func (r Range) Contains(i int) bool { return i >= r.Start && i < r.End }

// Within reports whether r lies entirely inside outer.
func (r Range) Within(outer Range) bool {
	return r.Start >= outer.Start && r.End <= outer.End && r.Start <= r.End
}

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }
