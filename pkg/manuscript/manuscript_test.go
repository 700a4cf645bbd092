package manuscript_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/bookalign/pkg/manuscript"
)

func sampleIndex() *manuscript.Index {
	return manuscript.Build(
		manuscript.SectionText{
			Title:   "Chapter One",
			Heading: true,
			Paragraphs: [][]string{
				{"It was a dark night.", "The wind howled."},
				{"Nobody slept."},
			},
		},
		manuscript.SectionText{
			Title:      "Chapter Two",
			Heading:    true,
			Paragraphs: [][]string{{"Morning came."}},
		},
	)
}

func TestBuild_IsValid(t *testing.T) {
	t.Parallel()

	x := sampleIndex()
	if err := x.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if got := len(x.Sections); got != 2 {
		t.Fatalf("sections = %d, want 2", got)
	}
	if got := x.Text(x.Sections[1].Range); got != "Chapter Two Morning came." {
		t.Errorf("Text(section 2) = %q", got)
	}
	if got := len(x.Paragraphs); got != 5 {
		t.Errorf("paragraphs = %d, want 5 (two headings + three body)", got)
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(x *manuscript.Index)
		want   string
	}{
		{"no words", func(x *manuscript.Index) { x.Words = nil }, "no words"},
		{"bad word index", func(x *manuscript.Index) { x.Words[3].Index = 7 }, "words[3].index"},
		{"sentence gap", func(x *manuscript.Index) { x.Sentences[1].Start++ }, "sentences[1] starts"},
		{"wrong owner", func(x *manuscript.Index) { x.Words[0].Sentence = 2 }, "does not contain"},
		{"wrong section", func(x *manuscript.Index) { x.Words[0].Section = 1 }, "section is 1"},
		{"duplicate id", func(x *manuscript.Index) { x.Sentences[1].ID = x.Sentences[0].ID }, "duplicates"},
		{"overlapping sections", func(x *manuscript.Index) { x.Sections[1].Start-- }, "overlapping"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			x := sampleIndex()
			tc.mutate(x)
			err := x.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !errors.Is(err, manuscript.ErrMalformed) {
				t.Errorf("error %v does not wrap ErrMalformed", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	const doc = `{
  "words": [
    {"index": 0, "text": "Hello", "sentence": 0, "paragraph": 0, "section": 0},
    {"index": 1, "text": "there.", "sentence": 0, "paragraph": 0, "section": 0}
  ],
  "sentences": [{"id": 10, "start": 0, "end": 2, "paragraph": 0}],
  "paragraphs": [{"id": 20, "start": 0, "end": 2, "section": 0}],
  "sections": [{"id": 30, "title": "Prologue", "start": 0, "end": 2}]
}`
	x, err := manuscript.Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if x.Sentences[0].ID != 10 || x.Sentences[0].End != 2 {
		t.Errorf("sentence = %+v, want id 10 ending at 2", x.Sentences[0])
	}
	if x.Sections[0].Title != "Prologue" {
		t.Errorf("section title = %q, want Prologue", x.Sections[0].Title)
	}
}

func TestDecode_SchemaViolation(t *testing.T) {
	t.Parallel()

	_, err := manuscript.Decode(strings.NewReader(`{"words": [], "sentences": [], "paragraphs": []}`))
	if !errors.Is(err, manuscript.ErrMalformed) {
		t.Fatalf("Decode(empty) = %v, want ErrMalformed", err)
	}
	_, err = manuscript.Decode(strings.NewReader(`not json`))
	if !errors.Is(err, manuscript.ErrMalformed) {
		t.Fatalf("Decode(garbage) = %v, want ErrMalformed", err)
	}
}
