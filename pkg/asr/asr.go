// Package asr defines the recogniser transcript data contract: an ordered
// sequence of timed word tokens plus the identifier of the model that
// produced them.
//
// The JSON form matches the ASR service response, where each token is
// encoded as {"t": start, "d": duration, "w": word}.
package asr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MrWong99/bookalign/pkg/span"
)

// ErrMalformed is wrapped by every transcript validation failure.
var ErrMalformed = errors.New("asr: malformed transcript")

// Token is one recognised word with its timing in seconds.
type Token struct {
	Start    float64 `json:"t"`
	Duration float64 `json:"d"`
	Word     string  `json:"w"`
}

// End returns the end time of the token in seconds.
func (t Token) End() float64 { return t.Start + t.Duration }

// Transcript is the complete recogniser output for one chapter.
type Transcript struct {
	ModelVersion string  `json:"modelVersion"`
	Tokens       []Token `json:"tokens"`
}

// TokenRange returns the range covering every token.
func (t *Transcript) TokenRange() span.Range { return span.New(0, len(t.Tokens)) }

// Text joins the words of the tokens in r with single spaces. r is clamped
// to the transcript.
func (t *Transcript) Text(r span.Range) string {
	start, end := max(0, r.Start), min(len(t.Tokens), r.End)
	if start >= end {
		return ""
	}
	words := make([]string, 0, end-start)
	for _, tok := range t.Tokens[start:end] {
		words = append(words, tok.Word)
	}
	return strings.Join(words, " ")
}

const maxReported = 20

// timeEpsilon tolerates rounding in recogniser timestamps.
const timeEpsilon = 1e-6

// Validate checks that the transcript has tokens, every token has a word and
// non-negative timing, and start times never decrease.
func (t *Transcript) Validate() error {
	if len(t.Tokens) == 0 {
		return fmt.Errorf("%w: no tokens", ErrMalformed)
	}
	var errs []error
	fail := func(format string, args ...any) {
		if len(errs) < maxReported {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...))
		}
	}
	prev := 0.0
	for i, tok := range t.Tokens {
		if strings.TrimSpace(tok.Word) == "" {
			fail("tokens[%d] has an empty word", i)
		}
		if tok.Start < 0 || tok.Duration < 0 {
			fail("tokens[%d] has negative timing (t=%g, d=%g)", i, tok.Start, tok.Duration)
		}
		if tok.Start+timeEpsilon < prev {
			fail("tokens[%d] starts at %g before tokens[%d] at %g", i, tok.Start, i-1, prev)
		}
		prev = tok.Start
	}
	return errors.Join(errs...)
}

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tokens"],
  "properties": {
    "modelVersion": {"type": "string"},
    "tokens": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["t", "d", "w"],
        "properties": {
          "t": {"type": "number", "minimum": 0},
          "d": {"type": "number", "minimum": 0},
          "w": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("asr.schema.json", schemaJSON)
})

// Decode reads a JSON transcript from r, validates it against the response
// schema and checks it with [Transcript.Validate].
func Decode(r io.Reader) (*Transcript, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("asr: read: %w", err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("asr: compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	tr := &Transcript{}
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(tr); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformed, err)
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}

// Load opens path and decodes it with [Decode].
func Load(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asr: open %q: %w", path, err)
	}
	defer f.Close()

	tr, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("asr: load %q: %w", path, err)
	}
	return tr, nil
}

// FromWords builds a transcript with evenly spaced tokens, one per
// whitespace-separated word, starting at start and lasting step seconds each.
// It is intended for tests and fixtures.
func FromWords(text string, start, step float64) *Transcript {
	tr := &Transcript{ModelVersion: "fixture"}
	for i, w := range strings.Fields(text) {
		tr.Tokens = append(tr.Tokens, Token{Start: start + float64(i)*step, Duration: step * 0.9, Word: w})
	}
	return tr
}
