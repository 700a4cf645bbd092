package manuscript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaJSON is the JSON Schema of the book-index artifact.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["words", "sentences", "paragraphs"],
  "properties": {
    "sourcePath": {"type": "string"},
    "words": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["index", "text", "sentence", "paragraph", "section"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "text": {"type": "string"},
          "sentence": {"type": "integer", "minimum": 0},
          "paragraph": {"type": "integer", "minimum": 0},
          "section": {"type": "integer", "minimum": -1}
        }
      }
    },
    "sentences": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/range"}},
    "paragraphs": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/range"}},
    "sections": {
      "type": "array",
      "items": {
        "allOf": [
          {"$ref": "#/definitions/range"},
          {"type": "object", "required": ["title"], "properties": {"title": {"type": "string"}}}
        ]
      }
    }
  },
  "definitions": {
    "range": {
      "type": "object",
      "required": ["id", "start", "end"],
      "properties": {
        "id": {"type": "integer"},
        "start": {"type": "integer", "minimum": 0},
        "end": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("manuscript.schema.json", schemaJSON)
})

// Decode reads a JSON book index from r, validates it against the artifact
// schema, and checks its structural invariants with [Index.Validate].
func Decode(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("manuscript: read: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("manuscript: compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	idx := &Index{}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(idx); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformed, err)
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Load opens path and decodes it with [Decode]. SourcePath defaults to path.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manuscript: open %q: %w", path, err)
	}
	defer f.Close()

	idx, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("manuscript: load %q: %w", path, err)
	}
	if idx.SourcePath == "" {
		idx.SourcePath = path
	}
	return idx, nil
}
