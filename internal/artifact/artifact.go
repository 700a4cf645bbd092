// Package artifact persists the per-chapter alignment outputs: the anchor
// set, the transcript index and the hydrated transcript.
//
// Artifacts are write-once. Each one carries the SHA-256 of its canonical
// JSON body and a hash of the parameters that produced it. Putting identical
// content again is a no-op, putting different content produced by the same
// parameters is refused with [ErrExists], and putting content produced by
// different parameters replaces the stored artifact (regeneration after a
// configuration change).
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names one of the three artifact types.
type Kind string

const (
	KindAnchors  Kind = "anchors"
	KindIndex    Kind = "index"
	KindHydrated Kind = "hydrated"
)

// Kinds lists every artifact kind in pipeline order.
var Kinds = []Kind{KindAnchors, KindIndex, KindHydrated}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAnchors, KindIndex, KindHydrated:
		return true
	}
	return false
}

var (
	// ErrExists is returned when a different artifact produced by the same
	// parameters is already stored.
	ErrExists = errors.New("artifact: already exists with different content")

	// ErrInvalidName is returned for chapter names that cannot be used as a
	// storage key.
	ErrInvalidName = errors.New("artifact: invalid chapter name")

	// ErrCorrupt is returned when a stored body no longer matches its hash.
	ErrCorrupt = errors.New("artifact: stored content does not match its hash")
)

// PutResult describes what a successful Put did.
type PutResult string

const (
	Written   PutResult = "written"
	Unchanged PutResult = "unchanged"
	Replaced  PutResult = "replaced"
)

// Artifact is one encoded chapter output.
type Artifact struct {
	Chapter     string    `json:"chapter"`
	Kind        Kind      `json:"kind"`
	ParamsHash  string    `json:"paramsHash"`
	ContentHash string    `json:"contentHash"`
	CreatedAt   time.Time `json:"createdAt"`
	Data        []byte    `json:"-"`
}

// Decode unmarshals the artifact body into v.
func (a Artifact) Decode(v any) error {
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("artifact: decode %s/%s: %w", a.Chapter, a.Kind, err)
	}
	return nil
}

// Store persists artifacts. Implementations must be safe for concurrent use.
type Store interface {
	// Put stores a following the write-once rules described in the package
	// documentation.
	Put(ctx context.Context, a Artifact) (PutResult, error)

	// PutAll stores every artifact or none of them. Results are returned
	// in input order. When any artifact is refused, or ctx ends before
	// the first write, the store is left as it was.
	PutAll(ctx context.Context, as []Artifact) ([]PutResult, error)

	// Get returns the stored artifact of the given kind for chapter. The
	// boolean is false when nothing is stored.
	Get(ctx context.Context, chapter string, kind Kind) (Artifact, bool, error)

	// List returns the names of all chapters with at least one artifact,
	// sorted lexically.
	List(ctx context.Context) ([]string, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Canonical encodes v as indented JSON with a trailing newline. Struct
// fields keep declaration order and map keys are sorted, so equal values
// always produce equal bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ParamsHash hashes the canonical encoding of params.
func ParamsHash(params any) (string, error) {
	data, err := Canonical(params)
	if err != nil {
		return "", fmt.Errorf("artifact: encode params: %w", err)
	}
	return Hash(data), nil
}

// New encodes v into an artifact for chapter.
func New(chapter string, kind Kind, paramsHash string, v any, createdAt time.Time) (Artifact, error) {
	if err := ValidateName(chapter); err != nil {
		return Artifact{}, err
	}
	if !kind.Valid() {
		return Artifact{}, fmt.Errorf("artifact: unknown kind %q", kind)
	}
	data, err := Canonical(v)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: encode %s/%s: %w", chapter, kind, err)
	}
	return Artifact{
		Chapter:     chapter,
		Kind:        kind,
		ParamsHash:  paramsHash,
		ContentHash: Hash(data),
		CreatedAt:   createdAt.UTC(),
		Data:        data,
	}, nil
}

// ValidateName rejects chapter names that are empty, hidden, or contain
// path separators.
func ValidateName(chapter string) error {
	switch {
	case chapter == "", chapter == ".", chapter == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, chapter)
	case strings.HasPrefix(chapter, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, chapter)
	case strings.ContainsAny(chapter, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, chapter)
	}
	return nil
}

// decide applies the write-once rules to an incoming artifact given the
// currently stored one.
func decide(stored, incoming Artifact) (PutResult, error) {
	switch {
	case stored.ContentHash == incoming.ContentHash:
		return Unchanged, nil
	case stored.ParamsHash == incoming.ParamsHash:
		return "", fmt.Errorf("%w: %s/%s (params %s)", ErrExists, incoming.Chapter, incoming.Kind, short(incoming.ParamsHash))
	default:
		return Replaced, nil
	}
}

// checkBatch validates the names and kinds of a PutAll batch. A batch may
// hold each chapter and kind only once.
func checkBatch(as []Artifact) error {
	seen := make(map[string]bool, len(as))
	for _, a := range as {
		if err := ValidateName(a.Chapter); err != nil {
			return err
		}
		if !a.Kind.Valid() {
			return fmt.Errorf("artifact: unknown kind %q", a.Kind)
		}
		key := a.Chapter + "/" + string(a.Kind)
		if seen[key] {
			return fmt.Errorf("artifact: %s appears twice in one batch", key)
		}
		seen[key] = true
	}
	return nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
