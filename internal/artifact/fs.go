package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// FSStore is a [Store] that keeps artifacts as JSON files:
//
//	<dir>/<chapter>/<chapter>.<kind>.json
//	<dir>/<chapter>/<chapter>.<kind>.meta.json
//
// Every file is written to a temporary name and renamed into place. The body
// is renamed before the metadata, so a reader never sees metadata that
// points at a missing body.
type FSStore struct {
	dir string
	mu  sync.Mutex
}

var _ Store = (*FSStore)(nil)

// NewFSStore returns a store rooted at dir. The directory is created on the
// first write.
func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

// Dir returns the root directory.
func (s *FSStore) Dir() string { return s.dir }

// Path returns the body path of an artifact.
func (s *FSStore) Path(chapter string, kind Kind) string {
	return filepath.Join(s.dir, chapter, chapter+"."+string(kind)+".json")
}

func (s *FSStore) metaPath(chapter string, kind Kind) string {
	return filepath.Join(s.dir, chapter, chapter+"."+string(kind)+".meta.json")
}

// Put implements [Store].
func (s *FSStore) Put(ctx context.Context, a Artifact) (PutResult, error) {
	results, err := s.PutAll(ctx, []Artifact{a})
	if err != nil {
		return "", err
	}
	return results[0], nil
}

// PutAll implements [Store]. Every file of the batch is staged under a
// temporary name before the first rename, and ctx is checked once more
// after staging. Nothing is renamed into place when a decision, a staged
// write or the context fails.
func (s *FSStore) PutAll(ctx context.Context, as []Artifact) ([]PutResult, error) {
	if err := checkBatch(as); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]PutResult, len(as))
	var pending []Artifact
	for i, a := range as {
		results[i] = Written
		stored, ok, err := s.readMeta(a.Chapter, a.Kind)
		if err != nil {
			return nil, err
		}
		if ok {
			if results[i], err = decide(stored, a); err != nil {
				return nil, err
			}
		}
		if results[i] != Unchanged {
			pending = append(pending, a)
		}
	}

	var staged []stagedFile
	defer func() {
		for _, f := range staged {
			os.Remove(f.tmp) // no-op after a successful rename
		}
	}()
	for _, a := range pending {
		meta, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("artifact: encode meta: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(s.dir, a.Chapter), 0o755); err != nil {
			return nil, fmt.Errorf("artifact: create chapter dir: %w", err)
		}
		body, err := stage(s.Path(a.Chapter, a.Kind), a.Data)
		if err != nil {
			return nil, err
		}
		staged = append(staged, body)
		m, err := stage(s.metaPath(a.Chapter, a.Kind), append(meta, '\n'))
		if err != nil {
			return nil, err
		}
		staged = append(staged, m)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Each body is staged right before its metadata.
	for _, f := range staged {
		if err := os.Rename(f.tmp, f.path); err != nil {
			return nil, fmt.Errorf("artifact: rename %s: %w", filepath.Base(f.path), err)
		}
	}
	return results, nil
}

// Get implements [Store].
func (s *FSStore) Get(ctx context.Context, chapter string, kind Kind) (Artifact, bool, error) {
	if err := ValidateName(chapter); err != nil {
		return Artifact{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, false, err
	}
	a, ok, err := s.readMeta(chapter, kind)
	if err != nil || !ok {
		return Artifact{}, false, err
	}
	data, err := os.ReadFile(s.Path(chapter, kind))
	if err != nil {
		return Artifact{}, false, fmt.Errorf("artifact: read %s/%s: %w", chapter, kind, err)
	}
	if Hash(data) != a.ContentHash {
		return Artifact{}, false, fmt.Errorf("%w: %s/%s", ErrCorrupt, chapter, kind)
	}
	a.Data = data
	return a, true, nil
}

// List implements [Store].
func (s *FSStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: list: %w", err)
	}
	chapters := []string{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		for _, k := range Kinds {
			if _, err := os.Stat(s.metaPath(e.Name(), k)); err == nil {
				chapters = append(chapters, e.Name())
				break
			}
		}
	}
	slices.Sort(chapters)
	return chapters, nil
}

// Ping implements [Store]. A missing root directory is healthy; anything
// else at that path that is not a directory is not.
func (s *FSStore) Ping(context.Context) error {
	fi, err := os.Stat(s.dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("artifact: stat %s: %w", s.dir, err)
	case !fi.IsDir():
		return fmt.Errorf("artifact: %s is not a directory", s.dir)
	}
	return nil
}

func (s *FSStore) readMeta(chapter string, kind Kind) (Artifact, bool, error) {
	data, err := os.ReadFile(s.metaPath(chapter, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, fmt.Errorf("artifact: read meta %s/%s: %w", chapter, kind, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, false, fmt.Errorf("artifact: decode meta %s/%s: %w", chapter, kind, err)
	}
	return a, true, nil
}

// stagedFile is a fully written temporary file waiting to be renamed to
// path.
type stagedFile struct {
	tmp, path string
}

// stage writes data to a synced temporary file next to path.
func stage(path string, data []byte) (stagedFile, error) {
	dir, base := filepath.Split(path)
	f, err := os.CreateTemp(dir, "."+strings.TrimSuffix(base, ".json")+"-*.tmp")
	if err != nil {
		return stagedFile{}, fmt.Errorf("artifact: create temp file: %w", err)
	}
	sf := stagedFile{tmp: f.Name(), path: path}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(sf.tmp)
		return stagedFile{}, fmt.Errorf("artifact: write %s: %w", base, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(sf.tmp)
		return stagedFile{}, fmt.Errorf("artifact: sync %s: %w", base, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(sf.tmp)
		return stagedFile{}, fmt.Errorf("artifact: close %s: %w", base, err)
	}
	return sf, nil
}
