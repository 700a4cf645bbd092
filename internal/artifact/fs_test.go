package artifact_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/bookalign/internal/artifact"
)

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustNew(t *testing.T, chapter string, kind artifact.Kind, params string, v any) artifact.Artifact {
	t.Helper()
	a, err := artifact.New(chapter, kind, params, v, created)
	if err != nil {
		t.Fatalf("New(%q, %q): %v", chapter, kind, err)
	}
	return a
}

func TestCanonical_Deterministic(t *testing.T) {
	t.Parallel()

	v := map[string]any{"b": 2, "a": []int{1, 2}, "c": "<x>"}
	a, err := artifact.Canonical(v)
	if err != nil {
		t.Fatal(err)
	}
	b, err := artifact.Canonical(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatal("Canonical produced different bytes for the same value")
	}
	want := "{\n  \"a\": [\n    1,\n    2\n  ],\n  \"b\": 2,\n  \"c\": \"<x>\"\n}\n"
	if string(a) != want {
		t.Errorf("Canonical = %q, want %q", a, want)
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ok   bool
	}{
		{"ch01", true},
		{"11- Aboard the Bounty", true},
		{"", false},
		{"..", false},
		{".hidden", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tc := range tests {
		err := artifact.ValidateName(tc.name)
		if (err == nil) != tc.ok {
			t.Errorf("ValidateName(%q) = %v, want ok=%v", tc.name, err, tc.ok)
		}
		if err != nil && !errors.Is(err, artifact.ErrInvalidName) {
			t.Errorf("ValidateName(%q) error does not wrap ErrInvalidName", tc.name)
		}
	}
}

func TestFSStore_WriteOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := artifact.NewFSStore(t.TempDir())

	first := mustNew(t, "ch01", artifact.KindIndex, "p1", map[string]int{"ops": 3})
	if res, err := s.Put(ctx, first); err != nil || res != artifact.Written {
		t.Fatalf("Put(first) = %q, %v, want written", res, err)
	}
	if res, err := s.Put(ctx, first); err != nil || res != artifact.Unchanged {
		t.Fatalf("Put(same) = %q, %v, want unchanged", res, err)
	}

	conflicting := mustNew(t, "ch01", artifact.KindIndex, "p1", map[string]int{"ops": 4})
	if _, err := s.Put(ctx, conflicting); !errors.Is(err, artifact.ErrExists) {
		t.Fatalf("Put(different content, same params) = %v, want ErrExists", err)
	}

	regenerated := mustNew(t, "ch01", artifact.KindIndex, "p2", map[string]int{"ops": 4})
	if res, err := s.Put(ctx, regenerated); err != nil || res != artifact.Replaced {
		t.Fatalf("Put(new params) = %q, %v, want replaced", res, err)
	}

	got, ok, err := s.Get(ctx, "ch01", artifact.KindIndex)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.ParamsHash != "p2" || got.ContentHash != regenerated.ContentHash || !got.CreatedAt.Equal(created) {
		t.Errorf("Get = %+v, want the regenerated artifact", got)
	}
	var body map[string]int
	if err := got.Decode(&body); err != nil || body["ops"] != 4 {
		t.Errorf("Decode = %v, %v, want ops 4", body, err)
	}
}

func TestFSStore_PutAllIsAllOrNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	s := artifact.NewFSStore(dir)

	index := mustNew(t, "ch03", artifact.KindIndex, "p1", map[string]int{"ops": 1})
	if _, err := s.Put(ctx, index); err != nil {
		t.Fatal(err)
	}

	anchors := mustNew(t, "ch03", artifact.KindAnchors, "p1", []int{1, 2})
	conflicting := mustNew(t, "ch03", artifact.KindIndex, "p1", map[string]int{"ops": 2})
	if _, err := s.PutAll(ctx, []artifact.Artifact{anchors, conflicting}); !errors.Is(err, artifact.ErrExists) {
		t.Fatalf("PutAll(conflict) = %v, want ErrExists", err)
	}
	if _, ok, err := s.Get(ctx, "ch03", artifact.KindAnchors); ok || err != nil {
		t.Errorf("anchors stored after a refused batch: ok=%v err=%v", ok, err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.PutAll(canceled, []artifact.Artifact{anchors}); !errors.Is(err, context.Canceled) {
		t.Fatalf("PutAll(canceled) = %v, want context.Canceled", err)
	}
	if _, err := s.PutAll(ctx, []artifact.Artifact{anchors, anchors}); err == nil {
		t.Error("PutAll accepted the same kind twice")
	}

	entries, err := os.ReadDir(filepath.Join(dir, "ch03"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("chapter dir has %d entries, want only the index pair", len(entries))
	}

	regenerated := mustNew(t, "ch03", artifact.KindIndex, "p2", map[string]int{"ops": 2})
	if _, err := s.PutAll(ctx, []artifact.Artifact{anchors, regenerated, index}); err == nil {
		t.Fatal("PutAll accepted the index twice")
	}
	got, err := s.PutAll(ctx, []artifact.Artifact{anchors, regenerated})
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if !slices.Equal(got, []artifact.PutResult{artifact.Written, artifact.Replaced}) {
		t.Errorf("PutAll = %v, want [written replaced]", got)
	}
	if a, ok, _ := s.Get(ctx, "ch03", artifact.KindIndex); !ok || a.ParamsHash != "p2" {
		t.Errorf("index = %+v, want the regenerated one", a)
	}
}

func TestFSStore_Layout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := artifact.NewFSStore(dir)
	a := mustNew(t, "ch02", artifact.KindHydrated, "p", []string{"x"})
	if _, err := s.Put(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"ch02.hydrated.json", "ch02.hydrated.meta.json"} {
		if _, err := os.Stat(filepath.Join(dir, "ch02", name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(dir, "ch02"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("chapter dir has %d entries, want 2 (no temp files left)", len(entries))
	}
	data, err := os.ReadFile(s.Path("ch02", artifact.KindHydrated))
	if err != nil || string(data) != string(a.Data) {
		t.Errorf("body on disk = %q, want %q", data, a.Data)
	}
}

func TestFSStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := artifact.NewFSStore(filepath.Join(t.TempDir(), "absent"))
	_, ok, err := s.Get(context.Background(), "ch01", artifact.KindAnchors)
	if err != nil || ok {
		t.Errorf("Get(missing) = %v, %v, want false, nil", ok, err)
	}
	chapters, err := s.List(context.Background())
	if err != nil || len(chapters) != 0 {
		t.Errorf("List(missing dir) = %v, %v, want empty", chapters, err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping(missing dir) = %v, want nil", err)
	}
}

func TestFSStore_DetectsCorruption(t *testing.T) {
	t.Parallel()

	s := artifact.NewFSStore(t.TempDir())
	a := mustNew(t, "ch01", artifact.KindAnchors, "p", []int{1, 2, 3})
	if _, err := s.Put(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("ch01", artifact.KindAnchors), []byte("[]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Get(context.Background(), "ch01", artifact.KindAnchors); !errors.Is(err, artifact.ErrCorrupt) {
		t.Errorf("Get(tampered) = %v, want ErrCorrupt", err)
	}
}

func TestFSStore_List(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := artifact.NewFSStore(dir)
	for _, ch := range []string{"ch10", "ch02", "ch01"} {
		if _, err := s.Put(context.Background(), mustNew(t, ch, artifact.KindAnchors, "p", ch)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"ch01", "ch02", "ch10"}; !slices.Equal(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}
}

func TestFSStore_RejectsBadInput(t *testing.T) {
	t.Parallel()

	s := artifact.NewFSStore(t.TempDir())
	if _, err := s.Put(context.Background(), artifact.Artifact{Chapter: "../x", Kind: artifact.KindIndex}); !errors.Is(err, artifact.ErrInvalidName) {
		t.Errorf("Put(../x) = %v, want ErrInvalidName", err)
	}
	if _, err := s.Put(context.Background(), artifact.Artifact{Chapter: "ch", Kind: "bogus"}); err == nil {
		t.Error("Put(unknown kind) succeeded, want error")
	}
	if _, err := artifact.New("ch", "bogus", "", 1, created); err == nil {
		t.Error("New(unknown kind) succeeded, want error")
	}
}

func TestParamsHash(t *testing.T) {
	t.Parallel()

	type params struct{ N, M int }
	a, _ := artifact.ParamsHash(params{3, 50})
	b, _ := artifact.ParamsHash(params{3, 50})
	c, _ := artifact.ParamsHash(params{3, 51})
	if a != b || a == c || len(a) != 64 {
		t.Errorf("ParamsHash = %q %q %q, want stable 64-char hashes that differ on change", a, b, c)
	}
}
