package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/bookalign/internal/artifact"
	"github.com/MrWong99/bookalign/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || len(d.Invalidated) != 0 || len(d.RestartRequired) != 0 {
		t.Errorf("Diff(cfg, cfg) = %+v, want empty", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("Diff = %+v, want log level change to debug", d)
	}
	if len(d.Invalidated) != 0 {
		t.Errorf("log level change invalidated %v", d.Invalidated)
	}
}

func TestDiff_Invalidation(t *testing.T) {
	t.Parallel()

	all := []artifact.Kind{artifact.KindAnchors, artifact.KindIndex, artifact.KindHydrated}
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []artifact.Kind
	}{
		{"prefix length", func(c *config.Config) { c.Section.PrefixLength++ }, all},
		{"anchor policy", func(c *config.Config) { c.Anchors.MinSeparation++ }, all},
		{"anchor and hydration", func(c *config.Config) {
			c.Anchors.NGramSize++
			c.Hydration.AttentionWER = 0.2
		}, all},
		{"alignment", func(c *config.Config) { c.Alignment.MaxCells /= 2 }, []artifact.Kind{artifact.KindIndex, artifact.KindHydrated}},
		{"hydration", func(c *config.Config) { c.Hydration.UnreliableWER = 0.5 }, []artifact.Kind{artifact.KindHydrated}},
		{"workers only", func(c *config.Config) { c.Workers.Concurrency = 16 }, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tc.mutate(new)
			d := config.Diff(old, new)
			if !slices.Equal(d.Invalidated, tc.want) {
				t.Errorf("Invalidated = %v, want %v", d.Invalidated, tc.want)
			}
			for _, k := range artifact.Kinds {
				if d.Invalidates(k) != slices.Contains(tc.want, k) {
					t.Errorf("Invalidates(%s) = %v", k, d.Invalidates(k))
				}
			}
		})
	}
}

func TestDiff_InvalidationMatchesParamsHashes(t *testing.T) {
	t.Parallel()

	old, new := config.Default(), config.Default()
	new.Alignment.FallbackDepth++
	before, err := old.Params().Hashes()
	if err != nil {
		t.Fatal(err)
	}
	after, err := new.Params().Hashes()
	if err != nil {
		t.Fatal(err)
	}
	d := config.Diff(old, new)
	for _, k := range artifact.Kinds {
		if changed := before[k] != after[k]; changed != d.Invalidates(k) {
			t.Errorf("%s: params hash changed = %v, Invalidates = %v", k, changed, d.Invalidates(k))
		}
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Server.ListenAddr = ":9999"
	new.Storage.Dir = "elsewhere"
	new.Telemetry.ServiceName = "other"

	want := []string{"server.listen_addr", "storage", "telemetry"}
	if got := config.Diff(old, new).RestartRequired; !slices.Equal(got, want) {
		t.Errorf("RestartRequired = %v, want %v", got, want)
	}
}
