package config_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/bookalign/internal/artifact"
	"github.com/MrWong99/bookalign/internal/config"
	"github.com/MrWong99/bookalign/internal/pipeline"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

section:
  prefix_length: 40

anchors:
  ngram_size: 4
  min_separation: 30
  relaxation_steps: 1
  tokens_per_anchor: 60

alignment:
  max_window_ratio: 2.5
  max_cells: 1000000

hydration:
  attention_wer: 0.05
  unreliable_wer: 0.25

storage:
  backend: postgres
  postgres_dsn: "postgres://localhost/bookalign"

workers:
  concurrency: 8

telemetry:
  metrics: false
`

// ── Default / Params ─────────────────────────────────────────────────────────

func TestDefault_MatchesPipelineDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate(Default()) = %v", err)
	}
	if got, want := cfg.Params(), pipeline.DefaultParams(); got != want {
		t.Errorf("Default().Params() = %+v, want %+v", got, want)
	}
}

func TestLoadFromReader_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	p := cfg.Params()
	if p.PrefixLength != 40 || p.Anchors.NGram != 4 || p.Anchors.TokensPerAnchor != 60 {
		t.Errorf("params = %+v", p)
	}
	if p.Alignment.MaxWindowRatio != 2.5 || p.Alignment.MaxCells != 1_000_000 {
		t.Errorf("alignment = %+v", p.Alignment)
	}
	// Keys absent from the file keep their defaults.
	if def := config.Default(); p.Alignment.FallbackDepth != def.Alignment.FallbackDepth || p.Alignment.MinRatioWindow != def.Alignment.MinRatioWindow {
		t.Errorf("unset alignment keys = %+v, want defaults", p.Alignment)
	}
	if p.Hydration.AttentionWER != 0.05 || p.Hydration.UnreliableWER != 0.25 {
		t.Errorf("hydration = %+v", p.Hydration)
	}
	if cfg.Storage.Backend != config.BackendPostgres || cfg.Workers.Concurrency != 8 || cfg.Telemetry.Metrics {
		t.Errorf("storage/workers/telemetry = %+v %+v %+v", cfg.Storage, cfg.Workers, cfg.Telemetry)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty): %v", err)
	}
	if *cfg != *config.Default() {
		t.Errorf("LoadFromReader(empty) = %+v, want defaults", cfg)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := tc.in.Level(); got != tc.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_OpenStore(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterStore(config.BackendFS, func(_ context.Context, cfg config.StorageConfig) (artifact.Store, error) {
		return artifact.NewFSStore(cfg.Dir), nil
	})
	reg.RegisterStore(config.BackendPostgres, func(context.Context, config.StorageConfig) (artifact.Store, error) {
		return nil, errors.New("connection refused")
	})

	if got := reg.Backends(); !slices.Equal(got, []config.Backend{config.BackendFS, config.BackendPostgres}) {
		t.Errorf("Backends() = %v", got)
	}

	dir := t.TempDir()
	s, err := reg.OpenStore(context.Background(), config.StorageConfig{Backend: config.BackendFS, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStore(fs): %v", err)
	}
	if fs, ok := s.(*artifact.FSStore); !ok || fs.Dir() != dir {
		t.Errorf("OpenStore(fs) = %T, want *artifact.FSStore on %s", s, dir)
	}

	_, err = reg.OpenStore(context.Background(), config.StorageConfig{Backend: config.BackendPostgres})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("OpenStore(postgres) error = %v, want the factory error", err)
	}

	_, err = config.NewRegistry().OpenStore(context.Background(), config.StorageConfig{Backend: config.BackendFS})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("OpenStore on empty registry = %v, want ErrBackendNotRegistered", err)
	}
}
