package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	switch cfg.Storage.Backend {
	case BackendFS:
		if cfg.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required when backend is fs"))
		}
		if cfg.Storage.PostgresDSN != "" {
			slog.Warn("storage.postgres_dsn is ignored by the fs backend")
		}
	case BackendPostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required when backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: fs, postgres", cfg.Storage.Backend))
	}

	if cfg.Workers.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("workers.concurrency must be at least 1, got %d", cfg.Workers.Concurrency))
	}
	if cfg.Telemetry.Metrics && cfg.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.service_name is required when metrics are enabled"))
	}

	if err := cfg.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Anchors.TokensPerAnchor < cfg.Anchors.MinSeparation {
		slog.Warn("anchors.tokens_per_anchor is below anchors.min_separation; the density target cannot be met",
			"tokens_per_anchor", cfg.Anchors.TokensPerAnchor,
			"min_separation", cfg.Anchors.MinSeparation,
		)
	}

	return errors.Join(errs...)
}
