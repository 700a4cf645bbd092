package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/bookalign/internal/artifact"
	"github.com/MrWong99/bookalign/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	verbose    bool
	quiet      bool
	configPath string

	// logLevel is shared by the default handler so serve can change it when
	// the config file is edited.
	logLevel = new(slog.LevelVar)

	// cfg is the active configuration, set before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bookalign",
	Short: "Align audiobook transcripts with their manuscript",
	Long: `Bookalign matches the timed words of an ASR transcript against the book
index the narrator read from. For each chapter it locates the chapter, picks
anchor words, aligns the windows between them and grades every sentence by
word and character error rate. Results are stored as write-once artifacts
and can be reviewed through a small HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		cfg = c
		setupLogging(os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "bookalign.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise the defaults apply.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	c, err := config.Load(path)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return config.Default(), nil
	}
	return nil, err
}

func setupLogging(w io.Writer) {
	level := cfg.Server.LogLevel.Level()
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	logLevel.Set(level)

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// storeRegistry returns the registry of the built-in storage backends.
func storeRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterStore(config.BackendFS, func(_ context.Context, sc config.StorageConfig) (artifact.Store, error) {
		if err := os.MkdirAll(sc.Dir, 0o755); err != nil {
			return nil, err
		}
		return artifact.NewFSStore(sc.Dir), nil
	})
	reg.RegisterStore(config.BackendPostgres, func(ctx context.Context, sc config.StorageConfig) (artifact.Store, error) {
		pg, err := artifact.OpenPostgres(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	})
	return reg
}

// openStore opens the configured artifact store. The returned func releases
// it.
func openStore(ctx context.Context) (artifact.Store, func(), error) {
	s, err := storeRegistry().OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	if pg, ok := s.(*artifact.PostgresStore); ok {
		release = pg.Close
	}
	slog.Debug("artifact store opened", "backend", cfg.Storage.Backend)
	return s, release, nil
}

func printf(w io.Writer, format string, args ...any) {
	if quiet {
		return
	}
	fmt.Fprintf(w, format, args...)
}
