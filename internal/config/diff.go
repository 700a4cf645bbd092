package config

import (
	"slices"

	"github.com/MrWong99/bookalign/internal/artifact"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Invalidated lists the artifact kinds whose stored content no longer
	// matches the new parameters, in pipeline order.
	Invalidated []artifact.Kind

	// RestartRequired names changed sections that only take effect after a
	// restart, e.g. "storage".
	RestartRequired []string
}

// Invalidates reports whether kind must be regenerated.
func (d ConfigDiff) Invalidates(kind artifact.Kind) bool {
	return slices.Contains(d.Invalidated, kind)
}

// Diff compares old and new configs and returns what changed. A parameter
// change invalidates the artifact that depends on it and every artifact
// derived from that one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	switch {
	case old.Section != new.Section, old.Anchors != new.Anchors:
		d.Invalidated = []artifact.Kind{artifact.KindAnchors, artifact.KindIndex, artifact.KindHydrated}
	case old.Alignment != new.Alignment:
		d.Invalidated = []artifact.Kind{artifact.KindIndex, artifact.KindHydrated}
	case old.Hydration != new.Hydration:
		d.Invalidated = []artifact.Kind{artifact.KindHydrated}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Workers != new.Workers {
		d.RestartRequired = append(d.RestartRequired, "workers")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
