package config

// Diff describes what changed between two configs. Only changes the process
// can act on without a restart are tracked.
type Diff struct {
	// LogLevelChanged is set when server.log_level differs; NewLogLevel
	// carries the value to apply.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DenoiseChanged is set when any denoise session setting differs.
	// Running sessions keep their settings; sessions opened after the
	// reload pick up the new ones.
	DenoiseChanged bool
}

// Empty reports whether the diff carries no actionable change.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.DenoiseChanged
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	var d Diff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !old.Denoise.Equal(new.Denoise) {
		d.DenoiseChanged = true
	}

	return d
}
