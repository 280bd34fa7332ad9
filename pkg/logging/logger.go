// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used in the "component" field.
const (
	ComponentScheduler  = "scheduler"
	ComponentExpander   = "expander"
	ComponentAggregator = "aggregator"
	ComponentSession    = "session"
	ComponentSSH        = "mgmt-ssh"
	ComponentWeb        = "mgmt-web"
	ComponentArchive    = "archive"
	ComponentExporter   = "exporter"
	ComponentMetrics    = "metrics"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// DebugConfig returns the configuration selected by the -D flag: debug level
// when debug is set, warnings only otherwise so that the progress trace stays
// readable.
func DebugConfig(debug, pretty bool) Config {
	cfg := DefaultConfig()
	cfg.Pretty = pretty
	cfg.Level = LevelWarn
	if debug {
		cfg.Level = LevelDebug
	}
	return cfg
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRunID returns logger with the run id attached.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Task flow (queued, started "+ command", finished "- command (elapsed)")
//   - Pagination expansion (total, iterations)
//   - Records folded (inserted/replaced/kept)
//   - Archive writes
//
// Info: Normal operation events
//   - Login/logout
//   - Run start/finish with counts
//   - Export written
//
// Warn: Warning conditions that don't prevent operation
//   - Task-level errors (command failed, malformed output)
//   - Skipped task outputs
//   - Archive write failures
//   - Host key verification disabled
//
// Error: Error conditions requiring attention
//   - Run aborted (timeout, cancellation)
//   - Rule base for an unknown layer
//   - Login failure
//   - Configuration errors
//
// Context Fields:
//   - run_id: Scheduler run identifier
//   - seq: Task sequence number
//   - task: Task output name
//   - category: Object category
//   - iteration: Page number
//   - command: Management API command
//   - status: HTTP status code
//   - error_class: Error classification (client, server, network, command)
//   - elapsed: Task runtime
