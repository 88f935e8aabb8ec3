package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevelEnv overrides the configured log level.
const LogLevelEnv = "VAMM_LOG_LEVEL"

// NewLogger creates a structured JSON logger for one component.
// Production default: info. Set via VAMM_LOG_LEVEL.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, ParseLogLevel(os.Getenv(LogLevelEnv)))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps a config string onto a level, defaulting to info.
func ParseLogLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
