package log

import (
	"strings"

	"github.com/rs/zerolog"
)

// Level defines the logging levels, ordered by severity.
type Level int8

const (
	// TraceLevel is the most verbose level, used for wire-level dumps.
	TraceLevel Level = iota + 1
	// DebugLevel covers state transitions and per-message events.
	DebugLevel
	// InfoLevel covers listener, connection and channel lifecycle events.
	InfoLevel
	// WarnLevel indicates a recoverable problem such as a dropped connection.
	WarnLevel
	// ErrorLevel indicates a failed operation.
	ErrorLevel
	// FatalLevel logs and terminates the process.
	FatalLevel
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name to a Level.
// Unknown names map to InfoLevel.
func ParseLevel(levelStr string) Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	}
	return InfoLevel
}

// UnmarshalText lets configuration files spell the level by name.
func (l *Level) UnmarshalText(text []byte) error {
	*l = ParseLevel(string(text))
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	}
	return zerolog.InfoLevel
}
