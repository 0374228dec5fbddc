package log

import (
	"fmt"
	"path/filepath"
)

// LogCfg is the logging configuration. It is decoded from the `[log]` table
// of the service configuration.
type LogCfg struct {
	// LogPath is the target file when the file appender is enabled.
	LogPath string `mapstructure:"path" toml:"path"`

	// LogLevel is the minimum level written.
	LogLevel Level `mapstructure:"level" toml:"level"`

	// FileSplitMB rotates the log file once it grows beyond this size.
	FileSplitMB int `mapstructure:"splitMB" toml:"split_mb"`

	// FileSplitHour rotates the log file daily at this hour. Zero disables
	// time based rotation.
	FileSplitHour int `mapstructure:"splitHour" toml:"split_hour"`

	// CallerSkip adds frames to skip when caller information is enabled.
	CallerSkip int `mapstructure:"callerSkip" toml:"caller_skip"`

	FileAppender    bool `mapstructure:"fileAppender" toml:"file_appender"`
	ConsoleAppender bool `mapstructure:"consoleAppender" toml:"console_appender"`

	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo" toml:"caller_info"`
}

// Validate checks the configuration for correctness and consistency.
func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel < TraceLevel || cfg.LogLevel > FatalLevel {
		return fmt.Errorf("invalid log level: %d, must be between %d (Trace) and %d (Fatal)",
			cfg.LogLevel, TraceLevel, FatalLevel)
	}

	if cfg.FileSplitMB < 0 || cfg.FileSplitMB > 1024 {
		return fmt.Errorf("file split size must be between 0MB and 1024MB, got %dMB", cfg.FileSplitMB)
	}

	if cfg.FileSplitHour < 0 || cfg.FileSplitHour > 23 {
		return fmt.Errorf("file split hour must be between 0 and 23, got %d", cfg.FileSplitHour)
	}

	if cfg.CallerSkip < 0 {
		return fmt.Errorf("caller skip must be non-negative, got %d", cfg.CallerSkip)
	}

	if cfg.FileAppender {
		if cfg.LogPath == "" {
			return fmt.Errorf("log path cannot be empty when file appender is enabled")
		}
		cfg.LogPath = filepath.Clean(cfg.LogPath)
	}

	if !cfg.FileAppender && !cfg.ConsoleAppender {
		return fmt.Errorf("at least one appender (file or console) must be enabled")
	}
	return nil
}

// DefaultLogCfg returns a console-only configuration at info level.
func DefaultLogCfg() *LogCfg {
	return &LogCfg{
		LogPath:         "./conduit.log",
		LogLevel:        InfoLevel,
		FileSplitMB:     50,
		ConsoleAppender: true,
	}
}
