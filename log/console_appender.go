package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ConsoleAppender writes human readable log lines to stdout.
type ConsoleAppender struct {
	out io.Writer
}

// NewConsoleAppender creates a ConsoleAppender backed by zerolog's console writer.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{
		out: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
	}
}

// Write implements io.Writer.
func (ca *ConsoleAppender) Write(buf []byte) (int, error) {
	return ca.out.Write(buf)
}

// Refresh is a no-op; console output is unbuffered.
func (ca *ConsoleAppender) Refresh() error {
	return nil
}

// Close is a no-op.
func (ca *ConsoleAppender) Close() error {
	return nil
}
