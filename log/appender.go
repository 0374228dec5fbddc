package log

import "io"

// LogAppender is a log output destination. Implementations must be safe for
// concurrent use.
type LogAppender interface {
	io.Writer

	// Refresh forces buffered data to the underlying storage.
	Refresh() error

	// Close flushes and releases the destination.
	Close() error
}
