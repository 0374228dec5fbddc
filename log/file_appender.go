package log

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileAppender writes log lines to a file, rotating it by size and by hour of day.
type FileAppender struct {
	lock     sync.Mutex
	fileName string
	rotation rotation
	fd       *os.File
	size     int64
	openedAt time.Time
	now      func() time.Time
}

// NewFileAppender opens (or creates) the configured log file.
func NewFileAppender(cfg *LogCfg) (*FileAppender, error) {
	if cfg.LogPath == "" {
		return nil, errors.New("log: file appender needs a path")
	}
	a := &FileAppender{
		fileName: cfg.LogPath,
		rotation: rotation{splitMB: cfg.FileSplitMB, splitHour: cfg.FileSplitHour},
		now:      time.Now,
	}
	if err := a.reopen(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *FileAppender) reopen() error {
	fd, size, err := openLogFile(a.fileName)
	if err != nil {
		return err
	}
	a.fd = fd
	a.size = size
	a.openedAt = a.now()
	return nil
}

// rotate moves the current file to a timestamped backup and opens a fresh one.
func (a *FileAppender) rotate(now time.Time) error {
	if a.fd != nil {
		if err := a.fd.Close(); err != nil {
			return fmt.Errorf("close old file: %w", err)
		}
		a.fd = nil
	}
	backup, err := backupName(a.fileName, now)
	if err != nil {
		return err
	}
	if err := os.Rename(a.fileName, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rename file: %w", err)
	}
	return a.reopen()
}

// Write appends buf, rotating the file first when a threshold is crossed.
func (a *FileAppender) Write(buf []byte) (int, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.fd == nil {
		return 0, os.ErrClosed
	}
	if now := a.now(); a.rotation.due(a.size, a.openedAt, now) {
		if err := a.rotate(now); err != nil {
			return 0, err
		}
	}
	n, err := a.fd.Write(buf)
	a.size += int64(n)
	return n, err
}

// Refresh syncs the file to disk.
func (a *FileAppender) Refresh() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.fd == nil {
		return nil
	}
	return a.fd.Sync()
}

// Close closes the underlying file. Further writes fail with os.ErrClosed.
func (a *FileAppender) Close() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.fd == nil {
		return nil
	}
	err := a.fd.Close()
	a.fd = nil
	return err
}
