package log

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// rotation decides when a log file must be moved aside.
type rotation struct {
	splitMB   int
	splitHour int
}

// due reports whether the file opened at openedAt with the given size must
// be rotated at now.
func (r rotation) due(size int64, openedAt, now time.Time) bool {
	if r.splitMB > 0 && size >= int64(r.splitMB)<<20 {
		return true
	}
	if r.splitHour == 0 || openedAt.IsZero() {
		return false
	}
	if now.Sub(openedAt) >= 24*time.Hour {
		return true
	}
	boundary := time.Date(now.Year(), now.Month(), now.Day(), r.splitHour, 0, 0, 0, now.Location())
	return openedAt.Before(boundary) && !now.Before(boundary)
}

// backupName returns a free name of the form <base><ext>.YYYYMMDD-HHMMSS.
func backupName(filePath string, now time.Time) (string, error) {
	ext := filepath.Ext(filePath)
	base := strings.TrimSuffix(filePath, ext)
	for i := 0; i < 5; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		name := fmt.Sprintf("%s%s.%s", base, ext, ts.Format("20060102-150405"))
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			return name, nil
		} else if err != nil {
			return "", fmt.Errorf("stat backup: %w", err)
		}
	}
	return "", errors.New("log: cannot generate unique backup filename")
}

func openLogFile(filePath string) (*os.File, int64, error) {
	if dir := filepath.Dir(filePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, defaultDirMode); err != nil {
			return nil, 0, fmt.Errorf("create directory: %w", err)
		}
	}
	fd, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return nil, 0, fmt.Errorf("open file: %w", err)
	}
	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, 0, fmt.Errorf("stat file: %w", err)
	}
	return fd, fi.Size(), nil
}
