package log

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferAppender struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bufferAppender) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
func (b *bufferAppender) Refresh() error { return nil }
func (b *bufferAppender) Close() error   { return nil }
func (b *bufferAppender) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFileLogging(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	cfg := &LogCfg{
		LogPath:           logPath,
		LogLevel:          DebugLevel,
		FileSplitMB:       10,
		FileAppender:      true,
		EnabledCallerInfo: true,
	}
	prev := Default()
	require.NoError(t, Initialize(cfg))
	defer SetDefaultLogger(prev)

	Info().Str("component", "test").Msg("this is a test message")
	Debug().Msg("debug line")
	Trace().Msg("trace line is filtered")
	Close()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	out := string(content)
	assert.Contains(t, out, "this is a test message")
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"component":"test"`)
	assert.Contains(t, out, "debug line")
	assert.NotContains(t, out, "trace line is filtered")
	assert.Contains(t, out, "log_test.go")
}

func TestLoggerLevelAndAppender(t *testing.T) {
	l, err := NewLogger(&LogCfg{LogLevel: WarnLevel, ConsoleAppender: true})
	require.NoError(t, err)

	b := &bufferAppender{}
	l.AddAppender(b)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	assert.NotContains(t, b.String(), "hidden")
	assert.Contains(t, b.String(), "shown")

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
	l.Debug().Msg("now visible")
	assert.Contains(t, b.String(), "now visible")

	child := l.With().Str("channel_id", "abc").Logger()
	child.Warn().Msg("child")
	assert.Contains(t, b.String(), `"channel_id":"abc"`)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace": TraceLevel, "DEBUG": DebugLevel, "Info": InfoLevel,
		"warning": WarnLevel, "error": ErrorLevel, "fatal": FatalLevel, "bogus": InfoLevel,
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}

	var lv Level
	require.NoError(t, lv.UnmarshalText([]byte("error")))
	assert.Equal(t, ErrorLevel, lv)
	txt, err := lv.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "error", string(txt))
}

func TestCfgValidate(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		assert.NoError(t, DefaultLogCfg().Validate())
	})
	t.Run("NoAppender", func(t *testing.T) {
		cfg := &LogCfg{LogLevel: InfoLevel}
		assert.Error(t, cfg.Validate())
	})
	t.Run("FileWithoutPath", func(t *testing.T) {
		cfg := &LogCfg{LogLevel: InfoLevel, FileAppender: true}
		assert.Error(t, cfg.Validate())
	})
	t.Run("BadLevel", func(t *testing.T) {
		cfg := &LogCfg{LogLevel: 42, ConsoleAppender: true}
		assert.Error(t, cfg.Validate())
	})
	t.Run("BadHour", func(t *testing.T) {
		cfg := &LogCfg{LogLevel: InfoLevel, ConsoleAppender: true, FileSplitHour: 24}
		assert.Error(t, cfg.Validate())
	})
}

func TestFileAppenderRotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "rot.log")

	a, err := NewFileAppender(&LogCfg{LogPath: logPath, FileSplitMB: 1})
	require.NoError(t, err)
	defer a.Close()

	big := bytes.Repeat([]byte("x"), 1<<20)
	_, err = a.Write(big)
	require.NoError(t, err)
	_, err = a.Write([]byte("after rotation\n"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "after rotation\n", string(content))

	require.NoError(t, a.Close())
	_, err = a.Write([]byte("closed"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotationByHour(t *testing.T) {
	r := rotation{splitHour: 3}
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	assert.False(t, r.due(0, day.Add(1*time.Hour), day.Add(2*time.Hour)))
	assert.True(t, r.due(0, day.Add(1*time.Hour), day.Add(4*time.Hour)))
	assert.False(t, r.due(0, day.Add(4*time.Hour), day.Add(5*time.Hour)))
	assert.True(t, r.due(0, day, day.Add(25*time.Hour)))
	assert.False(t, rotation{}.due(1<<40, day, day.Add(48*time.Hour)))
}
