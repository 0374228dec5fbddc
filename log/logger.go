// Package log is the structured logger shared by every conduit component.
// Events are built fluently: log.Info().Str("remote", addr).Msg("accepted").
package log

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logger fans zerolog events out to a set of appenders.
type Logger struct {
	lock      sync.Mutex
	cfg       LogCfg
	appenders []LogAppender
	zl        atomic.Pointer[zerolog.Logger]
}

// NewLogger builds a logger from cfg. A nil cfg uses DefaultLogCfg.
func NewLogger(cfg *LogCfg) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultLogCfg()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Logger{cfg: *cfg}
	if cfg.FileAppender {
		fa, err := NewFileAppender(cfg)
		if err != nil {
			return nil, err
		}
		l.appenders = append(l.appenders, fa)
	}
	if cfg.ConsoleAppender {
		l.appenders = append(l.appenders, NewConsoleAppender())
	}
	l.rebuild()
	return l, nil
}

// rebuild swaps in a zerolog.Logger writing to the current appender set.
// Caller holds l.lock or has exclusive access.
func (l *Logger) rebuild() {
	writers := make([]io.Writer, 0, len(l.appenders))
	for _, a := range l.appenders {
		writers = append(writers, a)
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(l.cfg.LogLevel.zerologLevel()).
		With().Timestamp()
	if l.cfg.EnabledCallerInfo {
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + l.cfg.CallerSkip)
	}
	zl := ctx.Logger()
	l.zl.Store(&zl)
}

// AddAppender attaches another output destination.
func (l *Logger) AddAppender(a LogAppender) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.appenders = append(l.appenders, a)
	l.rebuild()
}

// GetAppender returns the attached appenders.
func (l *Logger) GetAppender() []LogAppender {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]LogAppender(nil), l.appenders...)
}

// SetLevel changes the minimum level without rebuilding appenders.
func (l *Logger) SetLevel(level Level) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.cfg.LogLevel = level
	l.rebuild()
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.cfg.LogLevel
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Load().Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Load().Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Load().Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Load().Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Load().Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.zl.Load().Fatal() }

// With starts a child logger carrying fixed fields.
func (l *Logger) With() zerolog.Context { return l.zl.Load().With() }

// Refresh flushes every appender.
func (l *Logger) Refresh() {
	for _, a := range l.GetAppender() {
		_ = a.Refresh()
	}
}

// Close flushes and closes every appender.
func (l *Logger) Close() {
	for _, a := range l.GetAppender() {
		_ = a.Refresh()
		_ = a.Close()
	}
}

var _defaultLogger atomic.Pointer[Logger]

func init() {
	l, _ := NewLogger(nil)
	_defaultLogger.Store(l)
}

// Initialize replaces the default logger with one built from cfg.
// If cfg is nil, the default configuration is used.
func Initialize(cfg *LogCfg) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	SetDefaultLogger(l)
	return nil
}

// SetDefaultLogger replaces the logger behind the package-level functions.
func SetDefaultLogger(logger *Logger) {
	if logger != nil {
		_defaultLogger.Store(logger)
	}
}

// Default returns the logger behind the package-level functions.
func Default() *Logger { return _defaultLogger.Load() }

// AddAppender adds an appender to the default logger.
func AddAppender(appender LogAppender) { Default().AddAppender(appender) }

// Refresh flushes the default logger.
func Refresh() { Default().Refresh() }

// Close flushes and closes the default logger's appenders.
func Close() { Default().Close() }

func Trace() *zerolog.Event { return Default().Trace() }
func Debug() *zerolog.Event { return Default().Debug() }
func Info() *zerolog.Event  { return Default().Info() }
func Warn() *zerolog.Event  { return Default().Warn() }
func Error() *zerolog.Event { return Default().Error() }
func Fatal() *zerolog.Event { return Default().Fatal() }

// With starts a child logger from the default logger.
func With() zerolog.Context { return Default().With() }
