package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// defaultBackgroundLoggingEnabled is the default value when no config is available.
// The runtime config option logging.background_enabled overrides this default.
const defaultBackgroundLoggingEnabled = true

// Logger provides leveled logging with verbose mode support.
type Logger struct {
	verbose bool
	level   zap.AtomicLevel
	zl      *zap.Logger
	mu      sync.RWMutex
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the singleton logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = newLogger(os.Stderr)
	})
	return loggerInstance
}

func newLogger(w io.Writer) *Logger {
	l := &Logger{level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
	l.zl = zap.New(zapcore.NewCore(consoleEncoder(), zapcore.Lock(zapcore.AddSync(w)), l.level))
	return l
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.CallerKey = ""
	return zapcore.NewConsoleEncoder(cfg)
}

// SetVerboseMode sets the verbose mode globally.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetOutput redirects the global logger, mostly for tests.
func SetOutput(w io.Writer) {
	l := GetLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = zap.New(zapcore.NewCore(consoleEncoder(), zapcore.Lock(zapcore.AddSync(w)), l.level))
}

// SetVerbose sets the verbose mode for this logger instance.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
	if verbose {
		l.level.SetLevel(zapcore.DebugLevel)
	} else {
		l.level.SetLevel(zapcore.InfoLevel)
	}
}

// IsVerbose returns whether verbose mode is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// Zap exposes the structured logger for components that log with fields.
func (l *Logger) Zap() *zap.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

// formatMessage formats a message with optional printf-style arguments.
func formatMessage(msgOrFormat string, args ...interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

// Debug logs a debug message (only shown when verbose=true).
// Can be used with a simple message or printf-style format string with args.
func (l *Logger) Debug(msgOrFormat string, args ...interface{}) {
	l.Zap().Debug(formatMessage(msgOrFormat, args...))
}

// Info logs an info message (always shown).
func (l *Logger) Info(msgOrFormat string, args ...interface{}) {
	l.Zap().Info(formatMessage(msgOrFormat, args...))
}

// Warn logs a warning message (always shown).
func (l *Logger) Warn(msgOrFormat string, args ...interface{}) {
	l.Zap().Warn(formatMessage(msgOrFormat, args...))
}

// Error logs an error message (always shown).
func (l *Logger) Error(msgOrFormat string, args ...interface{}) {
	l.Zap().Error(formatMessage(msgOrFormat, args...))
}

// Debugf is a convenience function that logs a debug message using the global logger.
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof is a convenience function that logs an info message using the global logger.
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf is a convenience function that logs a warning message using the global logger.
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf is a convenience function that logs an error message using the global logger.
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// BackgroundLogger writes JSON logs of a detached provider process to a PID-specific file.
type BackgroundLogger struct {
	logger   *zap.Logger
	logFile  *os.File
	enabled  bool
	filePath string
}

// NewBackgroundLogger creates a new background logger with a PID-specific log file.
// Uses the default enabled value. For runtime config control, use NewBackgroundLoggerWithEnabled.
func NewBackgroundLogger(name string) (*BackgroundLogger, error) {
	return NewBackgroundLoggerWithEnabled(name, defaultBackgroundLoggingEnabled)
}

// NewBackgroundLoggerWithEnabled creates a background logger with explicit enabled control.
// Pass config.IsBackgroundLoggingEnabled() to honor the logging.background_enabled config.
func NewBackgroundLoggerWithEnabled(name string, enabled bool) (*BackgroundLogger, error) {
	if !enabled {
		return &BackgroundLogger{logger: zap.NewNop()}, nil
	}

	logPath := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.log", name, os.Getpid()))
	return NewBackgroundLoggerWithPath(logPath)
}

// NewBackgroundLoggerWithPath creates a background logger with a custom path.
func NewBackgroundLoggerWithPath(path string) (*BackgroundLogger, error) {
	bl := &BackgroundLogger{
		filePath: path,
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Gracefully degrade to a no-op logger
		bl.logger = zap.NewNop()
		return bl, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	bl.logFile = file
	bl.logger = zap.New(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(file), zapcore.DebugLevel),
		zap.AddCaller(),
	)
	bl.enabled = true
	return bl, nil
}

// Logger returns the structured logger writing to the file.
func (bl *BackgroundLogger) Logger() *zap.Logger {
	if bl.logger == nil {
		return zap.NewNop()
	}
	return bl.logger
}

// Printf logs a formatted message.
func (bl *BackgroundLogger) Printf(format string, args ...interface{}) {
	bl.Logger().Info(fmt.Sprintf(format, args...))
}

// Close flushes and closes the log file.
func (bl *BackgroundLogger) Close() {
	if bl.logger != nil {
		_ = bl.logger.Sync()
	}
	if bl.logFile != nil {
		_ = bl.logFile.Close()
		bl.logFile = nil
	}
	// After close, switch to a no-op logger for graceful degradation
	bl.logger = zap.NewNop()
	bl.enabled = false
}

// GetLogPath returns the log file path.
func (bl *BackgroundLogger) GetLogPath() string {
	return bl.filePath
}

// IsEnabled returns whether background logging is enabled.
func (bl *BackgroundLogger) IsEnabled() bool {
	return bl.enabled
}
