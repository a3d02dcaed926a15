// Package logger configures the process-wide slog logger used by the taskq command.
// Output goes to stderr, or to a log file rotated by lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severities understood by SetLogLevel, from most to least verbose.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

const (
	LevelTrace = slog.Level(-8)
	// Nothing is logged at or above this level
	LevelOff = slog.Level(12)
)

// Config controls where and how log records are written
type Config struct {
	Severity string
	Format   string
	FilePath string

	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

var (
	programLevel = new(slog.LevelVar)

	mu            sync.Mutex
	defaultLogger = slog.New(newHandler(os.Stderr, "text"))
	closer        io.Closer
)

// Init replaces the default logger according to cfg. A non-empty FilePath sends
// records to a rotating file, otherwise they go to stderr.
func Init(cfg Config) error {
	if err := SetLogLevel(cfg.Severity); err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	var c io.Closer
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxFileSizeMB,
			MaxBackups: cfg.BackupFileCount,
			Compress:   cfg.Compress,
		}
		out, c = lj, lj
	}

	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		closer.Close()
	}
	closer = c
	defaultLogger = slog.New(newHandler(out, cfg.Format))

	return nil
}

// Close closes the log file, if any, and reverts to logging on stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	defaultLogger = slog.New(newHandler(os.Stderr, "text"))
	if closer == nil {
		return nil
	}

	err := closer.Close()
	closer = nil
	return err
}

// Default returns the logger configured by Init
func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	return defaultLogger
}

// SetLogLevel sets the minimum severity of the records that are written.
func SetLogLevel(severity string) error {
	switch strings.ToUpper(severity) {
	case TRACE:
		programLevel.Set(LevelTrace)
	case DEBUG:
		programLevel.Set(slog.LevelDebug)
	case INFO, "":
		programLevel.Set(slog.LevelInfo)
	case WARNING:
		programLevel.Set(slog.LevelWarn)
	case ERROR:
		programLevel.Set(slog.LevelError)
	case OFF:
		programLevel.Set(LevelOff)
	default:
		return fmt.Errorf("unknown log severity: %q", severity)
	}
	return nil
}

func newHandler(out io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: programLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey {
				return a
			}
			level := a.Value.Any().(slog.Level)
			switch {
			case level < slog.LevelDebug:
				a.Value = slog.StringValue(TRACE)
			case level >= slog.LevelWarn && level < slog.LevelError:
				a.Value = slog.StringValue(WARNING)
			}
			return a
		},
	}

	if format == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// Tracef logs a message at TRACE severity
func Tracef(format string, v ...any) {
	logf(LevelTrace, format, v...)
}

// Debugf logs a message at DEBUG severity
func Debugf(format string, v ...any) {
	logf(slog.LevelDebug, format, v...)
}

// Infof logs a message at INFO severity
func Infof(format string, v ...any) {
	logf(slog.LevelInfo, format, v...)
}

// Warnf logs a message at WARNING severity
func Warnf(format string, v ...any) {
	logf(slog.LevelWarn, format, v...)
}

// Errorf logs a message at ERROR severity
func Errorf(format string, v ...any) {
	logf(slog.LevelError, format, v...)
}

func logf(level slog.Level, format string, v ...any) {
	logger := Default()
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.Log(ctx, level, fmt.Sprintf(format, v...))
}
