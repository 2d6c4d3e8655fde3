package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewLogger builds a slog.Logger over w using the project's line format.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewDiscardLogger returns a logger that drops everything. Used when a log
// file cannot be opened; the server must never fail to start over logging.
func NewDiscardLogger() *slog.Logger {
	return slog.New(NewHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(100)}))
}

// LevelFromString maps "debug"/"info"/"warn"/"error" (case-insensitive) to a
// slog.Level, defaulting to info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Subsystem identifies which log file a logger is destined for.
type Subsystem string

const (
	SubsystemMCP   Subsystem = "mcp"
	SubsystemIndex Subsystem = "index"
	SubsystemAudit Subsystem = "audit"
)

// Factory builds per-subsystem loggers rooted at <data_dir>/logs/, honoring
// rotation settings and a CLI-supplied level override.
type Factory struct {
	dataDir    string
	level      slog.Level
	maxSize    string
	maxBackups int
	closers    []io.Closer
}

// NewFactory creates a logger factory writing under dataDir/logs.
// level is the minimum level of every subsystem logger it builds.
func NewFactory(dataDir string, level slog.Level, maxSize string, maxBackups int) *Factory {
	return &Factory{dataDir: dataDir, level: level, maxSize: maxSize, maxBackups: maxBackups}
}

func (f *Factory) logPath(name string) string {
	return filepath.Join(f.dataDir, "logs", name+".log")
}

// Logger returns the configured logger for the given subsystem, falling
// back to a discard logger if the file cannot be opened.
func (f *Factory) Logger(sub Subsystem) *slog.Logger {
	if f.dataDir == "" {
		return NewDiscardLogger()
	}
	path := f.logPath(string(sub))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return NewDiscardLogger()
	}

	size := ParseSize(f.maxSize)
	if size <= 0 {
		logger, fh, err := newFileLogger(path, f.level)
		if err != nil {
			return NewDiscardLogger()
		}
		f.closers = append(f.closers, fh)
		return logger
	}

	sk, err := openSink(sub, path, size, f.maxBackups)
	if err != nil {
		return NewDiscardLogger()
	}
	f.closers = append(f.closers, sk)
	return NewLogger(sk, f.level)
}

func newFileLogger(path string, level slog.Level) (*slog.Logger, *os.File, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return NewLogger(fh, level), fh, nil
}

// Close closes every log file this factory opened.
func (f *Factory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
