package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/tempsys-core/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "tempsys"

// Logger is a *slog.Logger that may own an open log file. It is safe for
// concurrent use.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New builds the process logger from the logging section. Records carry
// service and version attributes. Close releases the file for output "file".
func New(cfg config.LoggingConfig, version string) (*Logger, error) {
	w, file, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	l := NewWithWriter(w, cfg, version)
	l.file = file
	return l, nil
}

// openOutput resolves cfg.Output. Unknown values fall back to stdout.
func openOutput(cfg config.LoggingConfig) (io.Writer, *os.File, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.File == "" {
			return nil, nil, errors.New("logging.file is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

// parseLevel maps debug, warn (or warning) and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a child logger carrying args. It shares the parent's output
// and must not be closed itself.
//
//	log := logger.With("component", "reaper")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Default is the JSON, info-level, stdout logger used until the config is
// loaded.
func Default() *Logger {
	return NewWithWriter(os.Stdout, config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}
