package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel maps a config value onto a LogLevel. Empty means info.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info", "":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", s)
	}
}

// Format selects the slog handler used for output
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatColor Format = "color"
)

// ParseFormat maps a config value onto a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colour":
		return FormatColor, nil
	default:
		return FormatText, fmt.Errorf("invalid logging format: %s (valid: text, json, color)", s)
	}
}

// Logger is the structured logger handed to every component at construction.
// It optionally tees output into a log file; that file is the run's log artifact.
type Logger struct {
	*slog.Logger
	level   LogLevel
	masker  *Masker
	file    *os.File
	logPath string
}

// Options configures NewLoggerWithOptions.
type Options struct {
	Level  LogLevel
	Format Format
	// Output defaults to os.Stdout.
	Output io.Writer
	// FilePath, when set, receives a copy of every record.
	FilePath string
	// DisableMasking turns off secret masking of attribute values.
	DisableMasking bool
}

// NewLogger creates a new structured text logger with the specified level
func NewLogger(level LogLevel) *Logger {
	l, _ := NewLoggerWithOptions(Options{Level: level, Format: FormatText})
	return l
}

// NewJSONLogger creates a structured logger with JSON output
func NewJSONLogger(level LogLevel) *Logger {
	l, _ := NewLoggerWithOptions(Options{Level: level, Format: FormatJSON})
	return l
}

// NewColorLogger creates a logger with colorized output
func NewColorLogger(level LogLevel) *Logger {
	l, _ := NewLoggerWithOptions(Options{Level: level, Format: FormatColor})
	return l
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	l, _ := NewLoggerWithOptions(Options{Level: LogLevelError, Output: io.Discard})
	return l
}

// NewLoggerWithOptions builds a logger. The error is non-nil only when the log
// file cannot be opened.
func NewLoggerWithOptions(opts Options) (*Logger, error) {
	masker := NewMasker()
	masker.SetEnabled(!opts.DisableMasking)

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var file *os.File
	if p := strings.TrimSpace(opts.FilePath); p != "" {
		if dir := filepath.Dir(p); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log directory %s: %w", dir, err)
			}
		}
		// #nosec G304 -- log path comes from operator configuration
		f, err := os.OpenFile(filepath.Clean(p), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", p, err)
		}
		file = f
		out = io.MultiWriter(out, f)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: opts.Level.ToSlogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() != slog.KindString {
				return a
			}
			masked := masker.MaskValue(a.Key, a.Value.String())
			if s, ok := masked.(string); ok {
				return slog.String(a.Key, s)
			}
			return a
		},
	}

	var handler slog.Handler
	switch opts.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, handlerOpts)
	case FormatColor:
		ch := NewColorHandler(out, handlerOpts)
		ch.SetMasker(masker)
		if file != nil {
			// the file copy would otherwise be full of escape codes
			ch.SetColorEnabled(false)
		}
		handler = ch
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	l := &Logger{
		Logger: slog.New(handler),
		level:  opts.Level,
		masker: masker,
		file:   file,
	}
	if file != nil {
		l.logPath = file.Name()
	}
	return l, nil
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

// LogFile returns the path of the log artifact, or "" when logging only to the console.
func (l *Logger) LogFile() string {
	return l.logPath
}

// Sync flushes the log file so it can be copied while the run is still open.
func (l *Logger) Sync() error {
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Mask applies the logger's masking rules to free-form text such as a connection string.
func (l *Logger) Mask(s string) string {
	if l.masker == nil {
		return s
	}
	return l.masker.MaskString(s)
}

// EnableMasking toggles secret masking.
func (l *Logger) EnableMasking(enabled bool) {
	if l.masker != nil {
		l.masker.SetEnabled(enabled)
	}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{
		Logger:  l.Logger.With(args...),
		level:   l.level,
		masker:  l.masker,
		file:    l.file,
		logPath: l.logPath,
	}
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithProvider returns a logger with database provider context
func (l *Logger) WithProvider(provider string) *Logger {
	return l.with("provider", provider)
}

// WithRun returns a logger tagged with the run identifier
func (l *Logger) WithRun(runID string) *Logger {
	return l.with("run_id", runID)
}

// WithFolder returns a logger with migrations folder context
func (l *Logger) WithFolder(folder string) *Logger {
	return l.with("folder", folder)
}

// WithScript returns a logger with script context
func (l *Logger) WithScript(script string) *Logger {
	return l.with("script", script)
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}
