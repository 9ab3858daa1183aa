package common

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ANSI color codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"
)

// keys whose values identify what a migration line is about
var subjectKeys = map[string]string{
	"database":    Bold + Blue,
	"script":      Bold + White,
	"folder":      Blue,
	"version":     Magenta,
	"old_version": Magenta,
	"new_version": Magenta,
	"run_id":      Gray,
}

var levelLabels = map[slog.Level]struct{ label, color string }{
	slog.LevelDebug: {"[DEBUG]", Gray},
	slog.LevelInfo:  {"[INFO ]", Green},
	slog.LevelWarn:  {"[WARN ]", Yellow},
	slog.LevelError: {"[ERROR]", Red},
}

// ColorHandler is a human-oriented slog handler for terminal runs. The
// component attribute and any groups are pulled into a bracketed prefix.
type ColorHandler struct {
	opts      *slog.HandlerOptions
	out       *lockedWriter
	attrs     []slog.Attr
	groups    []string
	component string
	masker    *Masker
	useColor  bool
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(p)
	return err
}

// NewColorHandler returns a handler writing to w. Colors are on only when w
// is a terminal.
func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ColorHandler{
		opts:     opts,
		out:      &lockedWriter{w: w},
		useColor: shouldUseColor(w),
		masker:   NewMasker(),
	}
}

func shouldUseColor(w io.Writer) bool {
	if runtime.GOOS == "windows" {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isTerminal(f)
	}
	return false
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.opts.Level != nil {
		threshold = h.opts.Level.Level()
	}
	return level >= threshold
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if !r.Time.IsZero() {
		b.WriteString(h.colorize(Gray, r.Time.Format(time.DateTime)))
		b.WriteByte(' ')
	}
	b.WriteString(h.formatLevel(r.Level))
	b.WriteByte(' ')

	component := h.component
	attrs := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
			return true
		}
		attrs = append(attrs, a)
		return true
	})
	if prefix := h.prefix(component); prefix != "" {
		b.WriteString(h.colorize(Cyan, "["+prefix+"]"))
		b.WriteByte(' ')
	}

	msgColor := White
	if r.Level >= slog.LevelError {
		msgColor = Red
	}
	b.WriteString(h.colorize(msgColor, r.Message))

	for _, a := range h.maskAttributes(attrs) {
		b.WriteByte(' ')
		b.WriteString(h.colorize(Cyan, a.Key))
		b.WriteByte('=')
		if c, ok := subjectKeys[a.Key]; ok && a.Value.Kind() == slog.KindString {
			b.WriteString(h.colorize(c, strconv.Quote(a.Value.String())))
			continue
		}
		b.WriteString(h.formatValue(a.Value))
	}
	b.WriteByte('\n')
	return h.out.write([]byte(b.String()))
}

func (h *ColorHandler) prefix(component string) string {
	parts := make([]string, 0, len(h.groups)+1)
	if component != "" {
		parts = append(parts, component)
	}
	return strings.Join(append(parts, h.groups...), ".")
}

func (h *ColorHandler) formatLevel(level slog.Level) string {
	l, ok := levelLabels[level]
	if !ok {
		return h.colorize(White, "[UNKNOWN]")
	}
	return h.colorize(l.color, l.label)
}

func (h *ColorHandler) formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		switch {
		case h.isErrorLike(s):
			return h.colorize(Red, strconv.Quote(s))
		case h.isSuccessLike(s):
			return h.colorize(Green, strconv.Quote(s))
		}
		return h.colorize(White, strconv.Quote(s))
	case slog.KindInt64:
		return h.colorize(Magenta, strconv.FormatInt(v.Int64(), 10))
	case slog.KindUint64:
		return h.colorize(Magenta, strconv.FormatUint(v.Uint64(), 10))
	case slog.KindFloat64:
		return h.colorize(Magenta, strconv.FormatFloat(v.Float64(), 'g', -1, 64))
	case slog.KindBool:
		if v.Bool() {
			return h.colorize(Green, "true")
		}
		return h.colorize(Red, "false")
	case slog.KindDuration:
		return h.colorize(Yellow, v.Duration().String())
	case slog.KindTime:
		return h.colorize(Gray, v.Time().Format(time.RFC3339))
	}
	return h.colorize(White, v.String())
}

func (h *ColorHandler) isErrorLike(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "error") || strings.Contains(s, "fail") ||
		strings.Contains(s, "rolled back")
}

func (h *ColorHandler) isSuccessLike(s string) bool {
	s = strings.ToLower(s)
	switch s {
	case "ok", "executed", "committed", "created":
		return true
	}
	return strings.Contains(s, "success") || strings.Contains(s, "complete")
}

func (h *ColorHandler) colorize(color, text string) string {
	if !h.useColor {
		return text
	}
	return color + text + Reset
}

func (h *ColorHandler) maskAttributes(attrs []slog.Attr) []slog.Attr {
	if h.masker == nil || !h.masker.IsEnabled() {
		return attrs
	}
	for i, a := range attrs {
		if a.Value.Kind() != slog.KindString {
			continue
		}
		if s, ok := h.masker.MaskValue(a.Key, a.Value.String()).(string); ok {
			attrs[i] = slog.String(a.Key, s)
		}
	}
	return attrs
}

func (h *ColorHandler) clone() *ColorHandler {
	c := *h
	c.attrs = slices.Clone(h.attrs)
	c.groups = slices.Clone(h.groups)
	return &c
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		if a.Key == "component" {
			c.component = a.Value.String()
			continue
		}
		c.attrs = append(c.attrs, a)
	}
	return c
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.groups = append(c.groups, name)
	return c
}

// SetMasker replaces the masker applied to string attributes.
func (h *ColorHandler) SetMasker(masker *Masker) { h.masker = masker }

// SetColorEnabled overrides terminal detection.
func (h *ColorHandler) SetColorEnabled(enabled bool) { h.useColor = enabled }
