package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a log severity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent // suppresses everything
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "SILENT"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelSilent {
		return "Level(" + strconv.Itoa(int(l)) + ")"
	}
	return levelNames[l]
}

// ParseLevel accepts the level names case-insensitively, plus "warning" and
// "off". An empty string selects info.
func ParseLevel(s string) (Level, error) {
	switch u := strings.ToUpper(s); u {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	case "OFF":
		return LevelSilent, nil
	default:
		if i := slices.Index(levelNames[:], u); i >= 0 {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q (use debug, info, warn, error or silent)", s)
}

// Format selects how entries are encoded.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses "text" or "json". An empty string selects text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format %q", s)
}

// Fields are structured key/value pairs attached to an entry.
type Fields map[string]any

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	format Format
	color  bool
	now    func() time.Time
	level  atomic.Int32
}

// Logger writes leveled, structured entries. Loggers derived with With or
// Named share their parent's output, lock and level.
type Logger struct {
	sink   *sink
	name   string
	fields Fields
}

// LoggerOption configures NewLogger.
type LoggerOption func(*Logger)

// WithOutput sets the destination. The default is stdout.
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) { l.sink.out = w }
}

func WithLevel(level Level) LoggerOption {
	return func(l *Logger) { l.sink.level.Store(int32(level)) }
}

func WithFormat(format Format) LoggerOption {
	return func(l *Logger) { l.sink.format = format }
}

// WithColor colors the level column of text output.
func WithColor(on bool) LoggerOption {
	return func(l *Logger) { l.sink.color = on }
}

// WithFields attaches fields to every entry.
func WithFields(fields Fields) LoggerOption {
	return func(l *Logger) { l.fields = maps.Clone(fields) }
}

func WithName(name string) LoggerOption {
	return func(l *Logger) { l.name = name }
}

// NewLogger returns an info-level text logger on stdout, adjusted by opts.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{sink: &sink{out: os.Stdout, now: time.Now}}
	l.sink.level.Store(int32(LevelInfo))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields Fields) *Logger {
	merged := maps.Clone(l.fields)
	if merged == nil {
		merged = make(Fields, len(fields))
	}
	maps.Copy(merged, fields)
	return &Logger{sink: l.sink, name: l.name, fields: merged}
}

// Named returns a logger whose name is extended with a dot-separated
// component, e.g. "backend.session".
func (l *Logger) Named(name string) *Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return &Logger{sink: l.sink, name: name, fields: l.fields}
}

// SetLevel changes the level for this logger and all loggers sharing its
// output.
func (l *Logger) SetLevel(level Level) {
	l.sink.level.Store(int32(level))
}

// Enabled reports whether entries at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level != LevelSilent && level >= Level(l.sink.level.Load())
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra []Fields) {
	if !l.Enabled(level) {
		return
	}
	fields := l.fields
	if len(extra) > 0 {
		fields = maps.Clone(l.fields)
		if fields == nil {
			fields = make(Fields)
		}
		for _, f := range extra {
			maps.Copy(fields, f)
		}
	}

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	var line []byte
	if s.format == FormatJSON {
		line = l.encodeJSON(s.now(), level, msg, fields)
	} else {
		line = l.encodeText(s.now(), level, msg, fields)
	}
	_, _ = s.out.Write(line)
}

func (l *Logger) encodeJSON(ts time.Time, level Level, msg string, fields Fields) []byte {
	entry := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["time"] = ts.Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.name != "" {
		entry["logger"] = l.name
	}
	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(map[string]string{
			"time":  entry["time"].(string),
			"level": level.String(),
			"msg":   msg,
			"error": "unencodable fields: " + err.Error(),
		})
	}
	return append(data, '\n')
}

func (l *Logger) encodeText(ts time.Time, level Level, msg string, fields Fields) []byte {
	var b strings.Builder
	b.WriteString(ts.Format("15:04:05.000"))
	b.WriteByte(' ')
	if l.sink.color {
		b.WriteString(levelColors[level])
	}
	fmt.Fprintf(&b, "%-5s", level)
	if l.sink.color {
		b.WriteString(colorReset)
	}
	if l.name != "" {
		b.WriteString(" [")
		b.WriteString(l.name)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(textValue(fields[k]))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// textValue quotes values that would otherwise be ambiguous in key=value
// output.
func textValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

const colorReset = "\033[0m"

var levelColors = map[Level]string{
	LevelDebug: "\033[90m",
	LevelInfo:  "\033[34m",
	LevelWarn:  "\033[33m",
	LevelError: "\033[31m",
}

var globalLogger atomic.Pointer[Logger]

func init() {
	globalLogger.Store(NewLogger(WithOutput(os.Stderr), WithLevel(LevelWarn)))
}

// SetLogger replaces the process-wide logger returned by GetLogger.
func SetLogger(l *Logger) {
	globalLogger.Store(l)
}

// GetLogger returns the process-wide logger. Components built without an
// explicit logger fall back to it.
func GetLogger() *Logger {
	return globalLogger.Load()
}

// NullLogger discards everything.
func NullLogger() *Logger {
	return NewLogger(WithOutput(io.Discard), WithLevel(LevelSilent))
}

// TestLogger writes debug-level text to w.
func TestLogger(w io.Writer) *Logger {
	return NewLogger(WithOutput(w), WithLevel(LevelDebug))
}
