package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// sink is shared by a logger and every child created with With, so that
// lines from all of them are serialized on one writer.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

// Logger writes structured JSON lines with optional PII redaction.
// Loggers are cheap to derive with With and safe for concurrent use.
type Logger struct {
	out       *sink
	level     Level
	redactPII bool
	component string
	fields    []interface{}
	now       func() time.Time
}

// Options configures New.
type Options struct {
	Level     Level
	RedactPII bool
	Component string
}

// New creates a logger writing to w. A nil writer means stderr.
func New(w io.Writer, opts Options) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		out:       &sink{w: w},
		level:     opts.Level,
		redactPII: opts.RedactPII,
		component: opts.Component,
		now:       time.Now,
	}
}

// Nop discards everything. Handy default for tests and optional wiring.
func Nop() *Logger {
	return New(io.Discard, Options{Level: ERROR + 1})
}

// With returns a child logger that adds the key/value pairs to every entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	child := *l
	child.fields = append(append([]interface{}(nil), l.fields...), fields...)
	return &child
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	child := *l
	child.component = component
	return &child
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []interface{}) {
	if l == nil || level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  l.now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}

	all := append(append([]interface{}(nil), l.fields...), fields...)
	for i := 0; i < len(all)-1; i += 2 {
		key := fmt.Sprintf("%v", all[i])
		val := fmt.Sprintf("%v", all[i+1])
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.out.mu.Lock()
	fmt.Fprintln(l.out.w, string(data))
	l.out.mu.Unlock()
}

var defaultLogger = New(os.Stderr, Options{Level: INFO, RedactPII: true})

// Default returns the process logger used during bootstrap.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the process logger. Call it once from main.
func SetDefault(l *Logger) { defaultLogger = l }

// Info emits an INFO-level entry on the process logger.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields) }

// Warn emits a WARN-level entry on the process logger.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields) }

// Error emits an ERROR-level entry on the process logger.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields) }

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") {
		return RedactEmail(val)
	}
	if strings.Contains(key, "phone") {
		return RedactPhone(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
