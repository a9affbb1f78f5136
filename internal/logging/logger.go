/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package logging provides component-scoped structured logging for the page cache.

Each subsystem owns a logger named after itself (bufferpool, scheduler,
flusher, prefetch, checkpoint, engine, metrics). Messages carry key-value
pairs in the order they were given:

	logger := logging.NewLogger("bufferpool")
	logger.Debug("Evicted frame", "frame", fid, "page", pid, "dirty", dirty)
	logger.Warn("Forced synchronous flush", "dirty", n, "limit", max)

Output is either a single text line per entry (coloured when the sink is a
terminal) or one JSON object per line. Level, sink and format are process
wide and may be changed at any time; existing loggers pick up the change on
their next call.
*/
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Level represents the severity of a log message.
type Level int

const (
	// DEBUG level for per-operation detail (misses, evictions).
	DEBUG Level = iota
	// INFO level for lifecycle events.
	INFO
	// WARN level for degraded but recoverable conditions.
	WARN
	// ERROR level for corruption and permanent failures.
	ERROR
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Field is one key-value pair attached to an entry.
type Field struct {
	Key   string
	Value interface{}
}

// Entry represents a single log entry.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Component string
	Message   string
	Fields    []Field
}

// MarshalJSON flattens fields into the top-level object.
func (e Entry) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(e.Fields)+4)
	for _, f := range e.Fields {
		if err, ok := f.Value.(error); ok {
			m[f.Key] = err.Error()
			continue
		}
		m[f.Key] = f.Value
	}
	m["ts"] = e.Timestamp.Format(time.RFC3339Nano)
	m["level"] = e.Level.String()
	m["component"] = e.Component
	m["msg"] = e.Message
	return json.Marshal(m)
}

type sink struct {
	level    Level
	output   io.Writer
	jsonMode bool
	color    bool
}

var (
	global   = sink{level: INFO, output: os.Stderr, color: isTerminal(os.Stderr)}
	globalMu sync.RWMutex
	writeMu  sync.Mutex
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetGlobalLevel sets the minimum level written by every logger.
func SetGlobalLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.level = level
}

// GlobalLevel returns the current minimum level.
func GlobalLevel() Level {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global.level
}

// SetGlobalOutput redirects every logger to w.
func SetGlobalOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.output = w
	global.color = isTerminal(w)
}

// SetJSONMode switches between text and JSON lines.
func SetJSONMode(enabled bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.jsonMode = enabled
}

// Logger writes entries tagged with a component name.
type Logger struct {
	component string
	fields    []Field
}

// NewLogger creates a new Logger for the specified component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// With returns a logger that prepends the given key-value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := make([]Field, 0, len(l.fields)+len(args)/2)
	fields = append(fields, l.fields...)
	fields = append(fields, toFields(args)...)
	return &Logger{component: l.component, fields: fields}
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= GlobalLevel()
}

func toFields(args []interface{}) []Field {
	fields := make([]Field, 0, (len(args)+1)/2)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		fields = append(fields, Field{Key: key, Value: args[i+1]})
	}
	if len(args)%2 != 0 {
		fields = append(fields, Field{Key: "extra", Value: args[len(args)-1]})
	}
	return fields
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	globalMu.RLock()
	s := global
	globalMu.RUnlock()

	if level < s.level {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Component: l.component,
		Message:   msg,
		Fields:    append(append([]Field(nil), l.fields...), toFields(args)...),
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if s.jsonMode {
		writeJSON(s.output, entry)
	} else {
		writeText(s.output, entry, s.color)
	}
}

func writeJSON(w io.Writer, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(w, "ERROR: failed to marshal log entry: %v\n", err)
		return
	}
	w.Write(append(data, '\n'))
}

var levelColors = map[Level]string{
	DEBUG: "\033[36m",
	INFO:  "\033[32m",
	WARN:  "\033[33m",
	ERROR: "\033[31m",
}

// writeText formats: 2006-01-02T15:04:05.000Z [LEVEL] [component] message key=value ...
func writeText(w io.Writer, entry Entry, color bool) {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')
	if color {
		b.WriteString(levelColors[entry.Level])
	}
	fmt.Fprintf(&b, "[%-5s]", entry.Level)
	if color {
		b.WriteString("\033[0m")
	}
	fmt.Fprintf(&b, " [%s] %s", entry.Component, entry.Message)
	for _, f := range entry.Fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteByte('\n')
	io.WriteString(w, b.String())
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}

// ============================================================================
// Operation Timing
// ============================================================================

// Timer measures a long-running operation such as a checkpoint or batch flush.
type Timer struct {
	logger *Logger
	op     string
	start  time.Time
}

// StartTimer begins timing op.
func (l *Logger) StartTimer(op string) *Timer {
	return &Timer{logger: l, op: op, start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Done logs completion of the operation at INFO with its duration.
func (t *Timer) Done(args ...interface{}) {
	base := []interface{}{"op", t.op, "duration_ms", fmt.Sprintf("%.2f", float64(t.Elapsed().Microseconds())/1000.0)}
	t.logger.Info("Operation complete", append(base, args...)...)
}
