// Package logging provides level-based logging for KYCo.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger writes level-tagged lines to a single writer. All output goes to
// stderr by default so it never interferes with NDJSON or structured stdout
// consumed by IDE extensions.
type Logger struct {
	mu           sync.Mutex
	debugEnabled bool
	out          *log.Logger
}

var global = &Logger{out: log.New(os.Stderr, "", log.LstdFlags)}

// Initialize configures the global logger's debug verbosity and output writer.
func Initialize(debugMode bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.debugEnabled = debugMode
}

// SetOutput redirects the global logger (used by tests to capture output).
func SetOutput(w io.Writer) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.out = log.New(w, "", log.LstdFlags)
}

// Fields is a small structured-context map rendered as key=value pairs
// after the message, matching the teacher's tracing-flavored log calls.
type Fields map[string]any

func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}
	s := ""
	for k, v := range f {
		s += fmt.Sprintf(" %s=%v", k, v)
	}
	return s
}

func Info(format string, args ...any) {
	global.printf("INFO", format, args...)
}

func Warn(format string, args ...any) {
	global.printf("WARN", format, args...)
}

func Error(format string, args ...any) {
	global.printf("ERROR", format, args...)
}

func Debug(format string, args ...any) {
	global.mu.Lock()
	enabled := global.debugEnabled
	global.mu.Unlock()
	if !enabled {
		return
	}
	global.printf("DEBUG", format, args...)
}

// Event logs a message with structured fields, e.g.
// logging.Event("bridge", "session started", logging.Fields{"session_id": id}).
func Event(component, message string, fields Fields) {
	global.printf(component, "%s%s", message, fields.String())
}

func IsDebugEnabled() bool {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.debugEnabled
}

func (l *Logger) printf(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}
