// Package log provides structured logging for cardgen.
// Entries carry a level, a category and key=value fields. Until Init is
// called every function is a no-op, so library packages can log freely
// from tests and from other programs.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Category groups related log messages.
type Category string

const (
	CatRegistry Category = "registry" // Process registry mutations
	CatExtract  Category = "extract"  // Histogram name scanning
	CatCard     Category = "card"     // Datacard writing
	CatCombine  Category = "combine"  // Card combination
	CatFit      Category = "fit"      // Fit log parsing
	CatExec     Category = "exec"     // External tool invocations
	CatConfig   Category = "config"   // Configuration loading/saving
	CatStore    Category = "store"    // Histogram store and results database
	CatCache    Category = "cache"    // Cache operations
	CatWatch    Category = "watch"    // File watcher events
	CatJobs     Category = "jobs"     // Fit job scripts and submission
	CatPipeline Category = "pipeline" // Per-channel generation
)

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	writer   io.Writer
	enabled  bool
	minLevel Level
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Init installs a logger writing to w at minLevel and above.
// Calling Init again replaces the previous logger.
func Init(w io.Writer, minLevel Level) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = &Logger{
		writer:   w,
		enabled:  true,
		minLevel: minLevel,
	}
}

// InitFile installs a logger appending to the file at path.
// Returns a cleanup function to close the log file.
func InitFile(path string, minLevel Level) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is the user's log file
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	defaultMu.Lock()
	defaultLogger = &Logger{
		file:     f,
		writer:   f,
		enabled:  true,
		minLevel: minLevel,
	}
	defaultMu.Unlock()

	return func() { _ = f.Close() }, nil
}

// Reset removes the installed logger. Used by tests.
func Reset() {
	defaultMu.Lock()
	defaultLogger = nil
	defaultMu.Unlock()
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	log(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	log(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	log(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	log(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	log(LevelError, cat, msg, fields...)
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func log(level Level, cat Category, msg string, fields ...any) {
	l := current()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || level < l.minLevel || l.writer == nil {
		return
	}

	// Format: 2025-12-06T10:45:00 [WARN] [combine] message key=value key2=value2
	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, " [%s] [%s] %s", level, cat, msg)

	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	// Odd field count: append the orphan key with no value
	if len(fields)%2 != 0 {
		fmt.Fprintf(&b, " %v=<missing>", fields[len(fields)-1])
	}
	b.WriteString("\n")

	_, _ = io.WriteString(l.writer, b.String())
}
