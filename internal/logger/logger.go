package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Environment variables read by InitFromEnv.
const (
	envLogPath  = "JSONSTATE_LOG"
	envLogLevel = "JSONSTATE_LOG_LEVEL"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu      sync.Mutex
	std     *log.Logger
	logFile *os.File
	level   = LevelInfo
)

// InitFromEnv configures the logger from JSONSTATE_LOG and
// JSONSTATE_LOG_LEVEL. Without a path, logs go to stderr.
func InitFromEnv() error {
	SetLevel(ParseLevel(os.Getenv(envLogLevel)))
	path := os.Getenv(envLogPath)
	if path == "" {
		SetOutput(os.Stderr)
		return nil
	}
	return Init(path)
}

// Init writes logs to the provided file path, creating parent directories
// and appending to an existing file.
func Init(path string) error {
	if err := ensureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	std = newLogger(f)
	return nil
}

// SetOutput redirects logs to w. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		std = nil
		return
	}
	std = newLogger(w)
}

// SetLevel drops messages below l.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// ParseLevel maps "debug", "warn" and "error" to levels; anything else is
// info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Close closes the underlying log file, if open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		std = nil
		return err
	}
	return nil
}

// Debugf logs diagnostic detail, emitted only at LevelDebug.
func Debugf(format string, args ...any) { write(LevelDebug, "DEBUG", format, args...) }

// Infof logs informational messages.
func Infof(format string, args ...any) { write(LevelInfo, "INFO", format, args...) }

// Warnf logs warnings.
func Warnf(format string, args ...any) { write(LevelWarn, "WARN", format, args...) }

// Errorf logs errors.
func Errorf(format string, args ...any) { write(LevelError, "ERROR", format, args...) }

func newLogger(w io.Writer) *log.Logger {
	return log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
}

func write(l Level, tag string, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}
	if std == nil {
		std = newLogger(os.Stderr)
	}
	std.Printf("[%s] %s", tag, fmt.Sprintf(format, args...))
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Printer adapts the logger to interfaces that only need Print, such as
// chi's request logger. Lines are written at LevelInfo under tag.
func Printer(tag string) interface{ Print(v ...any) } {
	return printer(tag)
}

type printer string

func (p printer) Print(v ...any) { write(LevelInfo, string(p), "%s", fmt.Sprint(v...)) }
