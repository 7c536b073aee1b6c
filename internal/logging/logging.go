package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
)

// Level represents a log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level
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

// ParseLevel parses a level string
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed),
}

// Logger is the engine logger. It writes plain lines to an optional log
// file and colorized lines to the console.
type Logger struct {
	level   Level
	file    *os.File
	console bool
	fileLog *log.Logger
}

// Config contains logger configuration
type Config struct {
	Level   string
	File    string
	Console bool
}

// New creates a new logger
func New(cfg Config) (*Logger, error) {
	l := &Logger{
		level:   ParseLevel(cfg.Level),
		console: cfg.Console,
	}

	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		l.fileLog = log.New(f, "", 0)
	}

	if l.file == nil && !l.console {
		// No outputs configured, fall back to the console.
		l.console = true
	}

	return l, nil
}

// Close closes the logger
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a logger that prefixes every line with the given tag,
// typically an account JID.
func (l *Logger) With(tag string) *Tagged {
	return &Tagged{logger: l, tag: tag}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil || level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)

	if l.fileLog != nil {
		l.fileLog.Printf("%s [%s] %s", timestamp, level.String(), message)
	}
	if l.console {
		tag := levelColors[level].Sprintf("[%s]", level.String())
		fmt.Fprintf(os.Stderr, "%s %s %s\n", timestamp, tag, message)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// Tagged is a logger bound to a fixed prefix tag.
type Tagged struct {
	logger *Logger
	tag    string
}

// Debug logs a debug message with the tag prefix
func (t *Tagged) Debug(format string, args ...interface{}) {
	t.logger.log(LevelDebug, "%s: %s", t.tag, fmt.Sprintf(format, args...))
}

// Info logs an info message with the tag prefix
func (t *Tagged) Info(format string, args ...interface{}) {
	t.logger.log(LevelInfo, "%s: %s", t.tag, fmt.Sprintf(format, args...))
}

// Warn logs a warning message with the tag prefix
func (t *Tagged) Warn(format string, args ...interface{}) {
	t.logger.log(LevelWarn, "%s: %s", t.tag, fmt.Sprintf(format, args...))
}

// Error logs an error message with the tag prefix
func (t *Tagged) Error(format string, args ...interface{}) {
	t.logger.log(LevelError, "%s: %s", t.tag, fmt.Sprintf(format, args...))
}
