// Package logger is a small leveled logging wrapper used throughout qosd.
package logger

import (
	"fmt"
	"os"
	"time"
)

// Logger: Simple structured logging interface
type Logger struct {
	level LogLevel
	name  string
}

// LogLevel: Log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

var globalLogger *Logger

func init() {
	globalLogger = &Logger{
		level: InfoLevel,
		name:  "qosd",
	}
}

// Get: Get the global logger instance
func Get() *Logger {
	return globalLogger
}

// Debug: Log debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level <= DebugLevel {
		l.log(DebugLevel, format, args...)
	}
}

// Info: Log info message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level <= InfoLevel {
		l.log(InfoLevel, format, args...)
	}
}

// Warn: Log warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level <= WarnLevel {
		l.log(WarnLevel, format, args...)
	}
}

// Error: Log error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.level <= ErrorLevel {
		l.log(ErrorLevel, format, args...)
	}
}

// log: Internal logging function
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	levelStr := levelNames[level]

	message := fmt.Sprintf(format, args...)
	output := fmt.Sprintf("[%s] [%s] %s: %s\n", timestamp, l.name, levelStr, message)

	if level >= ErrorLevel {
		fmt.Fprint(os.Stderr, output)
	} else {
		fmt.Fprint(os.Stdout, output)
	}
}

// Sync: Flush any pending logs. Best effort, safe to call during shutdown.
func (l *Logger) Sync() error {
	if err := os.Stdout.Sync(); err != nil {
		return err
	}
	return os.Stderr.Sync()
}

// SetLevel: Set the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// SetLevelStr: Set log level from string, defaults to info on unknown value
func (l *Logger) SetLevelStr(levelStr string) {
	switch levelStr {
	case "debug":
		l.level = DebugLevel
	case "info":
		l.level = InfoLevel
	case "warn":
		l.level = WarnLevel
	case "error":
		l.level = ErrorLevel
	default:
		l.level = InfoLevel
	}
}

// GetLevel: Get current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetName: Set logger name
func (l *Logger) SetName(name string) {
	l.name = name
}
