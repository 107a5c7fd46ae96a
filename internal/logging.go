package internal

// Leveled logging shared by the dataset I/O packages. Each package
// owns a Logger so a noisy layer (say uvio scanning a malformed
// stream) can be turned up without flooding output from the rest.

import (
	"fmt"
	"log"
	"os"
)

type LogLevel int

const (
	LevelFatal LogLevel = iota // the condition will surface as a thrown fault
	LevelError                 // a call failed, the dataset is still usable
	LevelWarn                  // suspicious but tolerated (odd items, promoted bugs)
	LevelInfo                  // progress and diagnostics

	// Warnings and worse print by default; Info is opt-in.
	LogLevelDefault = LevelWarn

	LevelMin = LevelFatal
	LevelMax = LevelInfo
)

var levelToPrefix = []string{
	"FATAL ",
	"ERROR ",
	"WARN ",
	"INFO ",
}

type Logger struct {
	logLevel LogLevel
	logger   *log.Logger
}

func NewLogger() *Logger {
	return &Logger{
		logLevel: LogLevelDefault,
		logger:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) LogLevel() LogLevel {
	return l.logLevel
}

// SetLogLevel returns the old level.
func (l *Logger) SetLogLevel(level LogLevel) LogLevel {
	if level < LevelMin || level > LevelMax {
		panic("trying to set invalid log level")
	}
	old := l.logLevel
	l.logLevel = level
	return old
}

func (l *Logger) output(level LogLevel, s string) {
	if level > l.logLevel {
		return
	}
	l.logger.Output(2, levelToPrefix[level]+s)
}

func (l *Logger) Info(v ...any)                 { l.output(LevelInfo, fmt.Sprintln(v...)) }
func (l *Logger) Infof(format string, v ...any) { l.output(LevelInfo, fmt.Sprintf(format, v...)) }

func (l *Logger) Warn(v ...any)                 { l.output(LevelWarn, fmt.Sprintln(v...)) }
func (l *Logger) Warnf(format string, v ...any) { l.output(LevelWarn, fmt.Sprintf(format, v...)) }

func (l *Logger) Error(v ...any)                 { l.output(LevelError, fmt.Sprintln(v...)) }
func (l *Logger) Errorf(format string, v ...any) { l.output(LevelError, fmt.Sprintf(format, v...)) }
