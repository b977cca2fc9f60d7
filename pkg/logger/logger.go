// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

type Logger struct {
	prefix string
}

var (
	baseMu       sync.RWMutex
	baseLogger   = log.New(os.Stdout, "", log.LstdFlags)
	logFile      *os.File
	once         sync.Once
	debugEnabled bool
	debugMu      sync.RWMutex
)

// Init sends log output to stdout and logPath.
// Optionally enables debug if DEBUG env var is set.
func Init(logPath string) error {
	var err error
	once.Do(func() {
		if dir := filepath.Dir(logPath); dir != "" {
			_ = os.MkdirAll(dir, 0755)
		}
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		SetOutput(io.MultiWriter(os.Stdout, logFile))

		if os.Getenv("DEBUG") != "" {
			debugEnabled = true
		}
	})
	return err
}

// SetOutput replaces the shared writer, tests use it to capture or silence logs
func SetOutput(w io.Writer) {
	baseMu.Lock()
	baseLogger = newBaseLogger(w)
	baseMu.Unlock()
}

// Close cleans up the log file (call on shutdown)
func Close() {
	if logFile != nil {
		logFile.Close()
	}
}

// EnableDebug dynamically turns debug logging on/off
func EnableDebug(on bool) {
	debugMu.Lock()
	debugEnabled = on
	debugMu.Unlock()
}

// IsDebug returns current debug state
func IsDebug() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugEnabled
}

// New returns a logger tagging every line with prefix. Loggers created before
// Init follow the output once Init runs.
func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// With returns a logger with a nested prefix, e.g. "Learning" -> "Learning:office"
func (l *Logger) With(sub string) *Logger {
	return &Logger{prefix: l.prefix + ":" + sub}
}

func (l *Logger) printf(format string, v ...any) {
	baseMu.RLock()
	b := baseLogger
	baseMu.RUnlock()
	b.Printf(format, v...)
}

func (l *Logger) Info(fmtstr string, v ...any) {
	l.printf("[%s] INFO: %v", l.prefix, fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Warn(fmtstr string, v ...any) {
	l.printf("[%s] WARN: %v", l.prefix, fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Error(fmtstr string, v ...any) {
	l.withCaller("ERROR", fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Fatal(fmtstr string, v ...any) {
	formatted := fmt.Sprintf(fmtstr, v...)
	l.withCaller("FATAL", formatted)
	panic(formatted)
}

func (l *Logger) withCaller(level, msg string) {
	_, file, line, ok := runtime.Caller(2)
	if ok {
		l.printf("[%s] %s: (%s:%d) %s", l.prefix, level, filepath.Base(file), line, msg)
	} else {
		l.printf("[%s] %s: %v", l.prefix, level, msg)
	}
}

func (l *Logger) Debug(fmtstr string, v ...any) {
	if !IsDebug() {
		return
	}
	l.printf("[%s] DEBUG: %v", l.prefix, fmt.Sprintf(fmtstr, v...))
}
