// Structured logging for the stage controller
//
// Leveled, prefixed loggers shared by the control loop, the axis and ADC
// backends and the simulator. Output is human-readable text (optionally
// colored) or one JSON object per line.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
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

// ParseLevel parses a level name. Unknown names map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// Logger writes leveled messages for one component.
//
// Loggers derived with WithPrefix share output settings with their parent,
// so configuring the root logger reconfigures every component logger.
type Logger struct {
	prefix string
	c      *core
}

type core struct {
	mu         sync.Mutex
	writer     io.Writer
	level      LogLevel
	timeFormat string
	colorize   bool
	outFormat  OutputFormat
	caller     bool
}

// Entry is a pending log line carrying structured fields.
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger

	ansiColors = map[LogLevel]string{
		DEBUG: "\x1b[36m",
		INFO:  "\x1b[32m",
		WARN:  "\x1b[33m",
		ERROR: "\x1b[31m",
	}
	ansiReset = "\x1b[0m"
)

// New creates a new logger writing to stderr at INFO level.
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		c: &core{
			writer:     os.Stderr,
			level:      INFO,
			timeFormat: "2006-01-02 15:04:05.000",
			colorize:   os.Getenv("NO_COLOR") == "",
			outFormat:  FormatText,
		},
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	l.c.level = level
}

func (l *Logger) GetLevel() LogLevel {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.c.level
}

// SetWriter sets the output writer (e.g., for testing)
func (l *Logger) SetWriter(w io.Writer) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	l.c.writer = w
}

func (l *Logger) SetColorize(enable bool) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	l.c.colorize = enable
}

func (l *Logger) SetFormat(format OutputFormat) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	l.c.outFormat = format
}

// SetCaller enables file:line annotations.
func (l *Logger) SetCaller(enable bool) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	l.c.caller = enable
}

// IsDebug reports whether DEBUG messages are emitted.
func (l *Logger) IsDebug() bool {
	return l.GetLevel() <= DEBUG
}

// Prefix returns the component name.
func (l *Logger) Prefix() string {
	return l.prefix
}

// WithPrefix returns a logger for another component sharing this
// logger's output.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{prefix: prefix, c: l.c}
}

func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", errString(err))
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.emit(DEBUG, msg, args, nil) }
func (l *Logger) Info(msg string, args ...interface{})  { l.emit(INFO, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.emit(WARN, msg, args, nil) }
func (l *Logger) Error(msg string, args ...interface{}) { l.emit(ERROR, msg, args, nil) }

// emit is called exactly two frames below the user call site.
func (l *Logger) emit(level LogLevel, msg string, args []interface{}, fields Fields) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()

	if level < l.c.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	caller := ""
	if l.c.caller {
		caller = getCaller(3)
	}

	var out string
	if l.c.outFormat == FormatJSON {
		out = l.formatJSON(level, msg, caller, fields)
	} else {
		out = l.formatText(level, msg, caller, fields)
	}
	fmt.Fprint(l.c.writer, out)
}

func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) formatText(level LogLevel, msg, caller string, fields Fields) string {
	var sb strings.Builder

	sb.WriteString(time.Now().Format(l.c.timeFormat))
	sb.WriteString(" [")
	sb.WriteString(fmt.Sprintf("%-5s", level.String()))
	sb.WriteString("] ")
	if l.c.colorize {
		sb.WriteString(ansiColors[level])
	}
	sb.WriteString(l.prefix)
	if l.c.colorize {
		sb.WriteString(ansiReset)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)

	if caller != "" {
		sb.WriteString(" (")
		sb.WriteString(caller)
		sb.WriteString(")")
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, fields[k])
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")
	return sb.String()
}

// JSONLogEntry is the structure for JSON formatted log entries
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) formatJSON(level LogLevel, msg, caller string, fields Fields) string {
	entry := JSONLogEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Logger:    l.prefix,
		Message:   msg,
		Caller:    caller,
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal log entry: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.WithFields(Fields{key: value})
}

// WithFields returns a copy of the entry with fields merged in.
func (e *Entry) WithFields(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", errString(err))
}

func (e *Entry) Debug(msg string, args ...interface{}) { e.logger.emit(DEBUG, msg, args, e.fields) }
func (e *Entry) Info(msg string, args ...interface{})  { e.logger.emit(INFO, msg, args, e.fields) }
func (e *Entry) Warn(msg string, args ...interface{})  { e.logger.emit(WARN, msg, args, e.fields) }
func (e *Entry) Error(msg string, args ...interface{}) { e.logger.emit(ERROR, msg, args, e.fields) }

// SetDefaultLogger replaces the root logger used by GetLogger.
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetLogger returns a component logger derived from the root logger.
func GetLogger(prefix string) *Logger {
	defaultMu.Lock()
	root := defaultLogger
	if root == nil {
		root = New("stage")
		defaultLogger = root
	}
	defaultMu.Unlock()
	if prefix == "" {
		return root
	}
	return root.WithPrefix(prefix)
}

func init() {
	defaultLogger = New("stage")
	ConfigureFromEnv(defaultLogger)
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - STAGE_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - STAGE_LOG_FORMAT: text, json
//   - STAGE_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if levelStr := os.Getenv("STAGE_LOG_LEVEL"); levelStr != "" {
		l.SetLevel(ParseLevel(levelStr))
	}
	switch strings.ToLower(os.Getenv("STAGE_LOG_FORMAT")) {
	case "json":
		l.SetFormat(FormatJSON)
	case "text":
		l.SetFormat(FormatText)
	}
	if os.Getenv("STAGE_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
