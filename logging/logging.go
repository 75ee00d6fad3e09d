// Package logging provides leveled key=value log output for the
// coordination engine. Warnings cover the engine's silent no-op paths
// (duplicate or not-yet-available enqueues) and isolated subscriber
// failures; everything else is informational.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel maps a config string to a Level. Unknown values default
// to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides structured logging with component tagging.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger writing to stdout at Info level.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs, sorted by key
// so output is stable.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Lifecycle logging helpers ---
// Thin wrappers used by the queue, graph, and coordinator so log lines
// stay uniform across components.

// TaskEnqueued logs a task entering a pending queue.
func (l *Logger) TaskEnqueued(taskID, agentID string, queueSize int) {
	l.Debug("task_enqueued", map[string]interface{}{
		"task":       taskID,
		"agent":      agentID,
		"queue_size": queueSize,
	})
}

// TaskAssigned logs a task being handed to an agent.
func (l *Logger) TaskAssigned(taskID, agentID string) {
	l.Info("task_assigned", map[string]interface{}{
		"task":  taskID,
		"agent": agentID,
	})
}

// TaskCompleted logs a task reaching completion.
func (l *Logger) TaskCompleted(taskID string, duration time.Duration) {
	l.Info("task_completed", map[string]interface{}{
		"task":     taskID,
		"duration": duration.String(),
	})
}

// TaskFailed logs a task failure.
func (l *Logger) TaskFailed(taskID, reason string, retryable bool) {
	l.Warn("task_failed", map[string]interface{}{
		"task":      taskID,
		"reason":    reason,
		"retryable": retryable,
	})
}

// TaskUnblocked logs a task whose dependencies all completed.
func (l *Logger) TaskUnblocked(taskID string) {
	l.Info("task_unblocked", map[string]interface{}{
		"task": taskID,
	})
}

// ClaimResolved logs the outcome of a claim resolution round.
func (l *Logger) ClaimResolved(taskID, winner string, losers int, reason string) {
	l.Info("claim_resolved", map[string]interface{}{
		"task":   taskID,
		"winner": winner,
		"losers": losers,
		"reason": reason,
	})
}

// CycleDetected logs a dependency cycle. Detection is non-fatal; the
// caller decides policy.
func (l *Logger) CycleDetected(cycle []string) {
	l.Warn("dependency_cycle", map[string]interface{}{
		"cycle": strings.Join(cycle, "->"),
	})
}

// SubscriberPanic logs a recovered panic from a subscriber callback.
func (l *Logger) SubscriberPanic(source string, recovered interface{}) {
	l.Error("subscriber_panic", map[string]interface{}{
		"source": source,
		"panic":  fmt.Sprintf("%v", recovered),
	})
}
