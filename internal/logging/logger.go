package logging

import (
	"fmt"
	"sync"
	"time"
)

// RequestLog is one control-plane HTTP call, timed start-to-finish.
type RequestLog struct {
	Timestamp  time.Time
	RequestID  string
	Method     string
	Path       string
	Status     int
	DurationMs int64
}

// Logger handles request logging, independent of the operational logger
// returned by Op().
type Logger struct {
	mu      sync.Mutex
	enabled bool
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default request logger.
func Default() *Logger { return defaultLogger }

// SetConsole enables/disables console output of request logs.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a request log entry.
func (l *Logger) Log(entry *RequestLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console {
		fmt.Printf("[request] %s %s %s %d %dms\n",
			entry.RequestID, entry.Method, entry.Path, entry.Status, entry.DurationMs)
	}
}
