// Package eventlog fans engine log records out to the process log and any
// registered sinks (websocket hub, database).
package eventlog

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vikasavnish/autotrade/internal/models"
)

// Sink receives every record. Publish must not block.
type Sink interface {
	Publish(rec models.LogRecord)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec models.LogRecord)

func (f SinkFunc) Publish(rec models.LogRecord) { f(rec) }

type Logger struct {
	mu    sync.RWMutex
	sinks []Sink
	now   func() time.Time
}

func New(now func() time.Time, sinks ...Sink) *Logger {
	if now == nil {
		now = time.Now
	}
	return &Logger{sinks: sinks, now: now}
}

// AddSink registers another destination.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, s)
	l.mu.Unlock()
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(models.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.Log(models.LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(models.LevelError, fmt.Sprintf(format, args...))
}

func (l *Logger) Success(format string, args ...interface{}) {
	l.Log(models.LevelSuccess, fmt.Sprintf(format, args...))
}

// Log emits one record.
func (l *Logger) Log(level models.LogLevel, msg string) {
	rec := models.LogRecord{Time: l.now(), Message: msg, Level: level}
	log.Printf("[AutoTrade] %s %s", level, msg)

	l.mu.RLock()
	sinks := l.sinks
	l.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(rec)
	}
}

// Ring keeps the most recent records in memory.
type Ring struct {
	mu   sync.Mutex
	buf  []models.LogRecord
	size int
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 500
	}
	return &Ring{size: size}
}

func (r *Ring) Publish(rec models.LogRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, rec)
	if len(r.buf) > r.size {
		r.buf = r.buf[len(r.buf)-r.size:]
	}
}

// Records returns a copy of the buffered records, oldest first.
func (r *Ring) Records() []models.LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.LogRecord, len(r.buf))
	copy(out, r.buf)
	return out
}

// Count returns how many buffered records have the given level.
func (r *Ring) Count(level models.LogLevel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.buf {
		if rec.Level == level {
			n++
		}
	}
	return n
}
