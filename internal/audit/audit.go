// Package audit collects the structured event trail the remediation core
// emits: policy verdicts, executed actions, health transitions, incident
// lifecycle and autopilot decisions. The core only ever writes events; the
// events API reads them back from the in-memory log.
package audit

import (
	"log/slog"
	"sync"
	"time"
)

// Event categories.
const (
	CategoryPolicy    = "policy"
	CategoryAction    = "action"
	CategoryHealth    = "health"
	CategoryIncident  = "incident"
	CategoryAutopilot = "autopilot"
	CategoryRegistry  = "registry"
)

// Severity tags an event for operators scanning the trail.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one structured audit record.
type Event struct {
	Time     time.Time
	Category string
	Severity Severity
	Message  string
	Details  map[string]any
}

// Recorder consumes audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(event Event)
}

// SlogRecorder forwards audit events to a structured logger.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder wraps the supplied logger; a nil logger falls back to
// slog.Default.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogRecorder{logger: logger}
}

// Record emits the event at a level matching its severity.
func (r *SlogRecorder) Record(event Event) {
	attrs := []any{
		slog.String("category", event.Category),
		slog.Any("details", event.Details),
	}
	switch event.Severity {
	case SeverityError:
		r.logger.Error(event.Message, attrs...)
	case SeverityWarning:
		r.logger.Warn(event.Message, attrs...)
	default:
		r.logger.Info(event.Message, attrs...)
	}
}

// MemoryLog retains the most recent events in a bounded buffer.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
	max    int
}

// NewMemoryLog creates a log holding up to max events.
func NewMemoryLog(max int) *MemoryLog {
	if max <= 0 {
		max = 500
	}
	return &MemoryLog{max: max}
}

// Record appends the event, evicting the oldest entry when full.
func (l *MemoryLog) Record(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	if len(l.events) > l.max {
		copy(l.events[0:], l.events[1:])
		l.events = l.events[:l.max]
	}
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (l *MemoryLog) Recent(limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.events[i])
	}
	return out
}

// Tee fans one event out to multiple recorders.
type Tee []Recorder

// Record forwards the event to every recorder in order.
func (t Tee) Record(event Event) {
	for _, r := range t {
		if r != nil {
			r.Record(event)
		}
	}
}
