package log

// Logger is the interface components use to emit service events.
// Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a service event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking affects
	// the dispatch path.
	Log(event Event)
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns the given logger, or NoopLogger if it is nil.
// Components call this once at construction so the hot path never
// nil-checks.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// MultiLogger forwards each event to every underlying logger in order.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger over the given sinks.
// Nil sinks are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log forwards the event to all sinks.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Logger = NoopLogger{}
	_ Logger = (*MultiLogger)(nil)
)
