package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes service events to an slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Errors log at Error level,
// everything else at Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("subsystem", event.Subsystem.String()),
		slog.String("category", event.Category.String()),
	}

	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}

	level := slog.LevelDebug
	if event.Category == CategoryError {
		level = slog.LevelError
		if event.Err != nil {
			attrs = append(attrs, slog.String("error", event.Err.Error()))
		}
	}

	a.logger.LogAttrs(context.Background(), level, event.Message, attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
