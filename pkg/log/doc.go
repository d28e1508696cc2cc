// Package log defines the service event log.
//
// Components emit structured Events (subsystem, category, connection and
// device identifiers) through the Logger interface instead of writing to a
// concrete logging backend. Applications choose the sink: the SlogAdapter
// forwards events to a log/slog logger, NoopLogger discards them, and
// MultiLogger fans out to several sinks.
//
// Events are lightweight value types; emitting one must never block the
// caller for long, so adapters that do slow I/O should queue internally.
package log
