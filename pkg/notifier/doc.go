// Package notifier bridges the store's commit signal into change events.
//
// An Adapter owns one long-lived subscription to the change stream (for
// Postgres: a dedicated connection holding LISTEN on the readings
// channel) and republishes each notification as an Event on a channel
// the dispatcher consumes.
//
// The adapter must outlive any individual stream failure. A dead
// notifier silently disables all live updates while writes keep
// succeeding, which is the worst failure mode this service has, so every
// stream error is logged loudly and followed by a reconnect with
// exponential backoff, forever, until the context is cancelled.
// Occasional duplicate or dropped notifications are tolerated; the
// dispatcher re-fetches the latest committed state on every event.
package notifier
