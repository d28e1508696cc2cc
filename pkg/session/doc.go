// Package session manages the lifecycle of observer connections.
//
// A Session owns one duplex transport to one observer for its whole
// lifetime. The Manager attaches new connections: it registers the
// session, fetches the bounded historical snapshot, and starts the
// session's pumps. The snapshot is always the first message on the wire;
// live updates only flow after it (snapshot-then-live, never the
// reverse).
//
// A session's write pump is its only writer and keeps per-device
// timestamps non-decreasing on the wire, so duplicated or reordered
// change events collapse into idempotent re-sends. The read pump exists
// solely to detect transport closure; observers send no application data.
//
// Cleanup runs exactly once per session regardless of what triggered it:
// observer close, receive error, send failure, or a backpressure drop.
// Unregistration is idempotent, but releasing the transport is not, so
// the single-fire guarantee comes from a sync.Once.
package session
