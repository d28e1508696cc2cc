// Package wire defines the messages that cross process boundaries.
//
// Two surfaces exist:
//
//   - Observer messages: JSON records pushed to WebSocket observers. Each
//     message carries a device identifier and either a single reading
//     (live update) or an ordered list of readings (initial snapshot).
//     Timestamps are RFC 3339 UTC text, never numeric.
//
//   - Ingest payloads: measurements published by devices over MQTT,
//     encoded as CBOR (constrained firmware) or JSON. The device
//     identifier comes from the topic, not the payload.
package wire
