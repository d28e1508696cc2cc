// Package httpapi is the HTTP surface of the service: reading ingest and
// history over plain JSON endpoints, plus the per-device live update
// stream over WebSocket.
package httpapi
