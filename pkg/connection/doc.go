// Package connection provides retry timing for external connections.
//
// The service depends on two long-lived external endpoints: the Postgres
// change stream and the MQTT broker. Both are expected to fail and come
// back. Backoff computes the delay sequence for reconnection attempts:
// exponential growth up to a ceiling, with random jitter so a fleet of
// services does not reconnect in lockstep.
package connection
