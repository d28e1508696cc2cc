// Package dispatch fans newly committed readings out to observers.
//
// The dispatcher consumes change events, each naming a device whose data
// just changed. It never trusts an event beyond the device identifier:
// on every event it re-fetches the latest committed reading from the
// store, so duplicated, reordered, or stale events all collapse into
// idempotent re-sends of the current value.
//
// Delivery failures are isolated per observer: a failing connection is
// unregistered and closed, and the remaining observers still receive the
// reading. Deliver never blocks (sessions buffer and drop on overflow),
// so one stalled observer cannot delay the others.
package dispatch
