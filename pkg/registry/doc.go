// Package registry tracks which observer connections are subscribed to
// which device stream.
//
// The registry is the service's primary concurrent data structure: it is
// mutated by every observer connect and disconnect and read by the fan-out
// dispatcher on every change event. A single coarse RWMutex guards the
// whole map; device and observer cardinalities are low thousands, so
// finer locking buys nothing.
//
// Invariants:
//   - an entry exists for a device only while at least one observer is
//     registered for it (empty sets are removed immediately)
//   - Subscribers returns a snapshot, never the live set
//   - all operations are total: unregistering an absent observer is a
//     no-op, never an error, so disconnect races are harmless
package registry
