// Package model defines the core data types shared across the service.
//
// The central type is Reading, an immutable air-quality measurement
// produced by a device. Readings are created by the write path, persisted
// append-only, and never mutated afterwards. Ordering between readings of
// the same device is total by recorded timestamp, with insertion order
// breaking ties (most recent write wins).
package model
