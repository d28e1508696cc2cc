// Package store persists device readings in Postgres.
//
// The device_readings table is append-only: the write path inserts,
// the read paths page newest-first, and nothing ever updates a row.
// Ordering for one device is total: recorded_at descending with the
// identity column breaking ties, so equal timestamps resolve to the most
// recent insert consistently in both the query and notification paths.
//
// EnsureSchema also installs an AFTER INSERT trigger that raises
// pg_notify on the device_readings channel with the device identifier as
// payload. Postgres delivers those notifications on commit, which gives
// the notifier package its commit-then-notify primitive.
package store
