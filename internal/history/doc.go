// Package history keeps a local SQLite record of every mapping the bridge
// publishes, so recent readings can be inspected when the broker or the
// time-series mirror is unavailable.
//
// The schema lives in the root migrations package; Repository expects the
// database to be migrated before use.
package history
