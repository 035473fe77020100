// Package storage holds the typed repositories for meetings, responses and
// inbox notifications.
//
// Drivers:
//   - "memory": process-local maps, used by tests and the default config
//   - "sqlite": a single SQLite file (modernc.org/sqlite, no cgo)
//
// Each repository exposes a closed set of queries. Meetings carry a version
// number and Update is a compare-and-swap on it, so two writers sharing one
// sqlite file cannot both win a transition.
package storage
