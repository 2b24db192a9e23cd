// Package store provides the persistent audit trail using SQLite.
//
// # What Gets Recorded
//
// Only terminal states are persisted, each keyed by its correlation id:
//
//   - command_audit: one row per dispatched command with its resolution
//     (acked, failed, timed_out), response, and error
//   - session_audit: one row per remote-control or terminal session with
//     its final state and reason
//   - transfer_audit: one row per file transfer with its final state and
//     bytes moved
//
// The gateway writes these rows through terminal-state hooks; the
// presence, dispatch, and session components never touch the store, and
// live connection state is never persisted.
//
// # SQLite Settings
//
// The database opens in WAL mode so the REST listing endpoints can read
// concurrently with the single audit writer. The schema is created on
// open; ":memory:" works for tests.
package store
