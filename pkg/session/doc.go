// Package session persists conversation history as JSONL, one file per
// session key.
//
// Invariants:
// - Appends go through a per-key write lock and fsync before returning.
// - Loading tolerates corruption: bad lines are quarantined, never fatal.
// - Session keys are validated against path traversal before any file access.
package session
