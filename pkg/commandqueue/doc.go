// Package commandqueue serializes agent work into named lanes.
//
// Invariants:
// - Tasks within a lane run with at most the lane's configured concurrency.
// - Session lanes default to concurrency 1 so runs in one conversation never overlap.
// - A request ID in the context deduplicates retried requests within a TTL window.
package commandqueue
