// Package memory gives the assistant long-term recall. Facts are
// appended to a JSONL log that stays the source of truth; a sqlite
// index derived from it serves hybrid search, FTS keywords plus
// sqlite-vec cosine similarity when an embedder is configured.
//
// The index is lazily consistent: writes and external edits to the
// fact log mark it dirty, and the next search rebuilds what changed.
// Without an embedder (or when the embeddings API fails) search
// degrades to keyword-only rather than failing.
package memory
