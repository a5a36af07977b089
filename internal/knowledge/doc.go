// Package knowledge stores codified learnings and retrieves them for
// context assembly.
//
// Learnings are immutable JSON records appended one file at a time, so
// concurrent workers never contend on a shared file. Retrieval goes
// through a pluggable SimilarityIndex (keyword scan by default, chromem-go
// semantic search when an embedder is configured) and is strictly
// best-effort: a broken store yields empty results, never an error on the
// execution path. A periodic gardening pass merges near-duplicates into
// fewer, higher-quality records without destroying the originals.
package knowledge
