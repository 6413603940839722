// Package transcript manages persistent conversation transcripts using JSONL files.
//
// Invariants:
// - Conversation keys are validated and path-safe.
// - Writes for the same conversation are serialized.
// - Append/load/delete operations are observable via tracing and metrics.
//
// Usage:
//
//	store, _ := transcript.New("/tmp/strata/transcripts")
//	_ = store.Append("conv:1", transcript.Turn{Kind: transcript.KindUser, Content: "hello"})
//	entries, _ := store.Load("conv:1")
//	_ = entries
package transcript
