// Package textutil provides small text helpers shared by the CLI and the
// training orchestrator.
//
// The primary use cases are:
//   - Suggesting the closest preset name for a mistyped lookup
//   - Sanitizing run names and export file names for safe filesystem use
//
// Fingerprints are term-frequency vectors over lowercase alphanumeric tokens,
// compared with cosine similarity.
package textutil
