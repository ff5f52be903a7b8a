// Package services defines shared utilities consumed by the training
// orchestrator, the engine, and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp run names, session identifiers, and engine
//     phases for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent run registry statuses.
package services
