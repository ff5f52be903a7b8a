// Package training assembles and drives a single training run.
//
// New prepares everything a run needs from RunOptions: the run directory
// (run.json, run.log, stats.csv, checkpoints), the model, optimizer,
// criterion, data bunch and metrics, and the trainer and evaluator engines
// with their handlers. When resuming, model, optimizer and engine states are
// restored from a checkpoint before any handler is attached.
//
// Run trains for the configured number of epochs. After every epoch the
// evaluator scores the training and validation loaders, one row is appended
// to stats.csv and to the run registry, and a checkpoint is written. Errors
// from either engine close stats.csv and are returned unchanged.
package training
