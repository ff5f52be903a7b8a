// Package engine provides the event-driven loop that drives training and
// evaluation.
//
// An Engine runs a process function over every batch of a loader for a number
// of epochs and fires events around epochs and iterations. Handlers attached
// to those events implement logging, timing, checkpointing and evaluation.
// State is JSON serializable so a checkpointed engine can resume at the next
// epoch.
package engine
