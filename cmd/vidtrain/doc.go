// Command vidtrain trains and inspects video classification runs.
//
// Subcommands:
//   - train: build a run from a preset and train it, optionally resuming
//   - presets: list model presets or print the run options of one
//   - runs: inspect, export, reap and remove recorded runs
//   - config: create or validate the configuration file
//   - status: show directory, dataset, registry and device readiness
package main
