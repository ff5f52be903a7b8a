// Package options holds RunOptions, the immutable description of one training
// run: the model spec, trainer and evaluator settings, dataset and loader
// options, and resume flags.
//
// A RunOptions value is consumed once when a run is constructed and is
// written verbatim to run.json; nothing downstream mutates it.
package options
