// Package specs is the catalog of named model presets and the run defaults
// that accompany them.
//
// Model presets pin a model family and its hyperparameters. Run builds a
// complete RunOptions from a preset name plus the configured dataset and
// training settings.
package specs
