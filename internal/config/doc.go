// Package config loads, normalizes, and validates vidtrain configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the VIDTRAIN_DATA_DIR environment
// fallback. The Config type centralizes the directories, dataset geometry and
// training defaults the CLI needs so every run is constructed from one
// validated source.
//
// Per-run hyperparameters live in internal/options; this package only holds
// the machine-level settings shared by all runs.
package config
