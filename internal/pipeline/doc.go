// Package pipeline loads Something-Something style video datasets and batches
// clips for the engine.
//
// A dataset root holds labels.json mapping class templates to indices, split
// metadata files listing {id, label, template} entries, and a frames directory
// with one folder of JPEG frames per video. Clips are sampled with a fixed
// frame stride, resized, normalized with ImageNet statistics and laid out
// [T][C][H][W].
package pipeline
