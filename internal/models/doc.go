// Package models defines the video classification model families (TADN,
// TARN, I3D and their autoencoder, GSNN and VAE variants), their
// hyperparameter option structs, and the builders that turn options into
// trainable models.
//
// Every model is a composition of layers over a flat float32 buffer. Learned
// layers are loom networks; dropout, the latent reparameterization and the
// reconstruction head are implemented here so their masks and auxiliary
// losses stay visible to the engine. Frames are laid out [T][C][H][W] per
// sample, which lets per-frame encoders treat a batch of B clips as B*T
// images without copying.
package models
