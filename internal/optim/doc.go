// Package optim implements Adam, SGD and RMSprop over the kernel and bias
// tensors of every loom network in a model. Moment buffers live here rather
// than in loom so checkpoints can carry them.
package optim
