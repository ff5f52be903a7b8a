package models

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Layer is one step of a model pipeline over a flat [n × features] buffer.
// Backward must be called after the Forward whose activations it differentiates.
type Layer interface {
	Name() string
	Forward(x []float32, n int, train bool) ([]float32, error)
	Backward(grad []float32) ([]float32, error)
}

// Stateful layers carry learned weights that belong in a checkpoint.
type Stateful interface {
	Layer
	State() (string, error)
	LoadState(string) error
}

// Dropout zeroes activations with probability P during training and scales
// survivors by 1/(1-P). It is the identity at evaluation time.
type Dropout struct {
	name string
	p    float64
	rng  *rand.Rand
	mask []float32
}

// NewDropout returns a dropout layer drawing masks from a seeded source.
func NewDropout(name string, p float64, seed uint64) *Dropout {
	return &Dropout{name: name, p: p, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (d *Dropout) Name() string { return d.name }

func (d *Dropout) Forward(x []float32, _ int, train bool) ([]float32, error) {
	if !train || d.p <= 0 {
		d.mask = nil
		return x, nil
	}
	scale := float32(1 / (1 - d.p))
	if cap(d.mask) < len(x) {
		d.mask = make([]float32, len(x))
	}
	d.mask = d.mask[:len(x)]
	out := make([]float32, len(x))
	for i, v := range x {
		if d.rng.Float64() < d.p {
			d.mask[i] = 0
			continue
		}
		d.mask[i] = scale
		out[i] = v * scale
	}
	return out, nil
}

func (d *Dropout) Backward(grad []float32) ([]float32, error) {
	if d.mask == nil {
		return grad, nil
	}
	if len(grad) != len(d.mask) {
		return nil, fmt.Errorf("%s: gradient has %d values, mask has %d", d.name, len(grad), len(d.mask))
	}
	out := make([]float32, len(grad))
	for i, g := range grad {
		out[i] = g * d.mask[i]
	}
	return out, nil
}

// Latent splits its input into (mu, log variance) halves and emits a
// reparameterized sample z = mu + eps*exp(logvar/2). With KL enabled it also
// contributes the KL divergence to N(0, I) as an auxiliary loss.
type Latent struct {
	name     string
	planes   int
	klWeight float64
	rng      *rand.Rand

	n      int
	mu     []float32
	logvar []float32
	eps    []float32
	kl     float64
}

// NewLatent returns a latent layer with the given width. A zero klWeight
// disables the KL term (GSNN); a positive one enables it (VAE).
func NewLatent(name string, planes int, klWeight float64, seed uint64) *Latent {
	return &Latent{name: name, planes: planes, klWeight: klWeight, rng: rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))}
}

func (l *Latent) Name() string { return l.name }

// Planes is the latent width.
func (l *Latent) Planes() int { return l.planes }

// Forward samples z. At evaluation time it still samples so repeated calls
// can be used for voting; Mean returns the deterministic code.
func (l *Latent) Forward(x []float32, n int, _ bool) ([]float32, error) {
	if len(x) != n*2*l.planes {
		return nil, fmt.Errorf("%s: input has %d values, want %d", l.name, len(x), n*2*l.planes)
	}
	l.n = n
	l.mu = make([]float32, n*l.planes)
	l.logvar = make([]float32, n*l.planes)
	l.eps = make([]float32, n*l.planes)
	z := make([]float32, n*l.planes)
	l.kl = 0
	for i := 0; i < n; i++ {
		row := x[i*2*l.planes : (i+1)*2*l.planes]
		for j := 0; j < l.planes; j++ {
			idx := i*l.planes + j
			mu := row[j]
			logvar := clampLogVar(row[l.planes+j])
			eps := float32(l.rng.NormFloat64())
			l.mu[idx], l.logvar[idx], l.eps[idx] = mu, logvar, eps
			z[idx] = mu + eps*float32(math.Exp(0.5*float64(logvar)))
			if l.klWeight > 0 {
				l.kl += -0.5 * (1 + float64(logvar) - float64(mu*mu) - math.Exp(float64(logvar)))
			}
		}
	}
	if n > 0 {
		l.kl /= float64(n)
	}
	return z, nil
}

// Resample draws a fresh z from the distribution of the last Forward.
func (l *Latent) Resample() []float32 {
	z := make([]float32, len(l.mu))
	for i := range z {
		z[i] = l.mu[i] + float32(l.rng.NormFloat64())*float32(math.Exp(0.5*float64(l.logvar[i])))
	}
	return z
}

// Backward maps dL/dz onto dL/d(mu, logvar), adding the weighted KL gradient.
func (l *Latent) Backward(grad []float32) ([]float32, error) {
	if len(grad) != l.n*l.planes {
		return nil, fmt.Errorf("%s: gradient has %d values, want %d", l.name, len(grad), l.n*l.planes)
	}
	out := make([]float32, l.n*2*l.planes)
	w := float32(l.klWeight / float64(max(l.n, 1)))
	for i := 0; i < l.n; i++ {
		for j := 0; j < l.planes; j++ {
			idx := i*l.planes + j
			std := float32(math.Exp(0.5 * float64(l.logvar[idx])))
			gMu := grad[idx]
			gLogVar := grad[idx] * l.eps[idx] * std * 0.5
			if l.klWeight > 0 {
				gMu += w * l.mu[idx]
				gLogVar += w * 0.5 * (std*std - 1)
			}
			out[i*2*l.planes+j] = gMu
			out[i*2*l.planes+l.planes+j] = gLogVar
		}
	}
	return out, nil
}

// AuxiliaryLoss is the weighted KL term of the last Forward.
func (l *Latent) AuxiliaryLoss() float64 {
	return l.klWeight * l.kl
}

func clampLogVar(v float32) float32 {
	switch {
	case v > 10:
		return 10
	case v < -10:
		return -10
	default:
		return v
	}
}
