// Package opt provides optimization algorithms.
package opt

import (
	"fmt"
	"math"
)

// Optimizer updates layer parameters in place from their gradients.
//
// Advance marks the start of a new optimization step; stateful optimizers use
// it to bump their step counter. Update is then called once per layer, keyed
// by the layer's index so that per-parameter state survives across steps.
type Optimizer interface {
	Advance()
	Update(key int, params, gradients []float64)

	LearningRate() float64
	SetLearningRate(lr float64)
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct {
	lr float64
}

// NewSGD creates an SGD optimizer with the given learning rate.
func NewSGD(learningRate float64) *SGD {
	return &SGD{lr: learningRate}
}

// Advance is a no-op; SGD keeps no per-step state.
func (s *SGD) Advance() {}

// Update applies params = params - lr * gradients in place.
func (s *SGD) Update(key int, params, gradients []float64) {
	if len(params) != len(gradients) {
		panic(fmt.Sprintf("sgd: %d params but %d gradients for key %d", len(params), len(gradients), key))
	}
	for i := range params {
		params[i] -= s.lr * gradients[i]
	}
}

// LearningRate returns the current learning rate.
func (s *SGD) LearningRate() float64 { return s.lr }

// SetLearningRate replaces the learning rate.
func (s *SGD) SetLearningRate(lr float64) { s.lr = lr }

// Adam optimizer with bias-corrected first and second moment estimates.
type Adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64

	step int
	m    map[int][]float64
	v    map[int][]float64
}

// NewAdam creates an Adam optimizer with the usual defaults
// (beta1 0.9, beta2 0.999, epsilon 1e-8).
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		lr:      learningRate,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
		m:       make(map[int][]float64),
		v:       make(map[int][]float64),
	}
}

// Advance starts a new optimization step.
func (a *Adam) Advance() {
	a.step++
}

// Update applies one Adam step in place. Moment slices are allocated lazily
// per key on first use.
func (a *Adam) Update(key int, params, gradients []float64) {
	if a.step == 0 {
		panic("adam: Update called before Advance")
	}
	if len(params) != len(gradients) {
		panic(fmt.Sprintf("adam: %d params but %d gradients for key %d", len(params), len(gradients), key))
	}

	m, ok := a.m[key]
	if !ok {
		m = make([]float64, len(params))
		a.m[key] = m
	}
	v, ok := a.v[key]
	if !ok {
		v = make([]float64, len(params))
		a.v[key] = v
	}
	if len(m) != len(params) {
		panic(fmt.Sprintf("adam: key %d seen with %d params, now %d", key, len(m), len(params)))
	}

	corr1 := 1 - math.Pow(a.beta1, float64(a.step))
	corr2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i := range params {
		g := gradients[i]
		m[i] = a.beta1*m[i] + (1-a.beta1)*g
		v[i] = a.beta2*v[i] + (1-a.beta2)*g*g

		mHat := m[i] / corr1
		vHat := v[i] / corr2
		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.epsilon)
	}
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 { return a.lr }

// SetLearningRate replaces the learning rate. Moment state is kept.
func (a *Adam) SetLearningRate(lr float64) { a.lr = lr }

// Step returns the number of Advance calls so far.
func (a *Adam) Step() int { return a.step }
