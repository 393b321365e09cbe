// Package activations provides the activation functions used by the layer engine.
package activations

import "math"

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x)
	Derivative(x float64) float64
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Identity passes values through unchanged. Constructing a convolution layer
// with Identity disables the in-layer activation masking during
// backpropagation, leaving the composition to the caller.
type Identity struct{}

// Activate returns x.
func (i Identity) Activate(x float64) float64 { return x }

// Derivative returns 1.
func (i Identity) Derivative(x float64) float64 { return 1 }

// Softmax activation for classifier output.
type Softmax struct{}

// ActivateBatch computes softmax over x in place and returns it.
// The per-slice maximum is subtracted before exponentiating so that large
// logits cannot overflow.
func (s Softmax) ActivateBatch(x []float64) []float64 {
	maxVal := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxVal {
			maxVal = x[i]
		}
	}

	sum := 0.0
	for i := range x {
		x[i] = math.Exp(x[i] - maxVal)
		sum += x[i]
	}

	for i := range x {
		x[i] /= sum
	}

	return x
}
