// Package layer provides neural network layer implementations.
package layer

import "github.com/convnet-go/convnet/internal/tensor"

// Cache holds exactly what a forward pass must retain for its paired backward
// pass. Each layer kind has its own concrete cache type; the caller owns the
// value, passes it back to Backward exactly once, and must not interleave
// forward/backward calls on the same layer instance.
type Cache interface {
	cacheKind() string
}

// Gradients carries the parameter gradients produced by one backward call,
// flattened in the same layout as the layer's Params. Parameter-free layers
// return an empty value.
type Gradients struct {
	Weights []float64
	Biases  []float64
}

// Flat returns weights and biases concatenated, matching the Params layout.
func (g *Gradients) Flat() []float64 {
	out := make([]float64, 0, len(g.Weights)+len(g.Biases))
	out = append(out, g.Weights...)
	out = append(out, g.Biases...)
	return out
}

// Empty reports whether the layer has no learned parameters.
func (g *Gradients) Empty() bool {
	return len(g.Weights) == 0 && len(g.Biases) == 0
}

// Layer is a spatial layer operating on 4D activation volumes.
//
// Forward returns the output volume and the cache its backward pass needs.
// Backward consumes the gradient w.r.t. the layer output together with that
// cache and returns the gradient w.r.t. the layer input plus the parameter
// gradients. Backward never mutates parameters; updates belong to the
// optimizer boundary.
type Layer interface {
	Forward(x *tensor.Tensor4D) (*tensor.Tensor4D, Cache)
	Backward(grad *tensor.Tensor4D, cache Cache) (*tensor.Tensor4D, *Gradients)

	// Params returns all parameters flattened (copy); SetParams writes
	// updated values back in the same layout.
	Params() []float64
	SetParams(params []float64)
}
