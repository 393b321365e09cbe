// Package net assembles layers into a trainable classification network.
package net

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/convnet-go/convnet/internal/activations"
	"github.com/convnet-go/convnet/internal/layer"
	"github.com/convnet-go/convnet/internal/opt"
	"github.com/convnet-go/convnet/internal/tensor"
)

// costEpsilon keeps log arguments strictly positive in the cross-entropy cost.
const costEpsilon = 1e-9

// Config describes a convolutional stack followed by the classifier head.
// Entry i of each slice configures conv layer i; Pooling[i] selects whether a
// pooling layer follows it, configured by the corresponding Pool* entries.
type Config struct {
	NumFilters  []int
	KernelSizes []int
	Strides     []int
	Paddings    []int

	Pooling     []bool
	PoolSizes   []int
	PoolStrides []int
	PoolModes   []layer.PoolMode

	Classes int
	Seed    uint64
}

// Network threads activation volumes through a stack of spatial layers, then
// flattens into the fully-connected softmax head. The spatial output shape is
// fixed at construction, so flatten/unflatten never guess.
type Network struct {
	spatial []layer.Layer
	dense   *layer.Dense
	opt     opt.Optimizer

	inChannels int
	inputH     int
	inputW     int

	// Spatial output shape feeding the flatten boundary.
	lastH int
	lastW int
	lastC int
}

// ForwardCaches carries the per-layer caches of one forward pass, consumed by
// the matching Backward call.
type ForwardCaches struct {
	Spatial []layer.Cache
	Dense   *layer.DenseCache
}

// GradientBundle carries one backward pass worth of parameter gradients.
// Spatial[i] belongs to spatial layer i (empty for pooling layers).
type GradientBundle struct {
	Spatial []*layer.Gradients
	Dense   *layer.Gradients
}

// New builds a network from the configuration and validates the whole shape
// chain up front: mismatched hyperparameter list lengths, degenerate windows
// and non-integral output sizes are reported as errors before any training.
func New(inChannels, inputH, inputW int, cfg Config, optimizer opt.Optimizer) (*Network, error) {
	if inChannels <= 0 || inputH <= 0 || inputW <= 0 {
		return nil, fmt.Errorf("net: input shape (%d, %d, %d) must be positive", inputH, inputW, inChannels)
	}
	if optimizer == nil {
		return nil, fmt.Errorf("net: optimizer must not be nil")
	}
	if cfg.Classes <= 0 {
		return nil, fmt.Errorf("net: class count %d must be positive", cfg.Classes)
	}

	numConv := len(cfg.NumFilters)
	if numConv == 0 {
		return nil, fmt.Errorf("net: at least one convolutional layer is required")
	}
	for name, l := range map[string]int{
		"KernelSizes": len(cfg.KernelSizes),
		"Strides":     len(cfg.Strides),
		"Paddings":    len(cfg.Paddings),
		"Pooling":     len(cfg.Pooling),
		"PoolSizes":   len(cfg.PoolSizes),
		"PoolStrides": len(cfg.PoolStrides),
		"PoolModes":   len(cfg.PoolModes),
	} {
		if l != numConv {
			return nil, fmt.Errorf("net: %s has %d entries, NumFilters has %d", name, l, numConv)
		}
	}

	var spatial []layer.Layer
	h, w, ch := inputH, inputW, inChannels

	for i := 0; i < numConv; i++ {
		conv, err := layer.NewConv2D(ch, cfg.NumFilters[i], cfg.KernelSizes[i],
			cfg.Strides[i], cfg.Paddings[i], activations.ReLU{}, cfg.Seed+uint64(i))
		if err != nil {
			return nil, fmt.Errorf("net: conv layer %d: %w", i, err)
		}

		h, err = tensor.ConvOutputSize(h, cfg.KernelSizes[i], cfg.Strides[i], cfg.Paddings[i])
		if err != nil {
			return nil, fmt.Errorf("net: conv layer %d height: %w", i, err)
		}
		w, err = tensor.ConvOutputSize(w, cfg.KernelSizes[i], cfg.Strides[i], cfg.Paddings[i])
		if err != nil {
			return nil, fmt.Errorf("net: conv layer %d width: %w", i, err)
		}
		ch = cfg.NumFilters[i]
		spatial = append(spatial, conv)

		if !cfg.Pooling[i] {
			continue
		}

		pool, err := layer.NewPool2D(cfg.PoolSizes[i], cfg.PoolStrides[i], cfg.PoolModes[i])
		if err != nil {
			return nil, fmt.Errorf("net: pool layer %d: %w", i, err)
		}

		h, err = tensor.PoolOutputSize(h, cfg.PoolSizes[i], cfg.PoolStrides[i])
		if err != nil {
			return nil, fmt.Errorf("net: pool layer %d height: %w", i, err)
		}
		w, err = tensor.PoolOutputSize(w, cfg.PoolSizes[i], cfg.PoolStrides[i])
		if err != nil {
			return nil, fmt.Errorf("net: pool layer %d width: %w", i, err)
		}
		spatial = append(spatial, pool)
	}

	dense, err := layer.NewDense(h*w*ch, cfg.Classes, cfg.Seed+uint64(numConv))
	if err != nil {
		return nil, fmt.Errorf("net: dense layer: %w", err)
	}

	return &Network{
		spatial:    spatial,
		dense:      dense,
		opt:        optimizer,
		inChannels: inChannels,
		inputH:     inputH,
		inputW:     inputW,
		lastH:      h,
		lastW:      w,
		lastC:      ch,
	}, nil
}

// Forward runs one batch through the full stack and returns the class
// probabilities (classes x batch) plus the caches Backward needs.
func (n *Network) Forward(x *tensor.Tensor4D) (*mat.Dense, *ForwardCaches) {
	_, h, w, c := x.Dims()
	if h != n.inputH || w != n.inputW || c != n.inChannels {
		panic(fmt.Sprintf("net: input volume (%d, %d, %d) does not match network input (%d, %d, %d)",
			h, w, c, n.inputH, n.inputW, n.inChannels))
	}

	caches := &ForwardCaches{Spatial: make([]layer.Cache, len(n.spatial))}

	curr := x
	for i, l := range n.spatial {
		curr, caches.Spatial[i] = l.Forward(curr)
	}

	flat := n.flatten(curr)
	probs, denseCache := n.dense.Forward(flat)
	caches.Dense = denseCache

	return probs, caches
}

// Cost computes the average cross-entropy over the batch,
// -(1/m) sum over samples and classes of y * log(p + eps).
func (n *Network) Cost(probs, labels *mat.Dense) float64 {
	pr, pb := probs.Dims()
	lr, lb := labels.Dims()
	if pr != lr || pb != lb {
		panic(fmt.Sprintf("net: probabilities (%d x %d) and labels (%d x %d) disagree", pr, pb, lr, lb))
	}

	sum := 0.0
	for j := 0; j < pb; j++ {
		for i := 0; i < pr; i++ {
			sum += labels.At(i, j) * math.Log(probs.At(i, j)+costEpsilon)
		}
	}
	return -sum / float64(pb)
}

// Backward computes all parameter gradients for one forward pass. The network
// parameters are left untouched; Step is the sole mutation point.
func (n *Network) Backward(probs, labels *mat.Dense, caches *ForwardCaches) *GradientBundle {
	dFlat, denseGrads := n.dense.Backward(probs, labels, caches.Dense)

	bundle := &GradientBundle{
		Spatial: make([]*layer.Gradients, len(n.spatial)),
		Dense:   denseGrads,
	}

	_, batch := dFlat.Dims()
	grad := n.unflatten(dFlat, batch)
	for i := len(n.spatial) - 1; i >= 0; i-- {
		grad, bundle.Spatial[i] = n.spatial[i].Backward(grad, caches.Spatial[i])
	}

	return bundle
}

// Step applies one optimizer update from the bundle. Each layer is keyed by
// its position so stateful optimizers keep per-layer moment state.
func (n *Network) Step(bundle *GradientBundle) {
	n.opt.Advance()

	for i, l := range n.spatial {
		g := bundle.Spatial[i]
		if g.Empty() {
			continue
		}
		params := l.Params()
		n.opt.Update(i, params, g.Flat())
		l.SetParams(params)
	}

	params := n.dense.Params()
	n.opt.Update(len(n.spatial), params, bundle.Dense.Flat())
	n.dense.SetParams(params)
}

// Fit trains on the full batch for iters iterations of plain gradient
// descent: forward, cost, backward, step. Returns the cost curve. Callbacks
// observe epoch boundaries; an early-stopping callback ends training early.
func (n *Network) Fit(x *tensor.Tensor4D, labels *mat.Dense, iters int, callbacks ...Callback) []float64 {
	for _, cb := range callbacks {
		cb.OnTrainBegin(n)
	}

	costs := make([]float64, 0, iters)
	for epoch := 0; epoch < iters; epoch++ {
		for _, cb := range callbacks {
			cb.OnEpochBegin(epoch, n)
		}

		probs, caches := n.Forward(x)
		cost := n.Cost(probs, labels)
		costs = append(costs, cost)

		bundle := n.Backward(probs, labels, caches)
		n.Step(bundle)

		stop := false
		for _, cb := range callbacks {
			cb.OnEpochEnd(epoch, cost, n)
			if es, ok := cb.(*EarlyStopping); ok && es.Stopped {
				stop = true
			}
		}
		if stop {
			break
		}
	}

	for _, cb := range callbacks {
		cb.OnTrainEnd(n)
	}
	return costs
}

// Predict returns the argmax class per sample.
func (n *Network) Predict(x *tensor.Tensor4D) []int {
	probs, _ := n.Forward(x)
	r, batch := probs.Dims()

	col := make([]float64, r)
	classes := make([]int, batch)
	for j := 0; j < batch; j++ {
		mat.Col(col, j, probs)
		classes[j] = floats.MaxIdx(col)
	}
	return classes
}

// Accuracy returns the fraction of samples whose argmax prediction matches
// the one-hot labels.
func (n *Network) Accuracy(x *tensor.Tensor4D, labels *mat.Dense) float64 {
	pred := n.Predict(x)

	r, batch := labels.Dims()
	if batch != len(pred) {
		panic(fmt.Sprintf("net: %d label columns for %d samples", batch, len(pred)))
	}

	col := make([]float64, r)
	correct := 0
	for j := 0; j < batch; j++ {
		mat.Col(col, j, labels)
		if floats.MaxIdx(col) == pred[j] {
			correct++
		}
	}
	return float64(correct) / float64(batch)
}

// Optimizer returns the network's optimizer, for schedulers and callbacks.
func (n *Network) Optimizer() opt.Optimizer {
	return n.opt
}

// OutputShape returns the (height, width, channels) feeding the flatten
// boundary.
func (n *Network) OutputShape() (h, w, c int) {
	return n.lastH, n.lastW, n.lastC
}

// flatten reorders a volume into a features x batch matrix, one column per
// sample, feature index (y*W + x)*C + k.
func (n *Network) flatten(t *tensor.Tensor4D) *mat.Dense {
	batch, h, w, c := t.Dims()
	out := mat.NewDense(h*w*c, batch, nil)
	for i := 0; i < batch; i++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for k := 0; k < c; k++ {
					out.Set((y*w+x)*c+k, i, t.At(i, y, x, k))
				}
			}
		}
	}
	return out
}

// unflatten is the inverse of flatten using the construction-time spatial
// output shape.
func (n *Network) unflatten(m *mat.Dense, batch int) *tensor.Tensor4D {
	out := tensor.New(batch, n.lastH, n.lastW, n.lastC)
	for i := 0; i < batch; i++ {
		for y := 0; y < n.lastH; y++ {
			for x := 0; x < n.lastW; x++ {
				for k := 0; k < n.lastC; k++ {
					out.Set(i, y, x, k, m.At((y*n.lastW+x)*n.lastC+k, i))
				}
			}
		}
	}
	return out
}
