package layer

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/convnet-go/convnet/internal/activations"
	"github.com/convnet-go/convnet/internal/tensor"
)

// Conv2D implements a 2D convolutional layer over NHWC activation volumes.
// Uses direct convolution computation for correctness.
//
// The filter bank has shape (kernelSize, kernelSize, inChannels, outChannels)
// with one bias per output channel. Weights are owned exclusively by the
// layer and mutated only through SetParams.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	// Filter bank flattened row-major as (kh, kw, inChannel, outChannel).
	weights []float64
	biases  []float64

	act activations.Activation
}

// ConvCache is the forward cache of a Conv2D layer: the unpadded input, a
// snapshot of the weights, biases and hyperparameters at forward time, and
// the pre-activation values needed to mask the upstream gradient.
type ConvCache struct {
	Input      *tensor.Tensor4D
	Weights    []float64
	Biases     []float64
	KernelSize int
	Stride     int
	Padding    int
	PreAct     *tensor.Tensor4D
}

func (c *ConvCache) cacheKind() string { return "conv2d" }

// NewConv2D creates a 2D convolutional layer.
//
// Weights are drawn from a Gaussian with He scaling sqrt(2/fanIn) for the
// ReLU default; biases start at zero. The seed makes initialization
// reproducible without touching any process-global random state. Passing
// activations.Identity disables the in-layer ReLU and its backward mask.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int,
	act activations.Activation, seed uint64) (*Conv2D, error) {

	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("conv2d: channel counts (%d in, %d out) must be positive", inChannels, outChannels)
	}
	if kernelSize <= 0 {
		return nil, fmt.Errorf("conv2d: kernel size %d must be positive", kernelSize)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("conv2d: stride %d must be positive", stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("conv2d: padding %d must be non-negative", padding)
	}
	if act == nil {
		act = activations.ReLU{}
	}

	fanIn := float64(inChannels * kernelSize * kernelSize)
	normal := distuv.Normal{
		Mu:    0,
		Sigma: math.Sqrt(2.0 / fanIn),
		Src:   rand.NewSource(seed),
	}

	weights := make([]float64, kernelSize*kernelSize*inChannels*outChannels)
	for i := range weights {
		weights[i] = normal.Rand()
	}

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weights:     weights,
		biases:      make([]float64, outChannels),
		act:         act,
	}, nil
}

// weightIndex addresses the flattened (kh, kw, inChannel, outChannel) bank.
func (c *Conv2D) weightIndex(kh, kw, ic, oc int) int {
	return ((kh*c.kernelSize+kw)*c.inChannels+ic)*c.outChannels + oc
}

// Forward convolves the input volume with the filter bank.
//
// For every sample, output position and output channel the corresponding
// padded input window (window start = index * stride) is dot-multiplied with
// that channel's filter, the bias added and the activation applied. Returns
// the output volume and the cache for the matching Backward call.
func (c *Conv2D) Forward(x *tensor.Tensor4D) (*tensor.Tensor4D, Cache) {
	n, h, w, ch := x.Dims()
	if ch != c.inChannels {
		panic(fmt.Sprintf("conv2d: input has %d channels, layer expects %d", ch, c.inChannels))
	}

	outH, err := tensor.ConvOutputSize(h, c.kernelSize, c.stride, c.padding)
	if err != nil {
		panic(fmt.Sprintf("conv2d: %v", err))
	}
	outW, err := tensor.ConvOutputSize(w, c.kernelSize, c.stride, c.padding)
	if err != nil {
		panic(fmt.Sprintf("conv2d: %v", err))
	}

	padded := x.Pad(c.padding)
	preAct := tensor.New(n, outH, outW, c.outChannels)
	out := tensor.New(n, outH, outW, c.outChannels)

	for i := 0; i < n; i++ {
		for oh := 0; oh < outH; oh++ {
			vertStart := oh * c.stride
			for ow := 0; ow < outW; ow++ {
				horizStart := ow * c.stride
				for oc := 0; oc < c.outChannels; oc++ {
					sum := c.biases[oc]
					for kh := 0; kh < c.kernelSize; kh++ {
						for kw := 0; kw < c.kernelSize; kw++ {
							for ic := 0; ic < c.inChannels; ic++ {
								sum += padded.At(i, vertStart+kh, horizStart+kw, ic) *
									c.weights[c.weightIndex(kh, kw, ic, oc)]
							}
						}
					}
					preAct.Set(i, oh, ow, oc, sum)
					out.Set(i, oh, ow, oc, c.act.Activate(sum))
				}
			}
		}
	}

	cache := &ConvCache{
		Input:      x,
		Weights:    append([]float64(nil), c.weights...),
		Biases:     append([]float64(nil), c.biases...),
		KernelSize: c.kernelSize,
		Stride:     c.stride,
		Padding:    c.padding,
		PreAct:     preAct,
	}
	return out, cache
}

// Backward propagates the gradient of the loss w.r.t. the layer output back
// through the convolution.
//
// The upstream gradient is first masked by the activation derivative at the
// cached pre-activation, then scatter-added into the padded input gradient
// (weighted by the filter), the filter gradient (weighted by the input
// window) and the bias gradient. Padding is stripped from the input gradient
// afterwards; padding zero leaves it untouched. The snapshot in the cache is
// used throughout, so a parameter update between forward and backward cannot
// skew the result.
func (c *Conv2D) Backward(grad *tensor.Tensor4D, cache Cache) (*tensor.Tensor4D, *Gradients) {
	cc, ok := cache.(*ConvCache)
	if !ok {
		panic(fmt.Sprintf("conv2d: backward called with %T cache", cache))
	}

	gn, gh, gw, gc := grad.Dims()
	pn, ph, pw, pc := cc.PreAct.Dims()
	if gn != pn || gh != ph || gw != pw || gc != pc {
		panic(fmt.Sprintf("conv2d: gradient shape (%d, %d, %d, %d) does not match output shape (%d, %d, %d, %d)",
			gn, gh, gw, gc, pn, ph, pw, pc))
	}

	padded := cc.Input.Pad(cc.Padding)
	dPadded := padded.ZerosLike()
	dWeights := make([]float64, len(cc.Weights))
	dBiases := make([]float64, len(cc.Biases))

	for i := 0; i < gn; i++ {
		for oh := 0; oh < gh; oh++ {
			vertStart := oh * cc.Stride
			for ow := 0; ow < gw; ow++ {
				horizStart := ow * cc.Stride
				for oc := 0; oc < gc; oc++ {
					g := grad.At(i, oh, ow, oc) * c.act.Derivative(cc.PreAct.At(i, oh, ow, oc))
					dBiases[oc] += g
					for kh := 0; kh < cc.KernelSize; kh++ {
						for kw := 0; kw < cc.KernelSize; kw++ {
							for ic := 0; ic < c.inChannels; ic++ {
								widx := c.weightIndex(kh, kw, ic, oc)
								dPadded.AddAt(i, vertStart+kh, horizStart+kw, ic, cc.Weights[widx]*g)
								dWeights[widx] += padded.At(i, vertStart+kh, horizStart+kw, ic) * g
							}
						}
					}
				}
			}
		}
	}

	return dPadded.Unpad(cc.Padding), &Gradients{Weights: dWeights, Biases: dBiases}
}

// Params returns weights and biases flattened (copy).
func (c *Conv2D) Params() []float64 {
	params := make([]float64, 0, len(c.weights)+len(c.biases))
	params = append(params, c.weights...)
	params = append(params, c.biases...)
	return params
}

// SetParams updates weights and biases from a flattened slice.
func (c *Conv2D) SetParams(params []float64) {
	if len(params) != len(c.weights)+len(c.biases) {
		panic(fmt.Sprintf("conv2d: got %d params, want %d", len(params), len(c.weights)+len(c.biases)))
	}
	copy(c.weights, params[:len(c.weights)])
	copy(c.biases, params[len(c.weights):])
}

// Weight returns the filter value at (kh, kw, inChannel, outChannel).
func (c *Conv2D) Weight(kh, kw, ic, oc int) float64 {
	return c.weights[c.weightIndex(kh, kw, ic, oc)]
}

// SetWeight sets the filter value at (kh, kw, inChannel, outChannel).
func (c *Conv2D) SetWeight(kh, kw, ic, oc int, v float64) {
	c.weights[c.weightIndex(kh, kw, ic, oc)] = v
}

// SetBias sets the bias for an output channel.
func (c *Conv2D) SetBias(oc int, v float64) {
	c.biases[oc] = v
}

// InChannels returns the number of input channels.
func (c *Conv2D) InChannels() int { return c.inChannels }

// OutChannels returns the number of output channels.
func (c *Conv2D) OutChannels() int { return c.outChannels }

// KernelSize returns the kernel size.
func (c *Conv2D) KernelSize() int { return c.kernelSize }

// Stride returns the stride.
func (c *Conv2D) Stride() int { return c.stride }

// Padding returns the padding.
func (c *Conv2D) Padding() int { return c.padding }
