package layer

import (
	"fmt"
	"math"

	"github.com/convnet-go/convnet/internal/tensor"
)

// PoolMode selects the window reduction of a Pool2D layer.
type PoolMode int

const (
	// PoolMax keeps the window maximum.
	PoolMax PoolMode = iota
	// PoolAvg keeps the window mean.
	PoolAvg
)

func (m PoolMode) String() string {
	switch m {
	case PoolMax:
		return "max"
	case PoolAvg:
		return "average"
	default:
		return fmt.Sprintf("PoolMode(%d)", int(m))
	}
}

// Pool2D implements 2D pooling over NHWC activation volumes. It has no
// learned parameters; pooling applies no padding and preserves the channel
// count.
type Pool2D struct {
	window int
	stride int
	mode   PoolMode
}

// PoolCache is the forward cache of a Pool2D layer: the input volume and the
// hyperparameters in effect at forward time.
type PoolCache struct {
	Input  *tensor.Tensor4D
	Window int
	Stride int
	Mode   PoolMode
}

func (c *PoolCache) cacheKind() string { return "pool2d" }

// NewPool2D creates a pooling layer with the given square window, stride and
// reduction mode.
func NewPool2D(window, stride int, mode PoolMode) (*Pool2D, error) {
	if window <= 0 {
		return nil, fmt.Errorf("pool2d: window size %d must be positive", window)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("pool2d: stride %d must be positive", stride)
	}
	if mode != PoolMax && mode != PoolAvg {
		return nil, fmt.Errorf("pool2d: unknown mode %v", mode)
	}
	return &Pool2D{window: window, stride: stride, mode: mode}, nil
}

// Forward reduces every window (window start = index * stride) to its
// maximum or mean per channel.
func (p *Pool2D) Forward(x *tensor.Tensor4D) (*tensor.Tensor4D, Cache) {
	n, h, w, ch := x.Dims()

	outH, err := tensor.PoolOutputSize(h, p.window, p.stride)
	if err != nil {
		panic(fmt.Sprintf("pool2d: %v", err))
	}
	outW, err := tensor.PoolOutputSize(w, p.window, p.stride)
	if err != nil {
		panic(fmt.Sprintf("pool2d: %v", err))
	}

	out := tensor.New(n, outH, outW, ch)
	for i := 0; i < n; i++ {
		for oh := 0; oh < outH; oh++ {
			vertStart := oh * p.stride
			for ow := 0; ow < outW; ow++ {
				horizStart := ow * p.stride
				for k := 0; k < ch; k++ {
					switch p.mode {
					case PoolMax:
						maxVal := math.Inf(-1)
						for kh := 0; kh < p.window; kh++ {
							for kw := 0; kw < p.window; kw++ {
								if v := x.At(i, vertStart+kh, horizStart+kw, k); v > maxVal {
									maxVal = v
								}
							}
						}
						out.Set(i, oh, ow, k, maxVal)
					case PoolAvg:
						sum := 0.0
						for kh := 0; kh < p.window; kh++ {
							for kw := 0; kw < p.window; kw++ {
								sum += x.At(i, vertStart+kh, horizStart+kw, k)
							}
						}
						out.Set(i, oh, ow, k, sum/float64(p.window*p.window))
					}
				}
			}
		}
	}

	cache := &PoolCache{Input: x, Window: p.window, Stride: p.stride, Mode: p.mode}
	return out, cache
}

// Backward routes the upstream gradient back to the input positions that
// produced each output.
//
// Max mode recomputes each forward window and adds the full upstream value
// at every position equal to the window maximum; on a tie every tied cell
// receives the whole gradient, not a share of it. Average mode distributes
// gradient/window² uniformly. Overlapping windows accumulate additively.
func (p *Pool2D) Backward(grad *tensor.Tensor4D, cache Cache) (*tensor.Tensor4D, *Gradients) {
	pc, ok := cache.(*PoolCache)
	if !ok {
		panic(fmt.Sprintf("pool2d: backward called with %T cache", cache))
	}

	n, h, w, ch := pc.Input.Dims()
	outH, err := tensor.PoolOutputSize(h, pc.Window, pc.Stride)
	if err != nil {
		panic(fmt.Sprintf("pool2d: %v", err))
	}
	outW, err := tensor.PoolOutputSize(w, pc.Window, pc.Stride)
	if err != nil {
		panic(fmt.Sprintf("pool2d: %v", err))
	}

	gn, gh, gw, gc := grad.Dims()
	if gn != n || gh != outH || gw != outW || gc != ch {
		panic(fmt.Sprintf("pool2d: gradient shape (%d, %d, %d, %d) does not match output shape (%d, %d, %d, %d)",
			gn, gh, gw, gc, n, outH, outW, ch))
	}

	dInput := pc.Input.ZerosLike()
	for i := 0; i < gn; i++ {
		for oh := 0; oh < gh; oh++ {
			vertStart := oh * pc.Stride
			for ow := 0; ow < gw; ow++ {
				horizStart := ow * pc.Stride
				for k := 0; k < gc; k++ {
					g := grad.At(i, oh, ow, k)
					switch pc.Mode {
					case PoolMax:
						maxVal := math.Inf(-1)
						for kh := 0; kh < pc.Window; kh++ {
							for kw := 0; kw < pc.Window; kw++ {
								if v := pc.Input.At(i, vertStart+kh, horizStart+kw, k); v > maxVal {
									maxVal = v
								}
							}
						}
						for kh := 0; kh < pc.Window; kh++ {
							for kw := 0; kw < pc.Window; kw++ {
								if pc.Input.At(i, vertStart+kh, horizStart+kw, k) == maxVal {
									dInput.AddAt(i, vertStart+kh, horizStart+kw, k, g)
								}
							}
						}
					case PoolAvg:
						share := g / float64(pc.Window*pc.Window)
						for kh := 0; kh < pc.Window; kh++ {
							for kw := 0; kw < pc.Window; kw++ {
								dInput.AddAt(i, vertStart+kh, horizStart+kw, k, share)
							}
						}
					}
				}
			}
		}
	}

	return dInput, &Gradients{}
}

// Params returns layer parameters (empty for Pool2D).
func (p *Pool2D) Params() []float64 {
	return []float64{}
}

// SetParams sets layer parameters (no-op for Pool2D).
func (p *Pool2D) SetParams(params []float64) {}

// Window returns the window size.
func (p *Pool2D) Window() int { return p.window }

// Stride returns the stride.
func (p *Pool2D) Stride() int { return p.stride }

// Mode returns the reduction mode.
func (p *Pool2D) Mode() PoolMode { return p.mode }
