// Package tensor provides the dense 4D activation volume threaded through
// the convolution and pooling layers, plus the spatial shape arithmetic
// shared by the whole stack.
package tensor

import "fmt"

// Tensor4D is a dense float64 volume addressed by (sample, row, col, channel).
// Data is stored row-major in NHWC order; the shape is fixed at allocation.
type Tensor4D struct {
	n, h, w, c int
	data       []float64
}

// New allocates a zero-filled tensor with the given shape.
func New(n, h, w, c int) *Tensor4D {
	if n <= 0 || h <= 0 || w <= 0 || c <= 0 {
		panic(fmt.Sprintf("tensor: invalid shape (%d, %d, %d, %d)", n, h, w, c))
	}
	return &Tensor4D{n: n, h: h, w: w, c: c, data: make([]float64, n*h*w*c)}
}

// FromSlice builds a tensor from row-major NHWC data. The slice is copied.
func FromSlice(n, h, w, c int, data []float64) (*Tensor4D, error) {
	want := n * h * w * c
	if len(data) != want {
		return nil, fmt.Errorf("tensor: shape (%d, %d, %d, %d) requires %d elements, got %d",
			n, h, w, c, want, len(data))
	}
	t := New(n, h, w, c)
	copy(t.data, data)
	return t, nil
}

// Dims returns the shape as (samples, height, width, channels).
func (t *Tensor4D) Dims() (n, h, w, c int) {
	return t.n, t.h, t.w, t.c
}

func (t *Tensor4D) index(i, y, x, k int) int {
	return ((i*t.h+y)*t.w+x)*t.c + k
}

// At returns the element at (sample, row, col, channel).
func (t *Tensor4D) At(i, y, x, k int) float64 {
	return t.data[t.index(i, y, x, k)]
}

// Set stores v at (sample, row, col, channel).
func (t *Tensor4D) Set(i, y, x, k int, v float64) {
	t.data[t.index(i, y, x, k)] = v
}

// AddAt accumulates v into (sample, row, col, channel).
func (t *Tensor4D) AddAt(i, y, x, k int, v float64) {
	t.data[t.index(i, y, x, k)] += v
}

// Data exposes the backing slice in row-major NHWC order.
func (t *Tensor4D) Data() []float64 {
	return t.data
}

// Clone returns a deep copy.
func (t *Tensor4D) Clone() *Tensor4D {
	out := New(t.n, t.h, t.w, t.c)
	copy(out.data, t.data)
	return out
}

// ZerosLike returns a zero tensor with the same shape.
func (t *Tensor4D) ZerosLike() *Tensor4D {
	return New(t.n, t.h, t.w, t.c)
}

// Pad returns a copy with pad zero-valued cells added on each spatial side.
// pad == 0 returns a plain copy.
func (t *Tensor4D) Pad(pad int) *Tensor4D {
	if pad < 0 {
		panic(fmt.Sprintf("tensor: negative padding %d", pad))
	}
	if pad == 0 {
		return t.Clone()
	}
	out := New(t.n, t.h+2*pad, t.w+2*pad, t.c)
	for i := 0; i < t.n; i++ {
		for y := 0; y < t.h; y++ {
			for x := 0; x < t.w; x++ {
				for k := 0; k < t.c; k++ {
					out.Set(i, y+pad, x+pad, k, t.At(i, y, x, k))
				}
			}
		}
	}
	return out
}

// Unpad strips pad cells from each spatial side, the inverse of Pad.
// pad == 0 returns a plain copy; no out-of-range slicing for any valid pad.
func (t *Tensor4D) Unpad(pad int) *Tensor4D {
	if pad < 0 {
		panic(fmt.Sprintf("tensor: negative padding %d", pad))
	}
	if pad == 0 {
		return t.Clone()
	}
	if t.h <= 2*pad || t.w <= 2*pad {
		panic(fmt.Sprintf("tensor: cannot strip padding %d from %dx%d volume", pad, t.h, t.w))
	}
	out := New(t.n, t.h-2*pad, t.w-2*pad, t.c)
	for i := 0; i < t.n; i++ {
		for y := 0; y < out.h; y++ {
			for x := 0; x < out.w; x++ {
				for k := 0; k < t.c; k++ {
					out.Set(i, y, x, k, t.At(i, y+pad, x+pad, k))
				}
			}
		}
	}
	return out
}

// ConvOutputSize computes the convolution output extent
// (in - kernel + 2*pad)/stride + 1 along one spatial dimension.
// Configurations whose windows do not place exactly (non-integral division)
// or that produce a non-positive extent are rejected instead of floored.
func ConvOutputSize(in, kernel, stride, pad int) (int, error) {
	if in <= 0 {
		return 0, fmt.Errorf("tensor: input size %d must be positive", in)
	}
	if kernel <= 0 {
		return 0, fmt.Errorf("tensor: kernel size %d must be positive", kernel)
	}
	if stride <= 0 {
		return 0, fmt.Errorf("tensor: stride %d must be positive", stride)
	}
	if pad < 0 {
		return 0, fmt.Errorf("tensor: padding %d must be non-negative", pad)
	}
	span := in - kernel + 2*pad
	if span < 0 {
		return 0, fmt.Errorf("tensor: kernel %d larger than padded input %d", kernel, in+2*pad)
	}
	if span%stride != 0 {
		return 0, fmt.Errorf("tensor: stride %d does not evenly place a %d-wide kernel over input %d with padding %d",
			stride, kernel, in, pad)
	}
	return span/stride + 1, nil
}

// PoolOutputSize computes the pooling output extent (in - window)/stride + 1.
// Pooling applies no padding; the same exact-placement rule as ConvOutputSize
// applies.
func PoolOutputSize(in, window, stride int) (int, error) {
	return ConvOutputSize(in, window, stride, 0)
}
