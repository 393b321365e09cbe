// Package convnet is the public surface of the layer engine. It re-exports
// the internal building blocks so callers assemble networks without importing
// internal packages directly.
package convnet

import (
	"github.com/convnet-go/convnet/internal/activations"
	"github.com/convnet-go/convnet/internal/layer"
	"github.com/convnet-go/convnet/internal/net"
	"github.com/convnet-go/convnet/internal/opt"
	"github.com/convnet-go/convnet/internal/tensor"
)

// Re-export common types for easier access
type (
	Tensor4D  = tensor.Tensor4D
	Network   = net.Network
	Config    = net.Config
	Layer     = layer.Layer
	PoolMode  = layer.PoolMode
	Optimizer = opt.Optimizer
	Callback  = net.Callback
)

// Pooling modes
const (
	PoolMax = layer.PoolMax
	PoolAvg = layer.PoolAvg
)

// Tensors
func NewTensor(n, h, w, c int) *Tensor4D {
	return tensor.New(n, h, w, c)
}

func TensorFromSlice(n, h, w, c int, data []float64) (*Tensor4D, error) {
	return tensor.FromSlice(n, h, w, c, data)
}

// Network creation
func New(inChannels, inputH, inputW int, cfg Config, optimizer Optimizer) (*Network, error) {
	return net.New(inChannels, inputH, inputW, cfg, optimizer)
}

// Activations
var (
	ReLU     = activations.ReLU{}
	Identity = activations.Identity{}
	Softmax  = activations.Softmax{}
)

// Layers
func Conv2D(inChannels, outChannels, kernelSize, stride, padding int, act activations.Activation, seed uint64) (*layer.Conv2D, error) {
	return layer.NewConv2D(inChannels, outChannels, kernelSize, stride, padding, act, seed)
}

func Pool2D(window, stride int, mode PoolMode) (*layer.Pool2D, error) {
	return layer.NewPool2D(window, stride, mode)
}

func Dense(inFeatures, classes int, seed uint64) (*layer.Dense, error) {
	return layer.NewDense(inFeatures, classes, seed)
}

// Optimizers
func SGD(lr float64) Optimizer {
	return opt.NewSGD(lr)
}

func Adam(lr float64) Optimizer {
	return opt.NewAdam(lr)
}

func ReduceLROnPlateau(optimizer Optimizer, factor float64, patience int, threshold, minLR float64) *opt.ReduceLROnPlateau {
	return opt.NewReduceLROnPlateau(optimizer, factor, patience, threshold, minLR)
}

// Callbacks
func Logger(interval int) net.Logger {
	return net.Logger{Interval: interval}
}

func CSVLogger(filename string, append bool) *net.CSVLogger {
	return net.NewCSVLogger(filename, append)
}

func EarlyStopping(patience int, minDelta float64) *net.EarlyStopping {
	return net.NewEarlyStopping(patience, minDelta)
}

func SchedulerCallback(scheduler opt.Scheduler) Callback {
	return net.NewSchedulerCallback(scheduler)
}
