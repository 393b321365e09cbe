package layer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewDenseValidation(t *testing.T) {
	_, err := NewDense(0, 2, 1)
	assert.Error(t, err)

	_, err = NewDense(4, 0, 1)
	assert.Error(t, err)
}

func TestDenseForwardLinearAffineMap(t *testing.T) {
	d, err := NewDense(2, 2, 1)
	require.NoError(t, err)
	d.SetWeights(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	d.SetBiases(mat.NewVecDense(2, []float64{10, 20}))

	x := mat.NewDense(2, 1, []float64{1, -1})
	logits, cache := d.ForwardLinear(x)

	// W*x + b = [1-2+10, 3-4+20]
	assert.InDelta(t, 9.0, logits.At(0, 0), 1e-12)
	assert.InDelta(t, 19.0, logits.At(1, 0), 1e-12)

	// The cache snapshots input, weights and biases as of forward time.
	require.NotNil(t, cache)
	assert.Equal(t, 1.0, cache.Input.At(0, 0))
	assert.Equal(t, 2.0, cache.Weights.At(0, 1))
	assert.Equal(t, 20.0, cache.Biases.AtVec(1))

	d.SetWeights(mat.NewDense(2, 2, []float64{0, 0, 0, 0}))
	d.SetBiases(mat.NewVecDense(2, []float64{0, 0}))
	assert.Equal(t, 2.0, cache.Weights.At(0, 1))
	assert.Equal(t, 20.0, cache.Biases.AtVec(1))
}

func TestDenseForwardActivationSoftmaxPerColumn(t *testing.T) {
	d, err := NewDense(3, 2, 1)
	require.NoError(t, err)

	logits := mat.NewDense(2, 2, []float64{
		0, 1000,
		0, 1000,
	})
	probs, cache := d.ForwardActivation(logits)

	// Equal logits give a uniform column even at overflow scale.
	for j := 0; j < 2; j++ {
		assert.InDelta(t, 0.5, probs.At(0, j), 1e-12)
		assert.InDelta(t, 0.5, probs.At(1, j), 1e-12)
	}

	// The pre-activation logits are cached, not the probabilities.
	require.NotNil(t, cache)
	assert.Equal(t, 1000.0, cache.Logits.At(0, 1))
	assert.Equal(t, 0.0, cache.Logits.At(0, 0))
}

func TestDenseForwardComposesStages(t *testing.T) {
	d, err := NewDense(2, 2, 1)
	require.NoError(t, err)
	d.SetWeights(mat.NewDense(2, 2, []float64{1, 0, 0, 1}))

	x := mat.NewDense(2, 1, []float64{0.5, -0.5})

	probs, cache := d.Forward(x)
	require.NotNil(t, cache.Linear)
	require.NotNil(t, cache.Activation)

	logits, _ := d.ForwardLinear(x)
	composed, _ := d.ForwardActivation(logits)

	assert.InDelta(t, composed.At(0, 0), probs.At(0, 0), 1e-12)
	assert.InDelta(t, composed.At(1, 0), probs.At(1, 0), 1e-12)
	assert.Equal(t, logits.At(0, 0), cache.Activation.Logits.At(0, 0))
}

func TestDenseForwardShapesAndSoftmax(t *testing.T) {
	d, err := NewDense(3, 2, 1)
	require.NoError(t, err)

	x := mat.NewDense(3, 4, nil)
	probs, cache := d.Forward(x)

	r, c := probs.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 4, c)
	require.NotNil(t, cache)

	for j := 0; j < c; j++ {
		sum := 0.0
		for i := 0; i < r; i++ {
			v := probs.At(i, j)
			assert.Greater(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
}

func TestDenseBackwardSoftmaxCrossEntropyGradient(t *testing.T) {
	d, err := NewDense(2, 2, 1)
	require.NoError(t, err)
	d.SetWeights(mat.NewDense(2, 2, []float64{1, 0, 0, 1}))

	x := mat.NewDense(2, 1, []float64{0.5, -0.5})
	_, cache := d.Forward(x)

	// The combined derivative is probs - labels regardless of the logits
	// that produced the probabilities.
	probs := mat.NewDense(2, 1, []float64{0.7, 0.3})
	labels := mat.NewDense(2, 1, []float64{1, 0})

	dInput, grads := d.Backward(probs, labels, cache)

	// dZ = [-0.3, 0.3]
	assert.InDelta(t, -0.3, grads.Biases[0], 1e-12)
	assert.InDelta(t, 0.3, grads.Biases[1], 1e-12)

	// dW = dZ * x^T / 1
	assert.InDelta(t, -0.15, grads.Weights[0], 1e-12)
	assert.InDelta(t, 0.15, grads.Weights[1], 1e-12)
	assert.InDelta(t, 0.15, grads.Weights[2], 1e-12)
	assert.InDelta(t, -0.15, grads.Weights[3], 1e-12)

	// dInput = W^T * dZ with identity weights.
	assert.InDelta(t, -0.3, dInput.At(0, 0), 1e-12)
	assert.InDelta(t, 0.3, dInput.At(1, 0), 1e-12)
}

func TestDenseBackwardAveragesOverBatch(t *testing.T) {
	d, err := NewDense(1, 2, 1)
	require.NoError(t, err)

	x := mat.NewDense(1, 2, []float64{1, 1})
	_, cache := d.Forward(x)

	probs := mat.NewDense(2, 2, []float64{
		0.6, 0.2,
		0.4, 0.8,
	})
	labels := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 1,
	})

	_, grads := d.Backward(probs, labels, cache)

	// Column gradients (-0.4, 0.2) and (0.4, -0.2) averaged over m = 2.
	assert.InDelta(t, -0.1, grads.Biases[0], 1e-12)
	assert.InDelta(t, 0.1, grads.Biases[1], 1e-12)
}

func TestDenseGradientCheck(t *testing.T) {
	// Finite differences through the full softmax cross-entropy composition.
	d, err := NewDense(3, 2, 7)
	require.NoError(t, err)

	x := mat.NewDense(3, 2, []float64{
		0.2, -1.1,
		0.9, 0.4,
		-0.3, 0.6,
	})
	labels := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 1,
	})

	cost := func() float64 {
		probs, _ := d.Forward(x)
		_, m := probs.Dims()
		sum := 0.0
		for j := 0; j < m; j++ {
			for i := 0; i < 2; i++ {
				sum += labels.At(i, j) * math.Log(probs.At(i, j)+1e-9)
			}
		}
		return -sum / float64(m)
	}

	probs, cache := d.Forward(x)
	_, grads := d.Backward(probs, labels, cache)
	analytic := grads.Flat()

	const eps = 1e-6
	params := d.Params()
	require.Len(t, analytic, len(params))

	for i := range params {
		orig := params[i]

		params[i] = orig + eps
		d.SetParams(params)
		plus := cost()

		params[i] = orig - eps
		d.SetParams(params)
		minus := cost()

		params[i] = orig
		d.SetParams(params)

		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, analytic[i], 1e-5, "param %d", i)
	}
}

func TestDenseBackwardUsesForwardSnapshot(t *testing.T) {
	d, err := NewDense(1, 2, 1)
	require.NoError(t, err)
	d.SetWeights(mat.NewDense(2, 1, []float64{2, -2}))

	x := mat.NewDense(1, 1, []float64{1})
	_, cache := d.Forward(x)

	d.SetWeights(mat.NewDense(2, 1, []float64{100, 100}))

	probs := mat.NewDense(2, 1, []float64{0.9, 0.1})
	labels := mat.NewDense(2, 1, []float64{1, 0})

	dInput, _ := d.Backward(probs, labels, cache)

	// dInput = W_snapshot^T * dZ = 2*(-0.1) + (-2)*(0.1)
	assert.InDelta(t, -0.4, dInput.At(0, 0), 1e-12)
}

func TestDenseParamsRoundTrip(t *testing.T) {
	d, err := NewDense(4, 3, 1)
	require.NoError(t, err)

	params := d.Params()
	require.Len(t, params, 4*3+3)

	for i := range params {
		params[i] = float64(i) / 10
	}
	d.SetParams(params)
	assert.Equal(t, params, d.Params())

	assert.Panics(t, func() { d.SetParams(params[:5]) })
}
