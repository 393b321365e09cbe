package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSGDUpdate(t *testing.T) {
	s := NewSGD(0.1)
	s.Advance()

	params := []float64{1, 2, 3}
	grads := []float64{10, -10, 0}
	s.Update(0, params, grads)

	assert.InDelta(t, 0.0, params[0], 1e-12)
	assert.InDelta(t, 3.0, params[1], 1e-12)
	assert.InDelta(t, 3.0, params[2], 1e-12)
}

func TestSGDLengthMismatchPanics(t *testing.T) {
	s := NewSGD(0.1)
	assert.Panics(t, func() {
		s.Update(0, []float64{1, 2}, []float64{1})
	})
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	// With bias correction the very first update is lr * g / (|g| + eps),
	// i.e. a step of almost exactly lr in the gradient direction.
	a := NewAdam(0.001)
	a.Advance()

	params := []float64{1, -1}
	a.Update(0, params, []float64{0.5, -0.5})

	assert.InDelta(t, 1-0.001, params[0], 1e-6)
	assert.InDelta(t, -1+0.001, params[1], 1e-6)
}

func TestAdamOutpacesSGDOnFlatQuadratic(t *testing.T) {
	// Minimize f(x) = 0.001 * x^2 from x = 5 with both optimizers at the
	// same learning rate. The tiny gradient starves SGD, while Adam's
	// normalized step keeps moving at roughly lr per iteration.
	adam := NewAdam(0.1)
	sgd := NewSGD(0.1)

	adamParams := []float64{5}
	sgdParams := []float64{5}
	for i := 0; i < 500; i++ {
		adam.Advance()
		adam.Update(0, adamParams, []float64{0.002 * adamParams[0]})

		sgd.Advance()
		sgd.Update(0, sgdParams, []float64{0.002 * sgdParams[0]})
	}

	assert.Less(t, math.Abs(adamParams[0]), 0.2)
	assert.Less(t, math.Abs(adamParams[0]), math.Abs(sgdParams[0]))
	assert.Greater(t, math.Abs(sgdParams[0]), 4.0) // SGD barely moved
}

func TestAdamKeepsStatePerKey(t *testing.T) {
	a := NewAdam(0.001)

	p0 := []float64{1}
	p1 := []float64{1, 1}

	a.Advance()
	a.Update(0, p0, []float64{1})
	a.Update(1, p1, []float64{1, 1})

	a.Advance()
	a.Update(0, p0, []float64{1})
	a.Update(1, p1, []float64{1, 1})

	require.Equal(t, 2, a.Step())

	// Same gradient history, so the two elements of key 1 track key 0.
	assert.InDelta(t, p0[0], p1[0], 1e-12)
	assert.InDelta(t, p0[0], p1[1], 1e-12)
}

func TestAdamPanicsWithoutAdvance(t *testing.T) {
	a := NewAdam(0.001)
	assert.Panics(t, func() {
		a.Update(0, []float64{1}, []float64{1})
	})
}

func TestAdamPanicsOnKeyShapeChange(t *testing.T) {
	a := NewAdam(0.001)
	a.Advance()
	a.Update(0, []float64{1, 2}, []float64{1, 1})

	a.Advance()
	assert.Panics(t, func() {
		a.Update(0, []float64{1}, []float64{1})
	})
}

func TestAdamSetLearningRateKeepsMoments(t *testing.T) {
	a := NewAdam(0.01)
	a.Advance()

	params := []float64{1}
	a.Update(0, params, []float64{1})

	a.SetLearningRate(0.0)
	assert.Equal(t, 0.0, a.LearningRate())

	// Zero learning rate must freeze parameters while moments persist.
	before := params[0]
	a.Advance()
	a.Update(0, params, []float64{1})
	assert.Equal(t, before, params[0])
}
