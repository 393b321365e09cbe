package layer

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/convnet-go/convnet/internal/activations"
)

// Dense is the fully-connected classifier head. It maps a flattened feature
// matrix (features x batch, one column per sample) to class logits and a
// softmax distribution per column.
type Dense struct {
	inFeatures int
	classes    int

	weights *mat.Dense // classes x inFeatures
	biases  *mat.VecDense
}

// LinearCache is the forward cache of the affine map: the flattened input and
// a snapshot of the weights and biases at forward time.
type LinearCache struct {
	Input   *mat.Dense // inFeatures x batch
	Weights *mat.Dense
	Biases  *mat.VecDense
}

// ActivationCache is the forward cache of the softmax step: the pre-softmax
// logits.
type ActivationCache struct {
	Logits *mat.Dense // classes x batch
}

// DenseCache pairs the two stage caches of one full forward pass.
type DenseCache struct {
	Linear     *LinearCache
	Activation *ActivationCache
}

func (c *DenseCache) cacheKind() string { return "dense" }

// NewDense creates a fully-connected layer mapping inFeatures inputs to one
// logit per class. Weights are drawn from N(0, 0.01); biases start at zero.
func NewDense(inFeatures, classes int, seed uint64) (*Dense, error) {
	if inFeatures <= 0 {
		return nil, fmt.Errorf("dense: input size %d must be positive", inFeatures)
	}
	if classes <= 0 {
		return nil, fmt.Errorf("dense: class count %d must be positive", classes)
	}

	normal := distuv.Normal{
		Mu:    0,
		Sigma: 0.01,
		Src:   rand.NewSource(seed),
	}

	w := make([]float64, classes*inFeatures)
	for i := range w {
		w[i] = normal.Rand()
	}

	return &Dense{
		inFeatures: inFeatures,
		classes:    classes,
		weights:    mat.NewDense(classes, inFeatures, w),
		biases:     mat.NewVecDense(classes, nil),
	}, nil
}

// ForwardLinear computes the affine map W*x + b column-wise and returns the
// logits (classes x batch) with the cache its backward pass needs.
func (d *Dense) ForwardLinear(x *mat.Dense) (*mat.Dense, *LinearCache) {
	rows, batch := x.Dims()
	if rows != d.inFeatures {
		panic(fmt.Sprintf("dense: input has %d features, layer expects %d", rows, d.inFeatures))
	}

	logits := mat.NewDense(d.classes, batch, nil)
	logits.Mul(d.weights, x)
	for j := 0; j < batch; j++ {
		for i := 0; i < d.classes; i++ {
			logits.Set(i, j, logits.At(i, j)+d.biases.AtVec(i))
		}
	}

	cache := &LinearCache{
		Input:   mat.DenseCopyOf(x),
		Weights: mat.DenseCopyOf(d.weights),
		Biases:  mat.VecDenseCopyOf(d.biases),
	}
	return logits, cache
}

// ForwardActivation applies the stable softmax to each logit column and
// returns the class probabilities with the logits cached.
func (d *Dense) ForwardActivation(logits *mat.Dense) (*mat.Dense, *ActivationCache) {
	rows, batch := logits.Dims()
	if rows != d.classes {
		panic(fmt.Sprintf("dense: got %d logit rows, layer expects %d", rows, d.classes))
	}

	probs := mat.DenseCopyOf(logits)
	sm := activations.Softmax{}
	col := make([]float64, d.classes)
	for j := 0; j < batch; j++ {
		mat.Col(col, j, probs)
		sm.ActivateBatch(col)
		probs.SetCol(j, col)
	}

	return probs, &ActivationCache{Logits: mat.DenseCopyOf(logits)}
}

// Forward composes ForwardLinear and ForwardActivation, returning the class
// probabilities (classes x batch) and the paired stage caches.
func (d *Dense) Forward(x *mat.Dense) (*mat.Dense, *DenseCache) {
	logits, linearCache := d.ForwardLinear(x)
	probs, actCache := d.ForwardActivation(logits)
	return probs, &DenseCache{Linear: linearCache, Activation: actCache}
}

// Backward computes the gradients of the softmax cross-entropy loss given the
// forward probabilities and the one-hot labels (both classes x batch).
//
// The combined softmax/cross-entropy derivative collapses to probs - labels
// per column. Weight and bias gradients are averaged over the batch; the
// returned input gradient feeds the spatial stack after unflattening.
// Backward never mutates the layer parameters.
func (d *Dense) Backward(probs, labels *mat.Dense, cache *DenseCache) (*mat.Dense, *Gradients) {
	pr, pb := probs.Dims()
	lr, lb := labels.Dims()
	if pr != lr || pb != lb {
		panic(fmt.Sprintf("dense: probabilities (%d x %d) and labels (%d x %d) disagree", pr, pb, lr, lb))
	}
	if pr != d.classes {
		panic(fmt.Sprintf("dense: got %d classes, layer expects %d", pr, d.classes))
	}

	batch := float64(pb)

	var dZ mat.Dense
	dZ.Sub(probs, labels)

	var dW mat.Dense
	dW.Mul(&dZ, cache.Linear.Input.T())
	dW.Scale(1/batch, &dW)

	dB := make([]float64, d.classes)
	for i := 0; i < d.classes; i++ {
		sum := 0.0
		for j := 0; j < pb; j++ {
			sum += dZ.At(i, j)
		}
		dB[i] = sum / batch
	}

	var dInput mat.Dense
	dInput.Mul(cache.Linear.Weights.T(), &dZ)

	dWFlat := make([]float64, d.classes*d.inFeatures)
	copy(dWFlat, dW.RawMatrix().Data)

	return &dInput, &Gradients{Weights: dWFlat, Biases: dB}
}

// Params returns weights then biases flattened (copy).
func (d *Dense) Params() []float64 {
	params := make([]float64, 0, d.classes*d.inFeatures+d.classes)
	params = append(params, d.weights.RawMatrix().Data...)
	params = append(params, d.biases.RawVector().Data...)
	return params
}

// SetParams updates weights and biases from a flattened slice.
func (d *Dense) SetParams(params []float64) {
	nw := d.classes * d.inFeatures
	if len(params) != nw+d.classes {
		panic(fmt.Sprintf("dense: got %d params, want %d", len(params), nw+d.classes))
	}
	copy(d.weights.RawMatrix().Data, params[:nw])
	copy(d.biases.RawVector().Data, params[nw:])
}

// SetWeights replaces the weight matrix. Used by tests to pin parameters.
func (d *Dense) SetWeights(w *mat.Dense) {
	r, c := w.Dims()
	if r != d.classes || c != d.inFeatures {
		panic(fmt.Sprintf("dense: weight matrix %d x %d, want %d x %d", r, c, d.classes, d.inFeatures))
	}
	d.weights.Copy(w)
}

// SetBiases replaces the bias vector. Used by tests to pin parameters.
func (d *Dense) SetBiases(b *mat.VecDense) {
	if b.Len() != d.classes {
		panic(fmt.Sprintf("dense: bias vector has %d entries, want %d", b.Len(), d.classes))
	}
	d.biases.CopyVec(b)
}

// InFeatures returns the flattened input size.
func (d *Dense) InFeatures() int { return d.inFeatures }

// Classes returns the number of output classes.
func (d *Dense) Classes() int { return d.classes }
