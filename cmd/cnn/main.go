// Command cnn trains a small convolutional classifier on synthetic two-class
// image data and reports the cost curve and final accuracy.
package main

import (
	"fmt"
	"os"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/convnet-go/convnet/convnet"
)

const (
	imageSize  = 8
	numSamples = 40
	iterations = 500
	seed       = 42
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cnn: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	x, labels := generateImages(numSamples, imageSize, seed)

	cfg := convnet.Config{
		NumFilters:  []int{4},
		KernelSizes: []int{3},
		Strides:     []int{1},
		Paddings:    []int{1},
		Pooling:     []bool{true},
		PoolSizes:   []int{2},
		PoolStrides: []int{2},
		PoolModes:   []convnet.PoolMode{convnet.PoolMax},
		Classes:     2,
		Seed:        seed,
	}

	network, err := convnet.New(1, imageSize, imageSize, cfg, convnet.Adam(0.005))
	if err != nil {
		return err
	}

	fmt.Println("Training on synthetic two-class images...")
	costs := network.Fit(x, labels, iterations, convnet.Logger(100))

	fmt.Printf("Final cost: %.6f\n", costs[len(costs)-1])
	fmt.Printf("Training accuracy: %.1f%%\n", network.Accuracy(x, labels)*100)
	return nil
}

// generateImages builds a two-class dataset: class 0 lights the top-left
// quadrant over low noise, class 1 is noise only.
func generateImages(n, size int, seed uint64) (*convnet.Tensor4D, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))

	x := convnet.NewTensor(n, size, size, 1)
	labels := mat.NewDense(2, n, nil)

	for i := 0; i < n; i++ {
		class := i % 2
		for y := 0; y < size; y++ {
			for xx := 0; xx < size; xx++ {
				v := rng.Float64() * 0.2
				if class == 0 && y < size/2 && xx < size/2 {
					v += 0.8
				}
				x.Set(i, y, xx, 0, v)
			}
		}
		labels.Set(class, i, 1)
	}

	return x, labels
}
