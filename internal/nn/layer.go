package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var ErrDimensionMismatch = errors.New("dimension mismatch")

// Layer is one fully connected feedforward layer. Its weight matrix has one
// row per input plus a trailing bias row fed with the constant 1.0, and one
// column per output.
type Layer struct {
	neuronCount int
	outputCount int
	weights     *mat.Dense
	activation  ActivationFunc
}

// NewLayer returns a zero-weighted layer mapping neuronCount inputs to
// outputCount outputs. The activation defaults to Sigmoid.
func NewLayer(neuronCount, outputCount int) (*Layer, error) {
	if neuronCount < 0 {
		return nil, fmt.Errorf("neuron count must be >= 0, got %d", neuronCount)
	}
	if outputCount <= 0 {
		return nil, fmt.Errorf("output count must be > 0, got %d", outputCount)
	}
	return &Layer{
		neuronCount: neuronCount,
		outputCount: outputCount,
		weights:     mat.NewDense(neuronCount+1, outputCount, nil),
		activation:  Sigmoid,
	}, nil
}

func (l *Layer) NeuronCount() int {
	return l.neuronCount
}

func (l *Layer) OutputCount() int {
	return l.outputCount
}

// WeightCount is (NeuronCount+1)*OutputCount.
func (l *Layer) WeightCount() int {
	return (l.neuronCount + 1) * l.outputCount
}

func (l *Layer) Activation() ActivationFunc {
	return l.activation
}

// SetActivation replaces the activation. A nil activation makes the layer
// return raw weighted sums.
func (l *Layer) SetActivation(fn ActivationFunc) {
	l.activation = fn
}

// Weight returns the weight from input row i (NeuronCount is the bias row) to
// output j.
func (l *Layer) Weight(i, j int) float64 {
	return l.weights.At(i, j)
}

// Weights returns a row-major copy of the weight matrix.
func (l *Layer) Weights() []float64 {
	out := make([]float64, 0, l.WeightCount())
	for i := 0; i <= l.neuronCount; i++ {
		out = append(out, l.weights.RawRowView(i)...)
	}
	return out
}

// SetWeights fills the matrix row-major: the outer loop runs over inputs
// including the bias row, the inner loop over outputs.
func (l *Layer) SetWeights(flat []float64) error {
	if len(flat) != l.WeightCount() {
		return fmt.Errorf("%w: layer has %d weights, got %d", ErrDimensionMismatch, l.WeightCount(), len(flat))
	}
	l.weights = mat.NewDense(l.neuronCount+1, l.outputCount, append([]float64(nil), flat...))
	return nil
}

// SetRandomWeights draws every weight uniformly from the range spanned by min
// and max.
func (l *Layer) SetRandomWeights(rng *rand.Rand, min, max float64) {
	span := math.Abs(max - min)
	low := math.Min(min, max)
	rows, cols := l.weights.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			l.weights.Set(i, j, low+rng.Float64()*span)
		}
	}
}

// ProcessInputs computes activation(sum_i biased[i]*w[i,j]) for every output j.
func (l *Layer) ProcessInputs(inputs []float64) ([]float64, error) {
	if len(inputs) != l.neuronCount {
		return nil, fmt.Errorf("%w: layer expects %d inputs, got %d", ErrDimensionMismatch, l.neuronCount, len(inputs))
	}

	biased := make([]float64, l.neuronCount+1)
	copy(biased, inputs)
	biased[l.neuronCount] = 1.0

	var sums mat.VecDense
	sums.MulVec(l.weights.T(), mat.NewVecDense(len(biased), biased))

	out := make([]float64, l.outputCount)
	for j := range out {
		out[j] = sums.AtVec(j)
		if l.activation != nil {
			out[j] = l.activation(out[j])
		}
	}
	return out, nil
}

// DeepCopy returns a layer with copied weights and the same activation.
func (l *Layer) DeepCopy() *Layer {
	return &Layer{
		neuronCount: l.neuronCount,
		outputCount: l.outputCount,
		weights:     mat.DenseCopyOf(l.weights),
		activation:  l.activation,
	}
}

func (l *Layer) String() string {
	var b strings.Builder
	rows, cols := l.weights.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if j > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "[%d,%d]: %g", i, j, l.weights.At(i, j))
		}
		b.WriteString("\n")
	}
	return b.String()
}
