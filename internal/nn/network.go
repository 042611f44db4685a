package nn

import (
	"fmt"
	"iter"
)

// Network is a feedforward stack of layers built from a topology
// [n0, n1, ..., nk]: layer i maps n_i inputs to n_{i+1} outputs.
type Network struct {
	topology []int
	layers   []*Layer
}

// NewNetwork builds one zero-weighted layer per adjacent topology pair, each
// using activation. A nil activation yields linear layers.
func NewNetwork(topology []int, activation ActivationFunc) (*Network, error) {
	if len(topology) < 2 {
		return nil, fmt.Errorf("topology needs at least 2 entries, got %d", len(topology))
	}

	layers := make([]*Layer, 0, len(topology)-1)
	for i := 0; i+1 < len(topology); i++ {
		layer, err := NewLayer(topology[i], topology[i+1])
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layer.SetActivation(activation)
		layers = append(layers, layer)
	}
	return &Network{
		topology: append([]int(nil), topology...),
		layers:   layers,
	}, nil
}

// WeightCount sums the per-layer weight counts. A genotype bound to this
// network must have exactly this many parameters.
func WeightCount(topology []int) int {
	total := 0
	for i := 0; i+1 < len(topology); i++ {
		total += (topology[i] + 1) * topology[i+1]
	}
	return total
}

func (n *Network) WeightCount() int {
	total := 0
	for _, layer := range n.layers {
		total += layer.WeightCount()
	}
	return total
}

func (n *Network) Topology() []int {
	return append([]int(nil), n.topology...)
}

func (n *Network) Layers() []*Layer {
	return n.layers
}

func (n *Network) InputCount() int {
	return n.topology[0]
}

func (n *Network) OutputCount() int {
	return n.topology[len(n.topology)-1]
}

// SetActivation assigns fn to every layer.
func (n *Network) SetActivation(fn ActivationFunc) {
	for _, layer := range n.layers {
		layer.SetActivation(fn)
	}
}

// LoadWeights consumes values layer by layer, row-major within each layer.
// The sequence must contain exactly WeightCount values.
func (n *Network) LoadWeights(values iter.Seq[float64]) error {
	next, stop := iter.Pull(values)
	defer stop()

	for li, layer := range n.layers {
		flat := make([]float64, layer.WeightCount())
		for k := range flat {
			v, ok := next()
			if !ok {
				return fmt.Errorf("%w: ran out of weights in layer %d", ErrDimensionMismatch, li)
			}
			flat[k] = v
		}
		if err := layer.SetWeights(flat); err != nil {
			return fmt.Errorf("layer %d: %w", li, err)
		}
	}
	if _, ok := next(); ok {
		return fmt.Errorf("%w: more than %d weights supplied", ErrDimensionMismatch, n.WeightCount())
	}
	return nil
}

// Evaluate feeds inputs through every layer in order and returns the output
// of the last one.
func (n *Network) Evaluate(inputs []float64) ([]float64, error) {
	out := inputs
	for i, layer := range n.layers {
		var err error
		out, err = layer.ProcessInputs(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return out, nil
}

// DeepCopy returns an independent network with identical weights and
// activations.
func (n *Network) DeepCopy() *Network {
	layers := make([]*Layer, len(n.layers))
	for i, layer := range n.layers {
		layers[i] = layer.DeepCopy()
	}
	return &Network{
		topology: append([]int(nil), n.topology...),
		layers:   layers,
	}
}
