package scape

import (
	"context"
	"fmt"

	"neuroevo/internal/agent"
)

type xorCase struct {
	in   []float64
	want float64
}

var xorCases = []xorCase{
	{in: []float64{0, 0}, want: 0},
	{in: []float64{0, 1}, want: 1},
	{in: []float64{1, 0}, want: 1},
	{in: []float64{1, 1}, want: 0},
}

// XORTask scores each agent on the four XOR cases. The evaluation is the
// reciprocal of the summed squared error, so an agent with sse below one
// finishes with an evaluation of at least one.
type XORTask struct {
	Workers int
}

func (XORTask) Name() string {
	return "xor"
}

func (XORTask) Inputs() int {
	return 2
}

func (XORTask) Outputs() int {
	return 1
}

func (t XORTask) Run(ctx context.Context, agents []*agent.Agent) error {
	return forEach(ctx, t.Workers, agents, func(ctx context.Context, _ int, a *agent.Agent) error {
		sse, err := XORError(ctx, a)
		if err != nil {
			return err
		}
		a.Genotype().Evaluation = 1.0 / (sse + 0.000001)
		a.Kill()
		return nil
	})
}

// XORError returns the summed squared error of a over the XOR truth table.
func XORError(ctx context.Context, a *agent.Agent) (float64, error) {
	var sse float64
	for _, c := range xorCases {
		out, err := a.Think(ctx, c.in)
		if err != nil {
			return 0, err
		}
		if len(out) != 1 {
			return 0, fmt.Errorf("xor requires one output, got %d", len(out))
		}
		delta := out[0] - c.want
		sse += delta * delta
	}
	return sse, nil
}
