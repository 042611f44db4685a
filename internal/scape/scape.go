package scape

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"neuroevo/internal/agent"
)

// Task evaluates one generation of live agents. Run writes each agent's
// genotype Evaluation and kills the agent once its episode is over.
type Task interface {
	Name() string
	Inputs() int
	Outputs() int
	Run(ctx context.Context, agents []*agent.Agent) error
}

// New returns the built-in task registered under name.
func New(name string, steps, workers int) (Task, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "xor":
		return XORTask{Workers: workers}, nil
	case "track":
		return NewTrackTask(DefaultCourse(), steps, workers), nil
	default:
		return nil, fmt.Errorf("unsupported task: %s", name)
	}
}

// CheckTopology reports whether a network topology fits the task's sensor
// and actuator counts.
func CheckTopology(task Task, topology []int) error {
	if len(topology) < 2 {
		return fmt.Errorf("%s requires at least input and output layers, got %v", task.Name(), topology)
	}
	if topology[0] != task.Inputs() {
		return fmt.Errorf("%s requires %d inputs, topology has %d", task.Name(), task.Inputs(), topology[0])
	}
	if last := topology[len(topology)-1]; last != task.Outputs() {
		return fmt.Errorf("%s requires %d outputs, topology has %d", task.Name(), task.Outputs(), last)
	}
	return nil
}

// forEach runs fn for every agent with at most workers goroutines.
func forEach(ctx context.Context, workers int, agents []*agent.Agent, fn func(context.Context, int, *agent.Agent) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, a := range agents {
		g.Go(func() error {
			return fn(ctx, i, a)
		})
	}
	return g.Wait()
}
