package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"neuroevo/internal/genotype"
	"neuroevo/internal/nn"
)

// ErrParameterCount reports a genotype whose parameter count differs from the
// weight count of the requested topology.
var ErrParameterCount = errors.New("genotype parameter count does not match network weight count")

// DeathFunc is called once per alive to dead transition of an agent.
type DeathFunc func(*Agent)

// Agent binds one genotype to its phenotype network. The genotype is shared
// with the population; the network belongs to the agent.
type Agent struct {
	genotype *genotype.Genotype
	network  *nn.Network

	mu        sync.Mutex
	alive     bool
	nextSubID int
	observers map[int]DeathFunc
}

// New unpacks g into a network with the given topology and activation. The
// agent starts dead; call Reset before an evaluation.
func New(g *genotype.Genotype, activation nn.ActivationFunc, topology ...int) (*Agent, error) {
	if g == nil {
		return nil, errors.New("genotype is required")
	}
	network, err := nn.NewNetwork(topology, activation)
	if err != nil {
		return nil, err
	}
	if g.ParameterCount() != network.WeightCount() {
		return nil, fmt.Errorf("%w: got=%d want=%d", ErrParameterCount, g.ParameterCount(), network.WeightCount())
	}
	if err := network.LoadWeights(g.Values()); err != nil {
		return nil, err
	}
	return &Agent{
		genotype:  g,
		network:   network,
		observers: make(map[int]DeathFunc),
	}, nil
}

func (a *Agent) Genotype() *genotype.Genotype {
	return a.genotype
}

func (a *Agent) Network() *nn.Network {
	return a.network
}

func (a *Agent) IsAlive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// Reset zeroes the genotype's evaluation and fitness and marks the agent
// alive.
func (a *Agent) Reset() {
	a.genotype.Evaluation = 0
	a.genotype.Fitness = 0
	a.mu.Lock()
	a.alive = true
	a.mu.Unlock()
}

// Kill marks the agent dead. Observers are notified only when the agent was
// alive; killing a dead agent does nothing.
func (a *Agent) Kill() {
	a.mu.Lock()
	if !a.alive {
		a.mu.Unlock()
		return
	}
	a.alive = false
	observers := make([]DeathFunc, 0, len(a.observers))
	for id := 0; id < a.nextSubID; id++ {
		if fn, ok := a.observers[id]; ok {
			observers = append(observers, fn)
		}
	}
	a.mu.Unlock()

	for _, fn := range observers {
		fn(a)
	}
}

// Subscribe registers fn for death notifications. Observers run in
// subscription order on the goroutine that calls Kill. The returned function
// removes the subscription and is safe to call more than once.
func (a *Agent) Subscribe(fn DeathFunc) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.observers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.observers, id)
		a.mu.Unlock()
	}
}

// Think runs one control step: inputs through the network to outputs.
func (a *Agent) Think(ctx context.Context, inputs []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.network.Evaluate(inputs)
}
