package scape

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"neuroevo/internal/agent"
)

const (
	trackSensorCount = 5
	trackOutputCount = 2

	// Simulation step in seconds.
	trackDT = 0.1
	// A drone that captures no checkpoint for this many steps is killed.
	trackStallSteps = 70

	droneMaxSpeed     = 10.0
	droneAcceleration = 8.0
	droneTurnRate     = 2.5
	droneFriction     = 0.5
)

// Sensor directions relative to the drone heading, left positive.
var trackSensorAngles = [trackSensorCount]float64{-math.Pi / 3, -math.Pi / 6, 0, math.Pi / 6, math.Pi / 3}

type Point struct {
	X, Y float64
}

func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

type Checkpoint struct {
	Position      Point
	CaptureRadius float64

	distanceToPrevious  float64
	accumulatedDistance float64
	rewardValue         float64
	accumulatedReward   float64
}

// reward is the share of this checkpoint's reward earned at distance d from
// it, measured against the distance from the previous checkpoint.
func (c Checkpoint) reward(d float64) float64 {
	perc := (c.distanceToPrevious - d) / c.distanceToPrevious
	if perc < 0 {
		return 0
	}
	return perc * c.rewardValue
}

// Course is an ordered list of checkpoints. Drones start on the first one;
// each later checkpoint is worth the fraction of the course length it
// covers, so capturing the last one completes the course with reward 1.
type Course struct {
	Heading     float64
	checkpoints []Checkpoint
	length      float64
}

var ErrInvalidCourse = errors.New("invalid course")

func NewCourse(heading, captureRadius float64, points ...Point) (*Course, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 checkpoints, got %d", ErrInvalidCourse, len(points))
	}
	if captureRadius <= 0 {
		return nil, fmt.Errorf("%w: capture radius must be > 0", ErrInvalidCourse)
	}
	checkpoints := make([]Checkpoint, len(points))
	for i, p := range points {
		checkpoints[i] = Checkpoint{Position: p, CaptureRadius: captureRadius}
	}
	for i := 1; i < len(checkpoints); i++ {
		d := checkpoints[i].Position.Distance(checkpoints[i-1].Position)
		if d == 0 {
			return nil, fmt.Errorf("%w: checkpoints %d and %d coincide", ErrInvalidCourse, i-1, i)
		}
		checkpoints[i].distanceToPrevious = d
		checkpoints[i].accumulatedDistance = checkpoints[i-1].accumulatedDistance + d
	}
	length := checkpoints[len(checkpoints)-1].accumulatedDistance
	for i := 1; i < len(checkpoints); i++ {
		checkpoints[i].rewardValue = checkpoints[i].accumulatedDistance/length - checkpoints[i-1].accumulatedReward
		checkpoints[i].accumulatedReward = checkpoints[i-1].accumulatedReward + checkpoints[i].rewardValue
	}
	return &Course{Heading: heading, checkpoints: checkpoints, length: length}, nil
}

// DefaultCourse is a closed loop of nine checkpoints.
func DefaultCourse() *Course {
	course, err := NewCourse(0, 3,
		Point{0, 0}, Point{12, 0}, Point{22, 6}, Point{26, 16}, Point{20, 26},
		Point{8, 28}, Point{-2, 22}, Point{-6, 12}, Point{-2, 3},
	)
	if err != nil {
		panic(err)
	}
	return course
}

func (c *Course) Start() Point {
	return c.checkpoints[0].Position
}

func (c *Course) Length() float64 {
	return c.length
}

func (c *Course) Checkpoints() []Checkpoint {
	return append([]Checkpoint(nil), c.checkpoints...)
}

// Completion returns the course fraction earned at pos, advancing next past
// every checkpoint pos lies within. next starts at 1. It also returns the
// number of checkpoints captured by this call.
func (c *Course) Completion(pos Point, next *int) (float64, int) {
	captured := 0
	for *next < len(c.checkpoints) {
		cp := c.checkpoints[*next]
		d := pos.Distance(cp.Position)
		if d > cp.CaptureRadius {
			return c.checkpoints[*next-1].accumulatedReward + cp.reward(d), captured
		}
		*next++
		captured++
	}
	return 1, captured
}

type drone struct {
	agent          *agent.Agent
	position       Point
	heading        float64
	speed          float64
	next           int
	sinceCapture   int
	reward         float64
	sensorReadings [trackSensorCount]float64
}

func (d *drone) sense(course *Course) []float64 {
	target := course.Start()
	if d.next < len(course.checkpoints) {
		target = course.checkpoints[d.next].Position
	}
	bearing := math.Atan2(target.Y-d.position.Y, target.X-d.position.X)
	for i, angle := range trackSensorAngles {
		d.sensorReadings[i] = math.Cos(d.heading + angle - bearing)
	}
	return d.sensorReadings[:]
}

// move applies throttle and turn outputs, both nominally in [-1, 1].
func (d *drone) move(throttle, turn float64) {
	d.heading += turn * droneTurnRate * trackDT
	d.speed += (throttle*droneAcceleration - d.speed*droneFriction) * trackDT
	d.speed = math.Max(0, math.Min(droneMaxSpeed, d.speed))
	d.position.X += math.Cos(d.heading) * d.speed * trackDT
	d.position.Y += math.Sin(d.heading) * d.speed * trackDT
}

// TrackTask flies one drone per agent around a course. A drone dies when it
// completes the course, when it captures no checkpoint for a while, or when
// the step limit is reached. An agent's evaluation is its completion reward.
type TrackTask struct {
	course  *Course
	steps   int
	workers int

	mu                  sync.Mutex
	best, secondBest    *drone
	bestObservers       []func(*agent.Agent)
	secondBestObservers []func(*agent.Agent)
}

func NewTrackTask(course *Course, steps, workers int) *TrackTask {
	return &TrackTask{course: course, steps: steps, workers: workers}
}

func (*TrackTask) Name() string {
	return "track"
}

func (*TrackTask) Inputs() int {
	return trackSensorCount
}

func (*TrackTask) Outputs() int {
	return trackOutputCount
}

// OnBestChanged registers fn for changes of the leading agent. Observers run
// on the goroutine driving Run.
func (t *TrackTask) OnBestChanged(fn func(*agent.Agent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bestObservers = append(t.bestObservers, fn)
}

// OnSecondBestChanged registers fn for changes of the runner-up. fn receives
// nil when the runner-up slot is cleared.
func (t *TrackTask) OnSecondBestChanged(fn func(*agent.Agent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.secondBestObservers = append(t.secondBestObservers, fn)
}

// Best returns the agent with the highest completion reward in the current
// or last run.
func (t *TrackTask) Best() *agent.Agent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return agentOf(t.best)
}

func (t *TrackTask) SecondBest() *agent.Agent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return agentOf(t.secondBest)
}

func (t *TrackTask) Run(ctx context.Context, agents []*agent.Agent) error {
	drones := make([]*drone, len(agents))
	for i, a := range agents {
		drones[i] = &drone{
			agent:    a,
			position: t.course.Start(),
			heading:  t.course.Heading,
			next:     1,
		}
	}
	t.mu.Lock()
	t.best, t.secondBest = nil, nil
	t.mu.Unlock()

	alive := drones
	for step := 0; step < t.steps && len(alive) > 0; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		aliveAgents := make([]*agent.Agent, len(alive))
		for i, d := range alive {
			aliveAgents[i] = d.agent
		}
		err := forEach(ctx, t.workers, aliveAgents, func(ctx context.Context, i int, a *agent.Agent) error {
			d := alive[i]
			out, err := a.Think(ctx, d.sense(t.course))
			if err != nil {
				return err
			}
			if len(out) != trackOutputCount {
				return fmt.Errorf("track requires %d outputs, got %d", trackOutputCount, len(out))
			}
			d.move(out[0], out[1])
			reward, captured := t.course.Completion(d.position, &d.next)
			d.reward = reward
			if captured > 0 {
				d.sinceCapture = 0
			} else {
				d.sinceCapture++
			}
			return nil
		})
		if err != nil {
			return err
		}

		lastStep := step == t.steps-1
		var dead []*drone
		survivors := make([]*drone, 0, len(alive))
		for _, d := range alive {
			t.rank(d)
			d.agent.Genotype().Evaluation = d.reward
			if d.reward >= 1 || d.sinceCapture >= trackStallSteps || lastStep {
				dead = append(dead, d)
				continue
			}
			survivors = append(survivors, d)
		}
		alive = survivors
		for _, d := range dead {
			d.agent.Kill()
		}
	}
	return nil
}

// rank keeps best and second best by completion reward. Ties go to the drone
// ranked later.
func (t *TrackTask) rank(d *drone) {
	t.mu.Lock()
	var bestChanged, secondChanged bool
	switch {
	case t.best == nil || d.reward >= t.best.reward:
		if t.best != d {
			previous := t.best
			t.best = d
			bestChanged = true
			if t.secondBest != previous {
				t.secondBest = previous
				secondChanged = true
			}
		}
	case t.secondBest == nil || d.reward >= t.secondBest.reward:
		if t.secondBest != d {
			t.secondBest = d
			secondChanged = true
		}
	}
	best, second := agentOf(t.best), agentOf(t.secondBest)
	bestObservers := t.bestObservers
	secondObservers := t.secondBestObservers
	t.mu.Unlock()

	if bestChanged {
		for _, fn := range bestObservers {
			fn(best)
		}
	}
	if secondChanged {
		for _, fn := range secondObservers {
			fn(second)
		}
	}
}

func agentOf(d *drone) *agent.Agent {
	if d == nil {
		return nil
	}
	return d.agent
}
