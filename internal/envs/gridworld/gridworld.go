// Package gridworld implements a goal-seeking grid environment used as the
// default training task. The agent starts in a corner (or a random cell
// during training) and must reach the opposite corner within the time limit.
package gridworld

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"

	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/envs"
)

const (
	ActionUp = iota
	ActionDown
	ActionLeft
	ActionRight
	NumActions
)

const (
	goalReward  = 1.0
	stepPenalty = -0.01
)

// Config holds the per-instance settings.
type Config struct {
	Width     int
	Height    int
	TimeLimit int
	// Evaluation fixes the start cell so resets are deterministic.
	Evaluation bool
	Seed       uint64
}

// Env is a single gridworld instance. Observations are a one-hot encoding
// of the agent's cell.
type Env struct {
	cfg   Config
	row   int
	col   int
	steps int
	rng   *rand.Rand
}

var _ envs.Environment = (*Env)(nil)

func New(cfg Config) *Env {
	return &Env{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (e *Env) Reset() []float64 {
	if e.cfg.Evaluation {
		e.row, e.col = 0, 0
	} else {
		e.row = e.rng.Intn(e.cfg.Height)
		e.col = e.rng.Intn(e.cfg.Width)
		if e.atGoal() {
			e.row, e.col = 0, 0
		}
	}
	e.steps = 0
	return e.observe()
}

func (e *Env) Step(action int) ([]float64, float64, bool, envs.Info) {
	switch action {
	case ActionUp:
		if e.row > 0 {
			e.row--
		}
	case ActionDown:
		if e.row < e.cfg.Height-1 {
			e.row++
		}
	case ActionLeft:
		if e.col > 0 {
			e.col--
		}
	case ActionRight:
		if e.col < e.cfg.Width-1 {
			e.col++
		}
	}
	e.steps++

	if e.atGoal() {
		return e.observe(), goalReward, true, envs.Info{"success": 1}
	}
	if e.steps >= e.cfg.TimeLimit {
		return e.observe(), stepPenalty, true, envs.Info{"success": 0}
	}
	return e.observe(), stepPenalty, false, nil
}

func (e *Env) ObservationSize() int { return e.cfg.Width * e.cfg.Height }
func (e *Env) NumActions() int      { return NumActions }

// Render prints the grid with the agent marked A and the goal marked G.
func (e *Env) Render() {
	var b strings.Builder
	for r := 0; r < e.cfg.Height; r++ {
		for c := 0; c < e.cfg.Width; c++ {
			switch {
			case r == e.row && c == e.col:
				b.WriteByte('A')
			case r == e.cfg.Height-1 && c == e.cfg.Width-1:
				b.WriteByte('G')
			default:
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	fmt.Print(b.String())
}

func (e *Env) atGoal() bool {
	return e.row == e.cfg.Height-1 && e.col == e.cfg.Width-1
}

func (e *Env) observe() []float64 {
	obs := make([]float64, e.cfg.Width*e.cfg.Height)
	obs[e.row*e.cfg.Width+e.col] = 1
	return obs
}
