package envs

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrNoEnvironments is returned when a vector env is built with zero instances
	ErrNoEnvironments = errors.New("vector env requires at least one environment")
	// ErrWorkerFailed is returned when a parallel worker dies; the run must abort
	// because the batch width is baked into buffer shapes
	ErrWorkerFailed = errors.New("environment worker failed")
	// ErrClosed is returned when stepping a closed vector env
	ErrClosed = errors.New("vector env is closed")
)

// StepResult is one lock-step advance of every environment instance.
// Slots whose Dones[i] is true report the reward and termination of the
// episode that just ended while Obs[i] already holds the next episode's
// initial observation.
type StepResult struct {
	Obs     [][]float64
	Rewards []float64
	Dones   []bool
	Infos   []Info
}

// VectorEnv drives N independent environment instances in lock-step.
type VectorEnv interface {
	// Reset restarts every instance and returns the batch of initial
	// observations. Like Step, a dead worker or a closed env is an error.
	Reset() ([][]float64, error)
	// Step broadcasts one action per instance and blocks until all have advanced.
	Step(actions []int) (*StepResult, error)
	// Num is the parallel environment width.
	Num() int
	ObservationSize() int
	NumActions() int
	Close() error
}

// Maker constructs one environment instance. Each maker is invoked exactly
// once; for the parallel strategy it runs on the owning worker goroutine.
type Maker func() Environment

// New builds a vector env over the given makers. A single instance, a forced
// synchronous run, or a rendering run all use the sequential strategy;
// otherwise one worker goroutine owns each instance.
func New(makers []Maker, synchronous, render bool, logger zerolog.Logger) (VectorEnv, error) {
	if len(makers) == 0 {
		return nil, ErrNoEnvironments
	}
	if len(makers) == 1 || synchronous || render {
		return newSyncVectorEnv(makers, render, logger)
	}
	return newParallelVectorEnv(makers, logger)
}

func validateActions(actions []int, n int) error {
	if len(actions) != n {
		return fmt.Errorf("got %d actions for %d environments", len(actions), n)
	}
	return nil
}
