// Package rollout holds the fixed-horizon trajectory buffer and the two
// minibatch sampling strategies that feed the PPO optimizer.
package rollout

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferFull is returned when inserting into a buffer whose horizon is
	// complete; ComputeReturns and AfterUpdate must run first.
	ErrBufferFull = errors.New("rollout buffer is full")
	// ErrBufferNotFull is returned when computing returns over a partial horizon.
	ErrBufferNotFull = errors.New("rollout buffer horizon is incomplete")
)

// Config fixes the buffer shape and return-computation policy at allocation.
type Config struct {
	NumSteps   int // horizon T
	NumEnvs    int // parallel width N
	ObsSize    int
	HiddenSize int
	Gamma      float64
	Tau        float64
	UseGAE     bool
}

func (c Config) validate() error {
	if c.NumSteps <= 0 {
		return fmt.Errorf("rollout horizon must be positive, got %d", c.NumSteps)
	}
	if c.NumEnvs <= 0 {
		return fmt.Errorf("environment width must be positive, got %d", c.NumEnvs)
	}
	if c.ObsSize <= 0 {
		return fmt.Errorf("observation size must be positive, got %d", c.ObsSize)
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("recurrent state size must be positive, got %d", c.HiddenSize)
	}
	return nil
}

// Buffer is a dense [T+1, N] table of transitions for one rollout horizon.
// It is allocated once, mutated step-by-step during collection, read-only
// during optimization, and rotated (never reallocated) between horizons.
// Slot 0 of observations, hidden states and masks carries over from the
// previous horizon.
type Buffer struct {
	cfg Config

	Observations [][][]float64 // [T+1][N][obsSize]
	HiddenStates [][][]float64 // [T+1][N][hiddenSize]
	Masks        [][]float64   // [T+1][N]
	Actions      [][]int       // [T][N]
	LogProbs     [][]float64   // [T][N]
	Values       [][]float64   // [T+1][N]; slot T is the bootstrap value
	Rewards      [][]float64   // [T][N]
	Returns      [][]float64   // [T+1][N]; written only by ComputeReturns

	step int // next time slot to fill, in [0, T]
}

// New allocates a buffer. Shapes are fixed for the lifetime of the run.
func New(cfg Config) (*Buffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := &Buffer{cfg: cfg}
	T, N := cfg.NumSteps, cfg.NumEnvs

	b.Observations = make([][][]float64, T+1)
	b.HiddenStates = make([][][]float64, T+1)
	b.Masks = make([][]float64, T+1)
	b.Values = make([][]float64, T+1)
	b.Returns = make([][]float64, T+1)
	for t := 0; t <= T; t++ {
		b.Observations[t] = alloc2d(N, cfg.ObsSize)
		b.HiddenStates[t] = alloc2d(N, cfg.HiddenSize)
		b.Masks[t] = ones(N)
		b.Values[t] = make([]float64, N)
		b.Returns[t] = make([]float64, N)
	}
	b.Actions = make([][]int, T)
	b.LogProbs = make([][]float64, T)
	b.Rewards = make([][]float64, T)
	for t := 0; t < T; t++ {
		b.Actions[t] = make([]int, N)
		b.LogProbs[t] = make([]float64, N)
		b.Rewards[t] = make([]float64, N)
	}
	return b, nil
}

func alloc2d(n, m int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, m)
	}
	return out
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func (b *Buffer) NumSteps() int { return b.cfg.NumSteps }
func (b *Buffer) NumEnvs() int  { return b.cfg.NumEnvs }

// Step is the write cursor: the number of time steps inserted this horizon.
func (b *Buffer) Step() int { return b.step }

// Full reports whether the horizon is complete.
func (b *Buffer) Full() bool { return b.step == b.cfg.NumSteps }

// SetFirst seeds slot 0 with the initial observation batch of a fresh run.
func (b *Buffer) SetFirst(obs [][]float64) {
	for n := range obs {
		copy(b.Observations[0][n], obs[n])
	}
}

// Insert records one collection step: the post-step observation, the
// policy's new recurrent state, the action with its log-probability and
// value estimate, the reward, and the continuation mask entering the next
// step (0 marks an episode boundary). Transitions are immutable once
// written; they are only overwritten wholesale when the horizon rotates.
func (b *Buffer) Insert(obs, hiddenStates [][]float64, actions []int, logProbs, values, rewards, masks []float64) error {
	if b.Full() {
		return ErrBufferFull
	}
	t := b.step
	for n := 0; n < b.cfg.NumEnvs; n++ {
		copy(b.Observations[t+1][n], obs[n])
		copy(b.HiddenStates[t+1][n], hiddenStates[n])
		b.Masks[t+1][n] = masks[n]
		b.Actions[t][n] = actions[n]
		b.LogProbs[t][n] = logProbs[n]
		b.Values[t][n] = values[n]
		b.Rewards[t][n] = rewards[n]
	}
	b.step++
	return nil
}

// ComputeReturns fills Returns from the collected rewards and the bootstrap
// value of the final observation. With GAE the return is the running
// advantage plus the value prediction; otherwise it is the plain discounted
// bootstrap. In both recursions a zero mask entering step t+1 severs the
// bootstrap across the episode boundary, so no value leaks between episodes.
func (b *Buffer) ComputeReturns(bootstrap []float64) error {
	if !b.Full() {
		return ErrBufferNotFull
	}
	if len(bootstrap) != b.cfg.NumEnvs {
		return fmt.Errorf("bootstrap width %d does not match %d environments", len(bootstrap), b.cfg.NumEnvs)
	}
	T := b.cfg.NumSteps
	gamma, tau := b.cfg.Gamma, b.cfg.Tau

	if b.cfg.UseGAE {
		copy(b.Values[T], bootstrap)
		for n := 0; n < b.cfg.NumEnvs; n++ {
			gae := 0.0
			for t := T - 1; t >= 0; t-- {
				delta := b.Rewards[t][n] + gamma*b.Values[t+1][n]*b.Masks[t+1][n] - b.Values[t][n]
				gae = delta + gamma*tau*b.Masks[t+1][n]*gae
				b.Returns[t][n] = gae + b.Values[t][n]
			}
		}
		return nil
	}

	copy(b.Returns[T], bootstrap)
	for n := 0; n < b.cfg.NumEnvs; n++ {
		for t := T - 1; t >= 0; t-- {
			b.Returns[t][n] = b.Rewards[t][n] + gamma*b.Returns[t+1][n]*b.Masks[t+1][n]
		}
	}
	return nil
}

// AfterUpdate rotates the horizon: slot T of observations, hidden states and
// masks becomes slot 0 of the next rollout, by explicit copy rather than
// aliasing, and the write cursor resets. A still-running episode therefore
// continues seamlessly across the horizon boundary.
func (b *Buffer) AfterUpdate() {
	T := b.cfg.NumSteps
	for n := 0; n < b.cfg.NumEnvs; n++ {
		copy(b.Observations[0][n], b.Observations[T][n])
		copy(b.HiddenStates[0][n], b.HiddenStates[T][n])
		b.Masks[0][n] = b.Masks[T][n]
	}
	b.step = 0
}
