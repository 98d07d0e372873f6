package envs

// Info carries per-step scalar diagnostics returned by an environment.
// The training loop aggregates these by key; episode-level entries should
// only be reported on the step where the episode ends.
type Info map[string]float64

// Environment is the single-instance step/reset contract. Implementations
// own their episode state and any randomness they need; they never reset
// themselves mid-episode.
type Environment interface {
	// Reset starts a new episode and returns its initial observation.
	Reset() []float64
	// Step advances one time step. The returned done flag reports whether
	// the episode ended entering the next state; the observation is the
	// next state of the same episode (callers reset on done).
	Step(action int) (obs []float64, reward float64, done bool, info Info)
	// ObservationSize is the fixed length of observation vectors.
	ObservationSize() int
	// NumActions is the size of the discrete action space.
	NumActions() int
}

// Renderer is implemented by environments that can draw themselves.
// Rendering is inherently sequential, so a rendering run forces the
// synchronous vector strategy.
type Renderer interface {
	Render()
}
