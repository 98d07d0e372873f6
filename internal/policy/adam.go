package policy

import (
	"fmt"
	"math"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
)

// Adam applies the Adam update rule over a fixed parameter set.
type Adam struct {
	lr     float64
	eps    float64
	step   int
	moment map[string]*adamMoment
}

type adamMoment struct {
	M []float64
	V []float64
}

// AdamState is the serializable optimizer state for checkpoints.
type AdamState struct {
	Step    int
	Moments map[string]struct {
		M []float64
		V []float64
	}
}

func NewAdam(params []*Param, lr, eps float64) *Adam {
	a := &Adam{
		lr:     lr,
		eps:    eps,
		moment: make(map[string]*adamMoment, len(params)),
	}
	for _, p := range params {
		a.moment[p.Name] = &adamMoment{
			M: make([]float64, len(p.W)),
			V: make([]float64, len(p.W)),
		}
	}
	return a
}

// Step applies one update from the accumulated gradients.
func (a *Adam) Step(params []*Param) {
	a.step++
	c1 := 1 - math.Pow(adamBeta1, float64(a.step))
	c2 := 1 - math.Pow(adamBeta2, float64(a.step))
	for _, p := range params {
		mom := a.moment[p.Name]
		for i, g := range p.G {
			mom.M[i] = adamBeta1*mom.M[i] + (1-adamBeta1)*g
			mom.V[i] = adamBeta2*mom.V[i] + (1-adamBeta2)*g*g
			mHat := mom.M[i] / c1
			vHat := mom.V[i] / c2
			p.W[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}

// Export captures the optimizer state for checkpointing.
func (a *Adam) Export() AdamState {
	st := AdamState{
		Step: a.step,
		Moments: make(map[string]struct {
			M []float64
			V []float64
		}, len(a.moment)),
	}
	for name, mom := range a.moment {
		m := make([]float64, len(mom.M))
		v := make([]float64, len(mom.V))
		copy(m, mom.M)
		copy(v, mom.V)
		st.Moments[name] = struct {
			M []float64
			V []float64
		}{M: m, V: v}
	}
	return st
}

// Import restores optimizer state. A missing or mis-shaped moment is a fatal
// load error, never partially applied.
func (a *Adam) Import(st AdamState) error {
	for name, mom := range a.moment {
		loaded, ok := st.Moments[name]
		if !ok {
			return fmt.Errorf("optimizer state missing moments for %q", name)
		}
		if len(loaded.M) != len(mom.M) || len(loaded.V) != len(mom.V) {
			return fmt.Errorf("optimizer state shape mismatch for %q", name)
		}
	}
	for name, mom := range a.moment {
		loaded := st.Moments[name]
		copy(mom.M, loaded.M)
		copy(mom.V, loaded.V)
	}
	a.step = st.Step
	return nil
}
