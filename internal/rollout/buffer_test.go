package rollout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T, steps, envs int, useGAE bool, gamma, tau float64) *Buffer {
	t.Helper()
	b, err := New(Config{
		NumSteps:   steps,
		NumEnvs:    envs,
		ObsSize:    3,
		HiddenSize: 2,
		Gamma:      gamma,
		Tau:        tau,
		UseGAE:     useGAE,
	})
	require.NoError(t, err)
	return b
}

func fill(t *testing.T, b *Buffer, rewards [][]float64, values [][]float64, masks [][]float64) {
	t.Helper()
	N := b.NumEnvs()
	obs := make([][]float64, N)
	hxs := make([][]float64, N)
	for n := 0; n < N; n++ {
		obs[n] = []float64{1, 2, 3}
		hxs[n] = []float64{0, 0}
	}
	for step := 0; step < b.NumSteps(); step++ {
		actions := make([]int, N)
		logProbs := make([]float64, N)
		require.NoError(t, b.Insert(obs, hxs, actions, logProbs, values[step], rewards[step], masks[step]))
	}
}

func TestBufferConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero horizon", Config{NumSteps: 0, NumEnvs: 1, ObsSize: 1, HiddenSize: 1}},
		{"zero envs", Config{NumSteps: 1, NumEnvs: 0, ObsSize: 1, HiddenSize: 1}},
		{"zero obs", Config{NumSteps: 1, NumEnvs: 1, ObsSize: 0, HiddenSize: 1}},
		{"zero hidden", Config{NumSteps: 1, NumEnvs: 1, ObsSize: 1, HiddenSize: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestInsertFailsWhenFull(t *testing.T) {
	b := newTestBuffer(t, 1, 1, false, 0.99, 0.95)
	fill(t, b, [][]float64{{1}}, [][]float64{{0.5}}, [][]float64{{1}})

	err := b.Insert([][]float64{{1, 2, 3}}, [][]float64{{0, 0}}, []int{0}, []float64{0}, []float64{0}, []float64{0}, []float64{1})
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestComputeReturnsRequiresFullHorizon(t *testing.T) {
	b := newTestBuffer(t, 2, 1, false, 0.99, 0.95)
	err := b.ComputeReturns([]float64{0})
	assert.ErrorIs(t, err, ErrBufferNotFull)
}

// Single env, single step, mask continuing: the bootstrap return at t=0 is
// reward + gamma * bootstrap.
func TestNStepBootstrapReturn(t *testing.T) {
	b := newTestBuffer(t, 1, 1, false, 0.99, 0.95)
	fill(t, b, [][]float64{{1.0}}, [][]float64{{0.5}}, [][]float64{{1}})

	bootstrap := 0.5
	require.NoError(t, b.ComputeReturns([]float64{bootstrap}))
	assert.InDelta(t, 1.0+0.99*bootstrap, b.Returns[0][0], 1e-12)
}

// A zero mask entering step t+1 must sever the bootstrap: return[t] depends
// only on the immediate reward no matter what value or bootstrap follows.
func TestEpisodeBoundaryMasking(t *testing.T) {
	for _, useGAE := range []bool{false, true} {
		rewards := [][]float64{{1.0}, {2.0}}
		masks := [][]float64{{0}, {1}} // episode ends entering step 1

		b1 := newTestBuffer(t, 2, 1, useGAE, 0.99, 0.95)
		fill(t, b1, rewards, [][]float64{{0.5}, {7.0}}, masks)
		require.NoError(t, b1.ComputeReturns([]float64{3.0}))

		b2 := newTestBuffer(t, 2, 1, useGAE, 0.99, 0.95)
		fill(t, b2, rewards, [][]float64{{0.5}, {-4.0}}, masks)
		require.NoError(t, b2.ComputeReturns([]float64{-9.0}))

		assert.InDelta(t, b1.Returns[0][0], b2.Returns[0][0], 1e-12,
			"return before a boundary must not depend on the next value (use_gae=%v)", useGAE)
		if !useGAE {
			assert.InDelta(t, 1.0, b1.Returns[0][0], 1e-12)
		}
	}
}

// GAE with tau=1 telescopes into the plain discounted bootstrap return.
func TestGAETauOneMatchesNStep(t *testing.T) {
	rewards := [][]float64{
		{0.5, -1.0}, {1.0, 0.25}, {0.0, 2.0}, {-0.5, 1.5},
	}
	values := [][]float64{
		{0.2, 0.1}, {-0.3, 0.4}, {0.5, 0.6}, {0.7, -0.2},
	}
	masks := [][]float64{
		{1, 1}, {0, 1}, {1, 0}, {1, 1},
	}
	bootstrap := []float64{0.9, -0.4}

	gae := newTestBuffer(t, 4, 2, true, 0.99, 1.0)
	fill(t, gae, rewards, values, masks)
	require.NoError(t, gae.ComputeReturns(bootstrap))

	nstep := newTestBuffer(t, 4, 2, false, 0.99, 1.0)
	fill(t, nstep, rewards, values, masks)
	require.NoError(t, nstep.ComputeReturns(bootstrap))

	for tt := 0; tt < 4; tt++ {
		for n := 0; n < 2; n++ {
			assert.InDelta(t, nstep.Returns[tt][n], gae.Returns[tt][n], 1e-9,
				"t=%d n=%d", tt, n)
		}
	}
}

// After rotation, slot 0 of the new horizon equals slot T of the previous
// one for observations, recurrent states and masks.
func TestAfterUpdateContinuity(t *testing.T) {
	b := newTestBuffer(t, 2, 2, true, 0.99, 0.95)

	obs := [][]float64{{1, 2, 3}, {4, 5, 6}}
	hxs := [][]float64{{0.1, 0.2}, {0.3, 0.4}}
	masks := []float64{1, 0}
	require.NoError(t, b.Insert(obs, hxs, []int{0, 1}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0}, []float64{1, 1}))
	require.NoError(t, b.Insert(obs, hxs, []int{1, 0}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0}, masks))

	wantObs := [][]float64{{1, 2, 3}, {4, 5, 6}}
	wantHxs := [][]float64{{0.1, 0.2}, {0.3, 0.4}}

	b.AfterUpdate()

	assert.Equal(t, 0, b.Step())
	for n := 0; n < 2; n++ {
		assert.Equal(t, wantObs[n], b.Observations[0][n])
		assert.Equal(t, wantHxs[n], b.HiddenStates[0][n])
		assert.Equal(t, masks[n], b.Masks[0][n])
	}
}

// Rotation must copy, not alias: writing the next horizon into slot T must
// not corrupt slot 0.
func TestAfterUpdateCopiesNotAliases(t *testing.T) {
	b := newTestBuffer(t, 1, 1, false, 0.99, 0.95)
	require.NoError(t, b.Insert([][]float64{{1, 1, 1}}, [][]float64{{2, 2}}, []int{0}, []float64{0}, []float64{0}, []float64{0}, []float64{1}))
	b.AfterUpdate()

	require.NoError(t, b.Insert([][]float64{{9, 9, 9}}, [][]float64{{8, 8}}, []int{0}, []float64{0}, []float64{0}, []float64{0}, []float64{1}))
	assert.Equal(t, []float64{1, 1, 1}, b.Observations[0][0])
	assert.Equal(t, []float64{2, 2}, b.HiddenStates[0][0])
}
