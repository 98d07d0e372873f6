package envs

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEnv terminates every episodeLen steps and encodes its id plus a
// per-episode step counter in the observation, so tests can tell fresh
// episodes from continued ones.
type scriptedEnv struct {
	id           int
	episodeLen   int
	step         int
	resets       int
	panicOn      int // action value that triggers a panic, -1 to disable
	panicOnReset bool
}

func newScriptedEnv(id, episodeLen int) *scriptedEnv {
	return &scriptedEnv{id: id, episodeLen: episodeLen, panicOn: -1}
}

func (e *scriptedEnv) Reset() []float64 {
	if e.panicOnReset {
		panic(fmt.Sprintf("scripted reset panic in env %d", e.id))
	}
	e.resets++
	e.step = 0
	return e.obs()
}

func (e *scriptedEnv) Step(action int) ([]float64, float64, bool, Info) {
	if action == e.panicOn {
		panic(fmt.Sprintf("scripted panic in env %d", e.id))
	}
	e.step++
	reward := float64(e.id) + float64(e.step)/10
	done := e.step >= e.episodeLen
	var info Info
	if done {
		info = Info{"episode_steps": float64(e.step)}
	}
	return e.obs(), reward, done, info
}

func (e *scriptedEnv) obs() []float64 {
	return []float64{float64(e.id), float64(e.step)}
}

func (e *scriptedEnv) ObservationSize() int { return 2 }
func (e *scriptedEnv) NumActions() int      { return 3 }

func makersFor(envs []*scriptedEnv) []Maker {
	makers := make([]Maker, len(envs))
	for i, e := range envs {
		e := e
		makers[i] = func() Environment { return e }
	}
	return makers
}

func TestNewRequiresEnvironments(t *testing.T) {
	_, err := New(nil, false, false, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoEnvironments)
}

func TestNewPicksStrategy(t *testing.T) {
	single := makersFor([]*scriptedEnv{newScriptedEnv(0, 3)})
	v, err := New(single, false, false, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SyncVectorEnv{}, v)
	require.NoError(t, v.Close())

	forced := makersFor([]*scriptedEnv{newScriptedEnv(0, 3), newScriptedEnv(1, 3)})
	v, err = New(forced, true, false, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SyncVectorEnv{}, v)
	require.NoError(t, v.Close())

	parallel := makersFor([]*scriptedEnv{newScriptedEnv(0, 3), newScriptedEnv(1, 3)})
	v, err = New(parallel, false, false, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ParallelVectorEnv{}, v)
	require.NoError(t, v.Close())
}

// Both strategies must produce identical trajectories for identical
// deterministic environments.
func TestSyncParallelEquivalence(t *testing.T) {
	const steps = 7
	run := func(synchronous bool) []*StepResult {
		envs := []*scriptedEnv{newScriptedEnv(0, 3), newScriptedEnv(1, 2), newScriptedEnv(2, 5)}
		v, err := New(makersFor(envs), synchronous, false, zerolog.Nop())
		require.NoError(t, err)
		defer v.Close()

		obs, err := v.Reset()
		require.NoError(t, err)
		require.Len(t, obs, 3)

		var results []*StepResult
		for i := 0; i < steps; i++ {
			res, err := v.Step([]int{0, 0, 0})
			require.NoError(t, err)
			results = append(results, res)
		}
		return results
	}

	syncRes := run(true)
	parRes := run(false)
	for i := range syncRes {
		assert.Equal(t, syncRes[i].Obs, parRes[i].Obs, "step %d", i)
		assert.Equal(t, syncRes[i].Rewards, parRes[i].Rewards, "step %d", i)
		assert.Equal(t, syncRes[i].Dones, parRes[i].Dones, "step %d", i)
		assert.Equal(t, syncRes[i].Infos, parRes[i].Infos, "step %d", i)
	}
}

// On termination the slot must report the ended episode's reward and done
// flag while the observation already belongs to the next episode.
func TestAutoResetConvention(t *testing.T) {
	for _, synchronous := range []bool{true, false} {
		name := "parallel"
		if synchronous {
			name = "sync"
		}
		t.Run(name, func(t *testing.T) {
			envs := []*scriptedEnv{newScriptedEnv(0, 2), newScriptedEnv(1, 2)}
			v, err := New(makersFor(envs), synchronous, false, zerolog.Nop())
			require.NoError(t, err)
			defer v.Close()
			v.Reset()

			res, err := v.Step([]int{0, 0})
			require.NoError(t, err)
			assert.Equal(t, []bool{false, false}, res.Dones)
			assert.Equal(t, []float64{0, 1}, res.Obs[0], "mid-episode obs keeps its step counter")

			res, err = v.Step([]int{0, 0})
			require.NoError(t, err)
			assert.Equal(t, []bool{true, true}, res.Dones)
			// Ended episode's reward, next episode's observation.
			assert.InDelta(t, 0.2, res.Rewards[0], 1e-12)
			assert.Equal(t, []float64{0, 0}, res.Obs[0])
			assert.Equal(t, []float64{1, 0}, res.Obs[1])
			require.NotNil(t, res.Infos[0])
			assert.Equal(t, 2.0, res.Infos[0]["episode_steps"])
		})
	}
}

func TestStepValidatesActionCount(t *testing.T) {
	envs := []*scriptedEnv{newScriptedEnv(0, 3), newScriptedEnv(1, 3)}
	v, err := New(makersFor(envs), true, false, zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()
	v.Reset()

	_, err = v.Step([]int{0})
	assert.Error(t, err)
}

// A constructor that panics must fail construction with ErrWorkerFailed
// instead of hanging the startup handshake.
func TestWorkerConstructorPanicFailsStartup(t *testing.T) {
	makers := []Maker{
		func() Environment { return newScriptedEnv(0, 3) },
		func() Environment { panic("constructor failure") },
	}

	type result struct {
		v   VectorEnv
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := New(makers, false, false, zerolog.Nop())
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		assert.ErrorIs(t, res.err, ErrWorkerFailed)
		assert.Nil(t, res.v)
	case <-time.After(5 * time.Second):
		t.Fatal("construction did not return after a worker constructor panic")
	}
}

// A worker that dies while resetting must surface ErrWorkerFailed from Reset,
// never a silent nil observation row.
func TestWorkerPanicDuringResetFails(t *testing.T) {
	a := newScriptedEnv(0, 3)
	b := newScriptedEnv(1, 3)
	b.panicOnReset = true

	v, err := New(makersFor([]*scriptedEnv{a, b}), false, false, zerolog.Nop())
	require.NoError(t, err)

	obs, err := v.Reset()
	assert.ErrorIs(t, err, ErrWorkerFailed)
	assert.Nil(t, obs)

	// The vector env is unusable afterwards.
	_, err = v.Step([]int{0, 0})
	assert.Error(t, err)
}

func TestResetAfterClose(t *testing.T) {
	for _, synchronous := range []bool{true, false} {
		envs := []*scriptedEnv{newScriptedEnv(0, 3), newScriptedEnv(1, 3)}
		v, err := New(makersFor(envs), synchronous, false, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, v.Close())

		_, err = v.Reset()
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestWorkerPanicFailsBatch(t *testing.T) {
	a := newScriptedEnv(0, 10)
	b := newScriptedEnv(1, 10)
	b.panicOn = 2

	v, err := New(makersFor([]*scriptedEnv{a, b}), false, false, zerolog.Nop())
	require.NoError(t, err)
	v.Reset()

	_, err = v.Step([]int{0, 2})
	assert.ErrorIs(t, err, ErrWorkerFailed)

	// The vector env is unusable afterwards.
	_, err = v.Step([]int{0, 0})
	assert.Error(t, err)
}

func TestStepAfterClose(t *testing.T) {
	for _, synchronous := range []bool{true, false} {
		envs := []*scriptedEnv{newScriptedEnv(0, 3), newScriptedEnv(1, 3)}
		v, err := New(makersFor(envs), synchronous, false, zerolog.Nop())
		require.NoError(t, err)
		v.Reset()
		require.NoError(t, v.Close())

		_, err = v.Step([]int{0, 0})
		assert.Error(t, err)
	}
}

func TestVectorEnvMetadata(t *testing.T) {
	envs := []*scriptedEnv{newScriptedEnv(0, 3), newScriptedEnv(1, 3)}
	v, err := New(makersFor(envs), true, false, zerolog.Nop())
	require.NoError(t, err)
	defer v.Close()
	v.Reset()

	assert.Equal(t, 2, v.Num())
	assert.Equal(t, 2, v.ObservationSize())
	assert.Equal(t, 3, v.NumActions())
}
