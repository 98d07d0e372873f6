package envs

import (
	"github.com/rs/zerolog"
)

// SyncVectorEnv steps its instances sequentially on the calling goroutine.
// Required when only one environment exists or when rendering.
type SyncVectorEnv struct {
	envs    []Environment
	obsSize int
	actions int
	render  bool
	closed  bool
	logger  zerolog.Logger
}

func newSyncVectorEnv(makers []Maker, render bool, logger zerolog.Logger) (*SyncVectorEnv, error) {
	envs := make([]Environment, len(makers))
	for i, mk := range makers {
		envs[i] = mk()
	}
	v := &SyncVectorEnv{
		envs:    envs,
		obsSize: envs[0].ObservationSize(),
		actions: envs[0].NumActions(),
		render:  render,
		logger:  logger.With().Str("component", "sync_vector_env").Logger(),
	}
	v.logger.Debug().Int("num_envs", len(envs)).Msg("Created synchronous vector env")
	return v, nil
}

func (v *SyncVectorEnv) Reset() ([][]float64, error) {
	if v.closed {
		return nil, ErrClosed
	}
	obs := make([][]float64, len(v.envs))
	for i, e := range v.envs {
		obs[i] = e.Reset()
	}
	return obs, nil
}

func (v *SyncVectorEnv) Step(actions []int) (*StepResult, error) {
	if v.closed {
		return nil, ErrClosed
	}
	if err := validateActions(actions, len(v.envs)); err != nil {
		return nil, err
	}

	res := &StepResult{
		Obs:     make([][]float64, len(v.envs)),
		Rewards: make([]float64, len(v.envs)),
		Dones:   make([]bool, len(v.envs)),
		Infos:   make([]Info, len(v.envs)),
	}
	for i, e := range v.envs {
		obs, reward, done, info := e.Step(actions[i])
		if done {
			// Standard vectorized-env convention: the slot reports the
			// finished episode's reward/done but carries the new episode's
			// initial observation.
			obs = e.Reset()
		}
		if v.render {
			if r, ok := e.(Renderer); ok {
				r.Render()
			}
		}
		res.Obs[i] = obs
		res.Rewards[i] = reward
		res.Dones[i] = done
		res.Infos[i] = info
	}
	return res, nil
}

func (v *SyncVectorEnv) Num() int             { return len(v.envs) }
func (v *SyncVectorEnv) ObservationSize() int { return v.obsSize }
func (v *SyncVectorEnv) NumActions() int      { return v.actions }

func (v *SyncVectorEnv) Close() error {
	v.closed = true
	return nil
}
