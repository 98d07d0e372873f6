// Package train orchestrates rollout collection, return computation, PPO
// updates and periodic evaluation.
package train

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/config"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/envs"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/metrics"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/policy"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/ppo"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/rollout"
)

// EvalEnvMaker builds a fresh vectorized environment configured for
// evaluation (deterministic resets, no training-time randomization). It is
// invoked once per evaluation pass and closed afterwards.
type EvalEnvMaker func() (envs.VectorEnv, error)

// Loop drives the train cycle: collect a horizon, bootstrap the final value,
// compute returns, run the PPO update, rotate the buffer, repeat. The loop
// is the sole owner and mutator of the rollout buffer.
type Loop struct {
	cfg       *config.Config
	venv      envs.VectorEnv
	evalMaker EvalEnvMaker
	pol       policy.Trainable
	opt       *ppo.Optimizer
	buf       *rollout.Buffer
	collector *metrics.Collector
	accum     []*EpisodeAccumulator
	logger    zerolog.Logger

	runID     string
	iteration int

	rewardCurve []float64
}

func New(cfg *config.Config, venv envs.VectorEnv, evalMaker EvalEnvMaker, pol policy.Trainable, logger zerolog.Logger) (*Loop, error) {
	buf, err := rollout.New(rollout.Config{
		NumSteps:   cfg.Training.TrainSteps,
		NumEnvs:    venv.Num(),
		ObsSize:    venv.ObservationSize(),
		HiddenSize: pol.HiddenSize(),
		Gamma:      cfg.Rollout.Gamma,
		Tau:        cfg.Rollout.Tau,
		UseGAE:     cfg.Rollout.UseGAE,
	})
	if err != nil {
		return nil, fmt.Errorf("allocating rollout buffer: %w", err)
	}

	l := &Loop{
		cfg:       cfg,
		venv:      venv,
		evalMaker: evalMaker,
		pol:       pol,
		opt:       ppo.New(pol, cfg.PPO, uint64(cfg.Training.Seed)+1, logger),
		buf:       buf,
		collector: metrics.NewCollector(),
		accum:     newAccumulators(venv.Num()),
		logger:    logger.With().Str("component", "training_loop").Logger(),
		runID:     uuid.New().String(),
	}

	if cfg.Training.LoadPath != "" {
		iter, runID, err := LoadCheckpoint(cfg.Training.LoadPath, pol, l.opt.Adam())
		if err != nil {
			return nil, fmt.Errorf("restoring checkpoint: %w", err)
		}
		l.iteration = iter
		l.runID = runID
		l.logger.Info().
			Str("path", cfg.Training.LoadPath).
			Int("iteration", iter).
			Msg("Restored checkpoint")
	}
	return l, nil
}

// RunID identifies this training run in logs and checkpoints.
func (l *Loop) RunID() string { return l.runID }

// Iteration is the next training iteration to execute.
func (l *Loop) Iteration() int { return l.iteration }

// Run executes training iterations until the configured epoch count or
// context cancellation. Cancellation is only honored between iterations; a
// started horizon always completes its optimizer pass.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Str("run_id", l.runID).
		Int("num_envs", l.venv.Num()).
		Int("train_steps", l.cfg.Training.TrainSteps).
		Bool("recurrent", l.pol.Recurrent()).
		Msg("Starting training")

	first, err := l.venv.Reset()
	if err != nil {
		return fmt.Errorf("resetting environments: %w", err)
	}
	l.buf.SetFirst(first)

	for i := l.iteration; i < l.cfg.Training.NumEpochs; i++ {
		if err := ctx.Err(); err != nil {
			l.logger.Info().Int("iteration", i).Msg("Training interrupted")
			return l.saveIfConfigured(i)
		}

		if err := l.step(i); err != nil {
			return err
		}
	}

	if err := l.saveIfConfigured(l.cfg.Training.NumEpochs); err != nil {
		return err
	}
	return l.writePlot()
}

// step runs one COLLECT → BOOTSTRAP → RETURNS → OPTIMIZE → ROTATE iteration
// plus any periodic evaluation, logging and checkpointing it triggers.
func (l *Loop) step(i int) error {
	if err := l.collect(); err != nil {
		return fmt.Errorf("iteration %d: %w", i, err)
	}

	T := l.cfg.Training.TrainSteps
	bootstrap := l.pol.Value(l.buf.Observations[T], l.buf.HiddenStates[T], l.buf.Masks[T])
	if err := l.buf.ComputeReturns(bootstrap); err != nil {
		return fmt.Errorf("iteration %d: %w", i, err)
	}

	res, err := l.opt.Update(l.buf)
	if err != nil {
		return fmt.Errorf("iteration %d: %w", i, err)
	}
	l.buf.AfterUpdate()
	l.iteration = i + 1

	l.collector.Add("value_loss", res.ValueLoss)
	l.collector.Add("policy_loss", res.PolicyLoss)
	l.collector.Add("entropy", res.Entropy)

	cfg := l.cfg.Training
	if cfg.EvalInterval > 0 && (i+1)%cfg.EvalInterval == 0 {
		if err := l.evaluate(); err != nil {
			return fmt.Errorf("iteration %d: evaluation: %w", i, err)
		}
	}

	if (i+1)%cfg.LogInterval == 0 {
		if mean, ok := l.collector.Mean("episode_reward"); ok {
			l.rewardCurve = append(l.rewardCurve, mean)
		}
		l.collector.Emit(l.logger, i+1)
	}

	if cfg.SaveInterval > 0 && cfg.CheckpointDir != "" && (i+1)%cfg.SaveInterval == 0 {
		if err := l.saveIfConfigured(i + 1); err != nil {
			return err
		}
	}
	return nil
}

// collect advances the vector env for one full horizon, writing every
// transition into the rollout buffer. Slot 0 already holds the carried-over
// observation, recurrent state and mask from the previous horizon.
func (l *Loop) collect() error {
	for !l.buf.Full() {
		t := l.buf.Step()
		ev := l.pol.Act(l.buf.Observations[t], l.buf.HiddenStates[t], l.buf.Masks[t], false)

		res, err := l.venv.Step(ev.Actions)
		if err != nil {
			return fmt.Errorf("environment step: %w", err)
		}

		masks := l.observe(res, l.accum, "")
		if err := l.buf.Insert(res.Obs, ev.HiddenStates, ev.Actions, ev.LogProbs, ev.Values, res.Rewards, masks); err != nil {
			return err
		}
	}
	return nil
}

// observe folds one step result into the episode accumulators and metric
// series, returning the continuation masks for the next step.
func (l *Loop) observe(res *envs.StepResult, accum []*EpisodeAccumulator, prefix string) []float64 {
	masks := make([]float64, len(res.Dones))
	for n, done := range res.Dones {
		accum[n].Observe(res.Rewards[n])
		if done {
			reward, length := accum[n].Finish()
			l.collector.Add(prefix+"episode_reward", reward)
			l.collector.Add(prefix+"episode_length", float64(length))
		} else {
			masks[n] = 1
		}
		for k, v := range res.Infos[n] {
			l.collector.Add(prefix+k, v)
		}
	}
	return masks
}

// evaluate runs the collection logic against a separate evaluation
// environment with deterministic action selection. No parameters change and
// the rollout buffer is untouched.
func (l *Loop) evaluate() error {
	venv, err := l.evalMaker()
	if err != nil {
		return fmt.Errorf("building eval env: %w", err)
	}
	defer venv.Close()

	n := venv.Num()
	obs, err := venv.Reset()
	if err != nil {
		return fmt.Errorf("resetting eval environments: %w", err)
	}
	hiddenStates := make([][]float64, n)
	masks := make([]float64, n)
	for i := 0; i < n; i++ {
		hiddenStates[i] = make([]float64, l.pol.HiddenSize())
		masks[i] = 1
	}
	accum := newAccumulators(n)

	for step := 0; step < l.cfg.Training.EvalSteps; step++ {
		ev := l.pol.Act(obs, hiddenStates, masks, true)
		res, err := venv.Step(ev.Actions)
		if err != nil {
			return fmt.Errorf("eval environment step: %w", err)
		}
		masks = l.observe(res, accum, "eval_")
		obs = res.Obs
		hiddenStates = ev.HiddenStates
	}
	return nil
}

// Evaluate runs a single evaluation pass and emits its metrics. Used by the
// eval command against a restored checkpoint.
func (l *Loop) Evaluate() error {
	if err := l.evaluate(); err != nil {
		return err
	}
	l.collector.Emit(l.logger, l.iteration)
	return nil
}

func (l *Loop) saveIfConfigured(iteration int) error {
	dir := l.cfg.Training.CheckpointDir
	if dir == "" {
		return nil
	}
	path := filepath.Join(dir, "checkpoint.gob")
	if err := SaveCheckpoint(path, l.pol, l.opt.Adam(), iteration, l.runID); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	l.logger.Info().Str("path", path).Int("iteration", iteration).Msg("Saved checkpoint")
	return nil
}

func (l *Loop) writePlot() error {
	path := l.cfg.Metrics.PlotPath
	if path == "" || len(l.rewardCurve) == 0 {
		return nil
	}
	err := metrics.SavePlot(path, "Episodic reward", "Mean episode reward",
		metrics.Series{Name: l.runID, Values: l.rewardCurve})
	if err != nil {
		return err
	}
	l.logger.Info().Str("path", path).Msg("Wrote reward curve")
	return nil
}
