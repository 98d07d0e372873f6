// Package ppo implements the clipped-surrogate policy optimization pass over
// a completed rollout horizon.
package ppo

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/config"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/policy"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/rollout"
)

// advantage normalization stabilizer; also guards a zero-variance batch
const advEps = 1e-5

// ErrNaNLoss is returned when a loss term degenerates. Skipping a NaN update
// silently would corrupt the training trajectory, so the run must abort.
var ErrNaNLoss = errors.New("loss is NaN")

// Results are the metrics of one Update call, averaged over
// ppo_epoch * num_minibatches gradient steps.
type Results struct {
	ValueLoss  float64
	PolicyLoss float64
	Entropy    float64
	GradNorm   float64
	NumUpdates int
}

// Optimizer runs E epochs of minibatched clipped-objective updates against a
// trainable policy. The policy's parameters are only ever touched here and
// during (strictly sequential) rollout evaluation, so no locking is needed.
type Optimizer struct {
	pol    policy.Trainable
	adam   *policy.Adam
	cfg    config.PPOConfig
	rng    *rand.Rand
	logger zerolog.Logger
}

func New(pol policy.Trainable, cfg config.PPOConfig, seed uint64, logger zerolog.Logger) *Optimizer {
	return &Optimizer{
		pol:    pol,
		adam:   policy.NewAdam(pol.Params(), cfg.LearningRate, cfg.Eps),
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.With().Str("component", "ppo").Logger(),
	}
}

// Adam exposes the optimizer state for checkpointing.
func (o *Optimizer) Adam() *policy.Adam { return o.adam }

// Update consumes a full rollout buffer. Advantages are normalized once over
// the entire buffer before minibatching so the surrogate scale is stable
// across minibatches of different composition; the cached old log-probs and
// values are never refreshed between epochs, which is the PPO staleness the
// clip bounds.
func (o *Optimizer) Update(buf *rollout.Buffer) (*Results, error) {
	advantages := o.normalizedAdvantages(buf)

	res := &Results{}
	for e := 0; e < o.cfg.PPOEpoch; e++ {
		batches, err := o.sample(buf, advantages)
		if err != nil {
			return nil, fmt.Errorf("sampling minibatches: %w", err)
		}
		for _, mb := range batches {
			if err := o.updateMinibatch(mb, res); err != nil {
				return nil, err
			}
		}
	}

	if res.NumUpdates > 0 {
		res.ValueLoss /= float64(res.NumUpdates)
		res.PolicyLoss /= float64(res.NumUpdates)
		res.Entropy /= float64(res.NumUpdates)
		res.GradNorm /= float64(res.NumUpdates)
	}
	return res, nil
}

func (o *Optimizer) sample(buf *rollout.Buffer, advantages [][]float64) ([]*rollout.Minibatch, error) {
	if o.pol.Recurrent() {
		return rollout.RecurrentBatches(buf, advantages, o.cfg.NumMinibatches, o.rng)
	}
	return rollout.FeedForwardBatches(buf, advantages, o.cfg.NumMinibatches, o.rng)
}

// normalizedAdvantages computes return-minus-value advantages over the whole
// buffer and rescales them to zero mean and unit variance. The epsilon keeps
// a degenerate all-identical-reward batch from dividing by zero.
func (o *Optimizer) normalizedAdvantages(buf *rollout.Buffer) [][]float64 {
	T, N := buf.NumSteps(), buf.NumEnvs()
	advantages := make([][]float64, T)
	flat := make([]float64, 0, T*N)
	for t := 0; t < T; t++ {
		advantages[t] = make([]float64, N)
		for n := 0; n < N; n++ {
			a := buf.Returns[t][n] - buf.Values[t][n]
			advantages[t][n] = a
			flat = append(flat, a)
		}
	}
	mean, std := stat.MeanStdDev(flat, nil)
	for t := range advantages {
		for n := range advantages[t] {
			advantages[t][n] = (advantages[t][n] - mean) / (std + advEps)
		}
	}
	return advantages
}

func (o *Optimizer) updateMinibatch(mb *rollout.Minibatch, res *Results) error {
	eval := o.pol.EvaluateActions(&mb.Batch)
	n := mb.Batch.Len()
	inv := 1 / float64(n)

	dLogProbs := make([]float64, n)
	dValues := make([]float64, n)
	dEntropies := make([]float64, n)

	var policyLoss, valueLoss, entropySum float64
	for i := 0; i < n; i++ {
		adv := mb.Advantages[i]
		ratio := math.Exp(eval.LogProbs[i] - mb.OldLogProbs[i])
		surr1 := ratio * adv
		surr2 := clamp(ratio, 1-o.cfg.ClipParam, 1+o.cfg.ClipParam) * adv
		if surr1 <= surr2 {
			policyLoss -= surr1 * inv
			// Only the unclipped branch carries gradient through the ratio.
			dLogProbs[i] = -adv * ratio * inv
		} else {
			policyLoss -= surr2 * inv
		}

		v, ret := eval.Values[i], mb.Returns[i]
		if o.cfg.UseClippedValueLoss {
			vClipped := mb.OldValues[i] + clamp(v-mb.OldValues[i], -o.cfg.ClipParam, o.cfg.ClipParam)
			l := (v - ret) * (v - ret)
			lClipped := (vClipped - ret) * (vClipped - ret)
			if l >= lClipped {
				valueLoss += 0.5 * l * inv
				dValues[i] = o.cfg.ValueLossCoef * (v - ret) * inv
			} else {
				valueLoss += 0.5 * lClipped * inv
				if math.Abs(v-mb.OldValues[i]) < o.cfg.ClipParam {
					dValues[i] = o.cfg.ValueLossCoef * (vClipped - ret) * inv
				}
			}
		} else {
			valueLoss += 0.5 * (v - ret) * (v - ret) * inv
			dValues[i] = o.cfg.ValueLossCoef * (v - ret) * inv
		}

		entropySum += eval.Entropies[i] * inv
		dEntropies[i] = -o.cfg.EntropyCoef * inv
	}

	total := valueLoss*o.cfg.ValueLossCoef + policyLoss - entropySum*o.cfg.EntropyCoef
	if math.IsNaN(total) || math.IsInf(total, 0) {
		o.logger.Error().
			Float64("value_loss", valueLoss).
			Float64("policy_loss", policyLoss).
			Float64("entropy", entropySum).
			Msg("Degenerate loss, aborting update")
		return ErrNaNLoss
	}

	o.pol.ZeroGrad()
	eval.Backward(dLogProbs, dValues, dEntropies)
	res.GradNorm += policy.ClipGradNorm(o.pol.Params(), o.cfg.MaxGradNorm)
	o.adam.Step(o.pol.Params())

	res.ValueLoss += valueLoss
	res.PolicyLoss += policyLoss
	res.Entropy += entropySum
	res.NumUpdates++
	return nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
