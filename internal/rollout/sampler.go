package rollout

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/policy"
)

// Minibatch is a materialized subset of buffered transitions together with
// the optimization targets cached at collection time.
type Minibatch struct {
	Batch       policy.Batch
	OldLogProbs []float64
	OldValues   []float64
	Returns     []float64
	Advantages  []float64
}

// FeedForwardBatches flattens the T×N grid into independent transitions,
// permutes them, and partitions into numMinibatches chunks whose sizes
// differ by at most one. Every transition appears in exactly one minibatch.
// Temporal order is deliberately discarded; the policy is memoryless.
func FeedForwardBatches(b *Buffer, advantages [][]float64, numMinibatches int, rng *rand.Rand) ([]*Minibatch, error) {
	T, N := b.cfg.NumSteps, b.cfg.NumEnvs
	total := T * N
	if numMinibatches <= 0 || numMinibatches > total {
		return nil, fmt.Errorf("cannot split %d transitions into %d minibatches", total, numMinibatches)
	}

	perm := rng.Perm(total)
	batches := make([]*Minibatch, 0, numMinibatches)
	base := total / numMinibatches
	rem := total % numMinibatches

	start := 0
	for k := 0; k < numMinibatches; k++ {
		size := base
		if k < rem {
			size++
		}
		mb := newMinibatch(size, 1, size)
		for j, idx := range perm[start : start+size] {
			t, n := idx/N, idx%N
			mb.Batch.Obs[j] = b.Observations[t][n]
			mb.Batch.HiddenStates[j] = b.HiddenStates[t][n]
			mb.Batch.Masks[j] = b.Masks[t][n]
			mb.Batch.Actions[j] = b.Actions[t][n]
			mb.OldLogProbs[j] = b.LogProbs[t][n]
			mb.OldValues[j] = b.Values[t][n]
			mb.Returns[j] = b.Returns[t][n]
			mb.Advantages[j] = advantages[t][n]
		}
		batches = append(batches, mb)
		start += size
	}
	return batches, nil
}

// RecurrentBatches partitions along the environment axis only: each
// minibatch receives a disjoint subset of environment columns with all T
// steps per column in temporal order (time-major rows), because recurrent
// state must be replayed sequentially. Column counts per minibatch differ by
// at most one and every column appears exactly once.
func RecurrentBatches(b *Buffer, advantages [][]float64, numMinibatches int, rng *rand.Rand) ([]*Minibatch, error) {
	T, N := b.cfg.NumSteps, b.cfg.NumEnvs
	if numMinibatches <= 0 || numMinibatches > N {
		return nil, fmt.Errorf("cannot split %d environment columns into %d minibatches", N, numMinibatches)
	}

	perm := rng.Perm(N)
	batches := make([]*Minibatch, 0, numMinibatches)
	base := N / numMinibatches
	rem := N % numMinibatches

	start := 0
	for k := 0; k < numMinibatches; k++ {
		cols := base
		if k < rem {
			cols++
		}
		selected := perm[start : start+cols]
		mb := newMinibatch(T*cols, T, cols)
		for s, n := range selected {
			// Each sequence replays from the hidden state entering the horizon.
			mb.Batch.HiddenStates[s] = b.HiddenStates[0][n]
			for t := 0; t < T; t++ {
				j := t*cols + s
				mb.Batch.Obs[j] = b.Observations[t][n]
				mb.Batch.Masks[j] = b.Masks[t][n]
				mb.Batch.Actions[j] = b.Actions[t][n]
				mb.OldLogProbs[j] = b.LogProbs[t][n]
				mb.OldValues[j] = b.Values[t][n]
				mb.Returns[j] = b.Returns[t][n]
				mb.Advantages[j] = advantages[t][n]
			}
		}
		batches = append(batches, mb)
		start += cols
	}
	return batches, nil
}

func newMinibatch(rows, seqLen, numSeqs int) *Minibatch {
	return &Minibatch{
		Batch: policy.Batch{
			Obs:          make([][]float64, rows),
			HiddenStates: make([][]float64, numSeqs),
			Masks:        make([]float64, rows),
			Actions:      make([]int, rows),
			SeqLen:       seqLen,
			NumSeqs:      numSeqs,
		},
		OldLogProbs: make([]float64, rows),
		OldValues:   make([]float64, rows),
		Returns:     make([]float64, rows),
		Advantages:  make([]float64, rows),
	}
}
