// Package policy defines the decision-making contract the training engine
// drives, plus two concrete tabular-scale policies (a feed-forward softmax
// policy and a tanh-RNN recurrent policy) with analytic gradients.
package policy

// Evaluation is the policy's response to one batched collection step.
type Evaluation struct {
	Values       []float64
	Actions      []int
	LogProbs     []float64
	HiddenStates [][]float64
}

// Batch is a minibatch of transitions laid out for re-evaluation during
// optimization. Rows are time-major: row t*NumSeqs+s is time step t of
// sequence s. Feed-forward minibatches use SeqLen == 1, so every row is an
// independent sequence. HiddenStates holds one initial recurrent state per
// sequence; Masks holds the continuation bit entering each row's step.
type Batch struct {
	Obs          [][]float64
	HiddenStates [][]float64
	Masks        []float64
	Actions      []int
	SeqLen       int
	NumSeqs      int
}

// Len returns the number of transition rows in the batch.
func (b *Batch) Len() int { return b.SeqLen * b.NumSeqs }

// ActionEval is the result of re-evaluating the current policy on a batch of
// old transitions. Backward accumulates parameter gradients for the given
// per-sample output gradients; it may only be called once, with slices
// aligned to the batch rows.
type ActionEval struct {
	Values    []float64
	LogProbs  []float64
	Entropies []float64

	backward func(dLogProbs, dValues, dEntropies []float64)
}

// Backward chains per-sample gradients on (log-prob, value, entropy) into the
// policy's parameter gradient accumulators.
func (e *ActionEval) Backward(dLogProbs, dValues, dEntropies []float64) {
	e.backward(dLogProbs, dValues, dEntropies)
}

// Policy is the contract consumed during rollout collection. When
// deterministic is set the policy takes the distribution mode instead of
// sampling (evaluation passes).
type Policy interface {
	// Act evaluates one time step for a batch of environments, sampling an
	// action per row. Masks gate the incoming recurrent state: a zero mask
	// zeroes the carried state at an episode boundary.
	Act(obs, hiddenStates [][]float64, masks []float64, deterministic bool) *Evaluation
	// Value runs only the value head, used to bootstrap returns.
	Value(obs, hiddenStates [][]float64, masks []float64) []float64
	Recurrent() bool
	// HiddenSize is the recurrent state width; non-recurrent policies report 1
	// so buffer shapes stay uniform.
	HiddenSize() int
}

// Trainable extends Policy with what the PPO optimizer needs: gradient
// accumulation, parameter access for clipping and checkpointing.
type Trainable interface {
	Policy
	// EvaluateActions re-runs the current parameters over old transitions,
	// returning fresh values, log-probs of the stored actions, and entropies.
	EvaluateActions(b *Batch) *ActionEval
	Params() []*Param
	ZeroGrad()
}
