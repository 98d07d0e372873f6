package policy

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// Recurrent is a stateful policy built on a single tanh recurrent layer with
// softmax actor and linear value heads on top of the hidden state. The
// carried hidden state is zeroed at episode boundaries by the mask before
// each cell application, both during collection and during minibatch replay.
type Recurrent struct {
	obsSize    int
	hiddenSize int
	numActions int

	wX  *Param // [H x D]
	wH  *Param // [H x H]
	bH  *Param // [H]
	wPi *Param // [A x H]
	bPi *Param // [A]
	wV  *Param // [1 x H]
	bV  *Param // [1]

	params []*Param
	src    rand.Source
}

var _ Trainable = (*Recurrent)(nil)

func NewRecurrent(obsSize, hiddenSize, numActions int, seed uint64) *Recurrent {
	rng := rand.New(rand.NewSource(seed))
	p := &Recurrent{
		obsSize:    obsSize,
		hiddenSize: hiddenSize,
		numActions: numActions,
		wX:         newParamInit("rnn.wx", hiddenSize, obsSize, initScale, rng),
		wH:         newParamInit("rnn.wh", hiddenSize, hiddenSize, initScale, rng),
		bH:         newParam("rnn.bh", hiddenSize, 1),
		wPi:        newParamInit("pi.w", numActions, hiddenSize, initScale, rng),
		bPi:        newParam("pi.b", numActions, 1),
		wV:         newParamInit("v.w", 1, hiddenSize, initScale, rng),
		bV:         newParam("v.b", 1, 1),
		src:        rand.NewSource(seed + 1),
	}
	p.params = []*Param{p.wX, p.wH, p.bH, p.wPi, p.bPi, p.wV, p.bV}
	return p
}

func (r *Recurrent) Recurrent() bool  { return true }
func (r *Recurrent) HiddenSize() int  { return r.hiddenSize }
func (r *Recurrent) Params() []*Param { return r.params }

func (r *Recurrent) ZeroGrad() {
	for _, p := range r.params {
		p.zeroGrad()
	}
}

// cell applies one recurrent step. hIn must already be mask-gated.
func (r *Recurrent) cell(x, hIn []float64) []float64 {
	z := make([]float64, r.hiddenSize)
	r.wX.matVec(x, z)
	tmp := make([]float64, r.hiddenSize)
	r.wH.matVec(hIn, tmp)
	floats.Add(z, tmp)
	floats.Add(z, r.bH.W)
	for i, v := range z {
		z[i] = math.Tanh(v)
	}
	return z
}

func maskState(h []float64, mask float64) []float64 {
	out := make([]float64, len(h))
	if mask != 0 {
		copy(out, h)
		if mask != 1 {
			floats.Scale(mask, out)
		}
	}
	return out
}

func (r *Recurrent) heads(h []float64) (probs []float64, value float64) {
	logits := make([]float64, r.numActions)
	r.wPi.matVec(h, logits)
	floats.Add(logits, r.bPi.W)
	probs = make([]float64, r.numActions)
	softmax(logits, probs)
	value = floats.Dot(r.wV.W, h) + r.bV.W[0]
	return probs, value
}

func (r *Recurrent) Act(obs, hiddenStates [][]float64, masks []float64, deterministic bool) *Evaluation {
	n := len(obs)
	ev := &Evaluation{
		Values:       make([]float64, n),
		Actions:      make([]int, n),
		LogProbs:     make([]float64, n),
		HiddenStates: make([][]float64, n),
	}
	for i, x := range obs {
		h := r.cell(x, maskState(hiddenStates[i], masks[i]))
		probs, value := r.heads(h)
		a := sampleCategorical(probs, r.src, deterministic)
		ev.Values[i] = value
		ev.Actions[i] = a
		ev.LogProbs[i] = logProb(probs, a)
		ev.HiddenStates[i] = h
	}
	return ev
}

func (r *Recurrent) Value(obs, hiddenStates [][]float64, masks []float64) []float64 {
	values := make([]float64, len(obs))
	for i, x := range obs {
		h := r.cell(x, maskState(hiddenStates[i], masks[i]))
		values[i] = floats.Dot(r.wV.W, h) + r.bV.W[0]
	}
	return values
}

// EvaluateActions replays each sequence in temporal order from its stored
// initial hidden state, caching activations for backpropagation through time.
func (r *Recurrent) EvaluateActions(b *Batch) *ActionEval {
	n := b.Len()
	eval := &ActionEval{
		Values:    make([]float64, n),
		LogProbs:  make([]float64, n),
		Entropies: make([]float64, n),
	}

	hIns := make([][]float64, n)
	hs := make([][]float64, n)
	allProbs := make([][]float64, n)

	prev := make([][]float64, b.NumSeqs)
	for s := range prev {
		prev[s] = b.HiddenStates[s]
	}
	for t := 0; t < b.SeqLen; t++ {
		for s := 0; s < b.NumSeqs; s++ {
			i := t*b.NumSeqs + s
			hIn := maskState(prev[s], b.Masks[i])
			h := r.cell(b.Obs[i], hIn)
			probs, value := r.heads(h)

			hIns[i] = hIn
			hs[i] = h
			allProbs[i] = probs
			eval.Values[i] = value
			eval.LogProbs[i] = logProb(probs, b.Actions[i])
			eval.Entropies[i] = entropy(probs)
			prev[s] = h
		}
	}

	eval.backward = func(dLogProbs, dValues, dEntropies []float64) {
		carry := make([][]float64, b.NumSeqs)
		for s := range carry {
			carry[s] = make([]float64, r.hiddenSize)
		}
		dl := make([]float64, r.numActions)
		for t := b.SeqLen - 1; t >= 0; t-- {
			for s := 0; s < b.NumSeqs; s++ {
				i := t*b.NumSeqs + s
				h := hs[i]

				dLogits(dl, allProbs[i], b.Actions[i], dLogProbs[i], dEntropies[i], eval.Entropies[i])
				r.wPi.addOuter(dl, h)
				floats.Add(r.bPi.G, dl)
				floats.AddScaled(r.wV.G, dValues[i], h)
				r.bV.G[0] += dValues[i]

				dh := make([]float64, r.hiddenSize)
				r.wPi.matVecT(dl, dh)
				floats.AddScaled(dh, dValues[i], r.wV.W)
				floats.Add(dh, carry[s])

				// Through the tanh cell.
				dz := make([]float64, r.hiddenSize)
				for j, hv := range h {
					dz[j] = dh[j] * (1 - hv*hv)
				}
				r.wX.addOuter(dz, b.Obs[i])
				r.wH.addOuter(dz, hIns[i])
				floats.Add(r.bH.G, dz)

				next := make([]float64, r.hiddenSize)
				r.wH.matVecT(dz, next)
				if b.Masks[i] != 1 {
					floats.Scale(b.Masks[i], next)
				}
				carry[s] = next
			}
		}
	}
	return eval
}
