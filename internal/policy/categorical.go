package policy

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

const initScale = 0.01

// Categorical is a memoryless softmax policy: a linear actor head over the
// observation and a linear value head. It ignores recurrent state but echoes
// it back so buffer shapes stay uniform.
type Categorical struct {
	obsSize    int
	numActions int

	wPi *Param // [A x D]
	bPi *Param // [A]
	wV  *Param // [1 x D]
	bV  *Param // [1]

	params []*Param
	src    rand.Source
}

var _ Trainable = (*Categorical)(nil)

func NewCategorical(obsSize, numActions int, seed uint64) *Categorical {
	rng := rand.New(rand.NewSource(seed))
	p := &Categorical{
		obsSize:    obsSize,
		numActions: numActions,
		wPi:        newParamInit("pi.w", numActions, obsSize, initScale, rng),
		bPi:        newParam("pi.b", numActions, 1),
		wV:         newParamInit("v.w", 1, obsSize, initScale, rng),
		bV:         newParam("v.b", 1, 1),
		src:        rand.NewSource(seed + 1),
	}
	p.params = []*Param{p.wPi, p.bPi, p.wV, p.bV}
	return p
}

func (c *Categorical) Recurrent() bool  { return false }
func (c *Categorical) HiddenSize() int  { return 1 }
func (c *Categorical) Params() []*Param { return c.params }

func (c *Categorical) ZeroGrad() {
	for _, p := range c.params {
		p.zeroGrad()
	}
}

func (c *Categorical) forward(x []float64) (probs []float64, value float64) {
	logits := make([]float64, c.numActions)
	c.wPi.matVec(x, logits)
	floats.Add(logits, c.bPi.W)
	probs = make([]float64, c.numActions)
	softmax(logits, probs)
	value = floats.Dot(c.wV.W, x) + c.bV.W[0]
	return probs, value
}

func (c *Categorical) Act(obs, hiddenStates [][]float64, masks []float64, deterministic bool) *Evaluation {
	n := len(obs)
	ev := &Evaluation{
		Values:       make([]float64, n),
		Actions:      make([]int, n),
		LogProbs:     make([]float64, n),
		HiddenStates: hiddenStates,
	}
	for i, x := range obs {
		probs, value := c.forward(x)
		a := sampleCategorical(probs, c.src, deterministic)
		ev.Values[i] = value
		ev.Actions[i] = a
		ev.LogProbs[i] = logProb(probs, a)
	}
	return ev
}

func (c *Categorical) Value(obs, hiddenStates [][]float64, masks []float64) []float64 {
	values := make([]float64, len(obs))
	for i, x := range obs {
		values[i] = floats.Dot(c.wV.W, x) + c.bV.W[0]
	}
	return values
}

func (c *Categorical) EvaluateActions(b *Batch) *ActionEval {
	n := b.Len()
	eval := &ActionEval{
		Values:    make([]float64, n),
		LogProbs:  make([]float64, n),
		Entropies: make([]float64, n),
	}
	allProbs := make([][]float64, n)
	for i := 0; i < n; i++ {
		probs, value := c.forward(b.Obs[i])
		allProbs[i] = probs
		eval.Values[i] = value
		eval.LogProbs[i] = logProb(probs, b.Actions[i])
		eval.Entropies[i] = entropy(probs)
	}

	eval.backward = func(dLogProbs, dValues, dEntropies []float64) {
		dl := make([]float64, c.numActions)
		for i := 0; i < n; i++ {
			dLogits(dl, allProbs[i], b.Actions[i], dLogProbs[i], dEntropies[i], eval.Entropies[i])
			c.wPi.addOuter(dl, b.Obs[i])
			floats.Add(c.bPi.G, dl)
			floats.AddScaled(c.wV.G, dValues[i], b.Obs[i])
			c.bV.G[0] += dValues[i]
		}
	}
	return eval
}
