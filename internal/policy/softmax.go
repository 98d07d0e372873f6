package policy

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// softmax writes the normalized distribution for logits into probs.
// Logits are shifted by their max before exponentiation.
func softmax(logits, probs []float64) {
	shift := floats.Max(logits)
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(l - shift)
		sum += probs[i]
	}
	floats.Scale(1/sum, probs)
}

// entropy returns -sum p log p for a distribution.
func entropy(probs []float64) float64 {
	var h float64
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// sampleCategorical draws an index from the distribution, or takes the mode
// when deterministic.
func sampleCategorical(probs []float64, src rand.Source, deterministic bool) int {
	if deterministic {
		return floats.MaxIdx(probs)
	}
	if i, ok := sampleuv.NewWeighted(probs, src).Take(); ok {
		return i
	}
	return floats.MaxIdx(probs)
}

// logProb returns log probs[a] with a floor guarding log(0).
func logProb(probs []float64, a int) float64 {
	return math.Log(probs[a] + 1e-8)
}

// dLogits accumulates the gradient of dLp*logProb(a) + dEnt*entropy with
// respect to the logits of a softmax head. For the log-prob term the
// per-logit gradient is dLp * (1{i==a} - p_i); for the entropy term it is
// dEnt * (-p_i * (log p_i + H)).
func dLogits(dst, probs []float64, a int, dLp, dEnt, h float64) {
	for i, p := range probs {
		g := -dLp * p
		if i == a {
			g += dLp
		}
		if dEnt != 0 && p > 0 {
			g += dEnt * (-p * (math.Log(p) + h))
		}
		dst[i] = g
	}
}
