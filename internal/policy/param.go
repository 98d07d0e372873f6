package policy

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// Param is one named parameter tensor stored row-major with a matching
// gradient accumulator. Vectors use Cols == 1.
type Param struct {
	Name string
	Rows int
	Cols int
	W    []float64
	G    []float64
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name: name,
		Rows: rows,
		Cols: cols,
		W:    make([]float64, rows*cols),
		G:    make([]float64, rows*cols),
	}
}

func newParamInit(name string, rows, cols int, scale float64, rng *rand.Rand) *Param {
	p := newParam(name, rows, cols)
	for i := range p.W {
		p.W[i] = rng.NormFloat64() * scale
	}
	return p
}

func (p *Param) zeroGrad() {
	for i := range p.G {
		p.G[i] = 0
	}
}

// row returns the i-th row of the weight matrix.
func (p *Param) row(i int) []float64 {
	return p.W[i*p.Cols : (i+1)*p.Cols]
}

// gradRow returns the i-th row of the gradient accumulator.
func (p *Param) gradRow(i int) []float64 {
	return p.G[i*p.Cols : (i+1)*p.Cols]
}

// matVec computes out = W x for a [Rows x Cols] parameter.
func (p *Param) matVec(x, out []float64) {
	for i := 0; i < p.Rows; i++ {
		out[i] = floats.Dot(p.row(i), x)
	}
}

// matVecT computes out += Wᵀ y, chaining gradients back through matVec.
func (p *Param) matVecT(y, out []float64) {
	for i := 0; i < p.Rows; i++ {
		floats.AddScaled(out, y[i], p.row(i))
	}
}

// addOuter accumulates G += dy ⊗ x.
func (p *Param) addOuter(dy, x []float64) {
	for i := 0; i < p.Rows; i++ {
		floats.AddScaled(p.gradRow(i), dy[i], x)
	}
}

// GradNorm returns the joint L2 norm of all parameter gradients.
func GradNorm(params []*Param) float64 {
	var sum float64
	for _, p := range params {
		sum += floats.Dot(p.G, p.G)
	}
	return math.Sqrt(sum)
}

// ClipGradNorm rescales all gradients jointly so their L2 norm does not
// exceed max. It returns the pre-clip norm.
func ClipGradNorm(params []*Param, max float64) float64 {
	norm := GradNorm(params)
	if max > 0 && norm > max {
		scale := max / (norm + 1e-6)
		for _, p := range params {
			floats.Scale(scale, p.G)
		}
	}
	return norm
}
