package ocsvm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Kernel families.
const (
	KernelRBF     = "rbf"
	KernelLinear  = "linear"
	KernelPoly    = "poly"
	KernelSigmoid = "sigmoid"
)

// Gamma modes.
const (
	GammaScale = "scale"
	GammaAuto  = "auto"
)

// maxCachedRows bounds the size of the precomputed Gram matrix.
const maxCachedRows = 3000

type kernel struct {
	Family string
	Gamma  float64
	Degree int
	Coef0  float64
}

func (k kernel) eval(x, y []float64) float64 {
	switch k.Family {
	case KernelLinear:
		return floats.Dot(x, y)
	case KernelPoly:
		return math.Pow(k.Gamma*floats.Dot(x, y)+k.Coef0, float64(k.Degree))
	case KernelSigmoid:
		return math.Tanh(k.Gamma*floats.Dot(x, y) + k.Coef0)
	}
	d := floats.Dot(x, x) + floats.Dot(y, y) - 2*floats.Dot(x, y)
	if d < 0 {
		d = 0
	}
	return math.Exp(-k.Gamma * d)
}

// gram serves rows of the kernel matrix of the training data. Small
// problems keep the full symmetric matrix; larger ones recompute rows.
type gram struct {
	k    kernel
	data [][]float64
	sym  *mat.SymDense
	diag []float64
}

func newGram(k kernel, data [][]float64) *gram {
	n := len(data)
	g := &gram{k: k, data: data, diag: make([]float64, n)}
	for i, x := range data {
		g.diag[i] = k.eval(x, x)
	}
	if n <= maxCachedRows {
		g.sym = mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			g.sym.SetSym(i, i, g.diag[i])
			for j := i + 1; j < n; j++ {
				g.sym.SetSym(i, j, k.eval(data[i], data[j]))
			}
		}
	}
	return g
}

// row writes row i into dst, which must have len(data) elements.
func (g *gram) row(dst []float64, i int) []float64 {
	if g.sym != nil {
		return mat.Row(dst, i, g.sym)
	}
	for j, x := range g.data {
		dst[j] = g.k.eval(g.data[i], x)
	}
	return dst
}
