package ocsvm

import (
	"math"
)

// tau replaces non-positive curvature in the pair update.
const tau = 1e-12

// solution of the one-class dual
//
//	min ½ αᵀQα  s.t.  0 ≤ αᵢ ≤ 1,  Σαᵢ = ν·l
//
// found by sequential minimal optimization with second-order working set
// selection.
type solution struct {
	alpha      []float64
	rho        float64
	iterations int
	converged  bool
}

func solve(g *gram, nu, eps float64, maxIter int) solution {
	l := len(g.data)
	const upper = 1.0

	alpha := make([]float64, l)
	total := nu * float64(l)
	full := int(total)
	for i := 0; i < full && i < l; i++ {
		alpha[i] = upper
	}
	if full < l {
		alpha[full] = total - float64(full)
	}

	grad := make([]float64, l)
	qi := make([]float64, l)
	qj := make([]float64, l)
	for i := 0; i < l; i++ {
		if alpha[i] == 0 {
			continue
		}
		g.row(qi, i)
		for k := 0; k < l; k++ {
			grad[k] += alpha[i] * qi[k]
		}
	}

	sol := solution{alpha: alpha}
	for sol.iterations < maxIter {
		// i maximizes -G over alphas that can still grow.
		gmax := math.Inf(-1)
		i := -1
		for t := 0; t < l; t++ {
			if alpha[t] < upper && -grad[t] >= gmax {
				gmax = -grad[t]
				i = t
			}
		}
		if i == -1 {
			sol.converged = true
			break
		}
		g.row(qi, i)

		gmax2 := math.Inf(-1)
		j := -1
		objMin := math.Inf(1)
		for t := 0; t < l; t++ {
			if alpha[t] <= 0 {
				continue
			}
			if grad[t] >= gmax2 {
				gmax2 = grad[t]
			}
			diff := gmax + grad[t]
			if diff <= 0 {
				continue
			}
			quad := g.diag[i] + g.diag[t] - 2*qi[t]
			if quad <= 0 {
				quad = tau
			}
			if obj := -(diff * diff) / quad; obj <= objMin {
				objMin = obj
				j = t
			}
		}
		if gmax+gmax2 < eps || j == -1 {
			sol.converged = true
			break
		}
		g.row(qj, j)
		sol.iterations++

		quad := g.diag[i] + g.diag[j] - 2*qi[j]
		if quad <= 0 {
			quad = tau
		}
		oldI, oldJ := alpha[i], alpha[j]
		delta := (grad[i] - grad[j]) / quad
		sum := oldI + oldJ
		alpha[i] -= delta
		alpha[j] += delta
		if sum > upper {
			if alpha[i] > upper {
				alpha[i] = upper
				alpha[j] = sum - upper
			}
		} else if alpha[j] < 0 {
			alpha[j] = 0
			alpha[i] = sum
		}
		if sum > upper {
			if alpha[j] > upper {
				alpha[j] = upper
				alpha[i] = sum - upper
			}
		} else if alpha[i] < 0 {
			alpha[i] = 0
			alpha[j] = sum
		}

		dI, dJ := alpha[i]-oldI, alpha[j]-oldJ
		for k := 0; k < l; k++ {
			grad[k] += qi[k]*dI + qj[k]*dJ
		}
	}

	sol.rho = offset(alpha, grad, upper)
	return sol
}

// offset averages the gradient over free alphas, falling back to the
// midpoint of the feasible interval when every alpha sits on a bound.
func offset(alpha, grad []float64, upper float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	var sum float64
	free := 0
	for i, a := range alpha {
		switch {
		case a >= upper:
			lb = math.Max(lb, grad[i])
		case a <= 0:
			ub = math.Min(ub, grad[i])
		default:
			free++
			sum += grad[i]
		}
	}
	switch {
	case free > 0:
		return sum / float64(free)
	case math.IsInf(ub, 1):
		return lb
	case math.IsInf(lb, -1):
		return ub
	}
	return (ub + lb) / 2
}
