package transform

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	lmInitialLambda = 1e-3
	lmMaxLambda     = 1e16
)

// TermCriteria bounds an iterative refinement by a maximum number of iterations and by the
// smallest relative change of the parameters worth another iteration.
type TermCriteria struct {
	MaxIter int     `json:"max_iter"`
	Epsilon float64 `json:"epsilon"`
}

// residualFunc writes the residuals of the parameters x into dst. It must not keep references to
// its arguments and must be safe to call concurrently.
type residualFunc func(dst, x []float64)

// levenbergMarquardt minimizes the sum of squares of the m residuals returned by f, starting from
// x0. It returns the refined parameters and the final sum of squares.
func levenbergMarquardt(f residualFunc, x0 []float64, m int, crit TermCriteria) ([]float64, float64) {
	n := len(x0)
	x := make([]float64, n)
	copy(x, x0)
	r := make([]float64, m)
	f(r, x)
	cost := floats.Dot(r, r)
	if n == 0 || m == 0 {
		return x, cost
	}

	jac := mat.NewDense(m, n, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central, Concurrent: true}
	var jtj mat.SymDense
	g := mat.NewVecDense(n, nil)
	a := mat.NewSymDense(n, nil)
	step := mat.NewVecDense(n, nil)
	candidate := make([]float64, n)
	rCandidate := make([]float64, m)

	lambda := lmInitialLambda
	for iter := 0; iter < crit.MaxIter; iter++ {
		fd.Jacobian(jac, f, x, settings)
		jtj.SymOuterK(1, jac.T())
		g.MulVec(jac.T(), mat.NewVecDense(m, r))

		improved := false
		for lambda < lmMaxLambda {
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					a.SetSym(i, j, jtj.At(i, j))
				}
				// scale the damping with the curvature, keeping a floor for unobserved parameters
				a.SetSym(i, i, jtj.At(i, i)+lambda*math.Max(jtj.At(i, i), 1e-12))
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(a); !ok {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(step, g); err != nil {
				lambda *= 10
				continue
			}
			for i := range candidate {
				candidate[i] = x[i] - step.AtVec(i)
			}
			f(rCandidate, candidate)
			newCost := floats.Dot(rCandidate, rCandidate)
			if !math.IsNaN(newCost) && newCost < cost {
				copy(x, candidate)
				copy(r, rCandidate)
				cost = newCost
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
		if floats.Norm(step.RawVector().Data, 2) <= crit.Epsilon*math.Max(floats.Norm(x, 2), 1e-12) {
			break
		}
	}
	return x, cost
}

// rmsFromCost converts a sum of squared (dx, dy) residuals into the root mean square distance per
// observed point.
func rmsFromCost(cost float64, numResiduals int) float64 {
	if numResiduals == 0 {
		return 0
	}
	return math.Sqrt(cost / float64(numResiduals/2))
}
