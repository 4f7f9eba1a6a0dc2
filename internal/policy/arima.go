package policy

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// errModelFit covers every way a fit can fail: too little data after
// differencing, an underdetermined system, or an ill-conditioned solve.
var errModelFit = errors.New("model fit failed")

// forecastNext fits an ARIMA(p,d,q) model to the series and returns the
// one-step-ahead forecast on the original (undifferenced) scale.
//
// Estimation is Hannan-Rissanen: a long autoregression first recovers
// the innovation sequence, then the final coefficients come from a
// least-squares regression on p lagged values and q lagged innovations.
func forecastNext(series []float64, p, d, q int) (float64, error) {
	if p < 0 || d < 0 || q < 0 {
		return 0, errModelFit
	}

	// Difference d times, keeping every level so the forecast can be
	// integrated back up.
	levels := make([][]float64, d+1)
	levels[0] = series
	for i := 1; i <= d; i++ {
		if len(levels[i-1]) < 2 {
			return 0, errModelFit
		}
		levels[i] = difference(levels[i-1])
	}
	w := levels[d]

	var resid []float64
	residOffset := 0
	if q > 0 {
		longLag := p + q + 2
		var err error
		resid, err = arResiduals(w, longLag)
		if err != nil {
			return 0, err
		}
		residOffset = longLag
	}

	beta, err := fitARMA(w, resid, residOffset, p, q)
	if err != nil {
		return 0, err
	}

	// One-step forecast on the differenced scale.
	n := len(w)
	forecast := beta[0]
	for i := 1; i <= p; i++ {
		forecast += beta[i] * w[n-i]
	}
	for j := 1; j <= q; j++ {
		idx := len(resid) - j
		if idx < 0 {
			return 0, errModelFit
		}
		forecast += beta[p+j] * resid[idx]
	}

	// Integrate back through the differencing levels.
	for i := d - 1; i >= 0; i-- {
		forecast += levels[i][len(levels[i])-1]
	}
	return forecast, nil
}

// difference returns the first difference of xs (length len(xs)-1).
func difference(xs []float64) []float64 {
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

// arResiduals fits a long AR(lag) regression by least squares and
// returns its residual sequence, aligned so resid[t-lag] corresponds
// to w[t].
func arResiduals(w []float64, lag int) ([]float64, error) {
	rows := len(w) - lag
	cols := lag + 1
	if rows < cols+1 {
		return nil, errModelFit
	}

	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for t := lag; t < len(w); t++ {
		row := t - lag
		x.Set(row, 0, 1)
		for i := 1; i <= lag; i++ {
			x.Set(row, i, w[t-i])
		}
		y.SetVec(row, w[t])
	}

	beta, err := solveLeastSquares(x, y)
	if err != nil {
		return nil, err
	}

	resid := make([]float64, rows)
	for t := lag; t < len(w); t++ {
		fitted := beta[0]
		for i := 1; i <= lag; i++ {
			fitted += beta[i] * w[t-i]
		}
		resid[t-lag] = w[t] - fitted
	}
	return resid, nil
}

// fitARMA regresses w[t] on an intercept, p lags of w and q lags of the
// recovered innovations. It returns the coefficient vector
// [c, phi_1..phi_p, theta_1..theta_q].
func fitARMA(w, resid []float64, residOffset, p, q int) ([]float64, error) {
	start := p
	if q > 0 && residOffset+q > start {
		start = residOffset + q
	}
	rows := len(w) - start
	cols := 1 + p + q
	if rows < cols+1 {
		return nil, errModelFit
	}

	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for t := start; t < len(w); t++ {
		row := t - start
		x.Set(row, 0, 1)
		for i := 1; i <= p; i++ {
			x.Set(row, i, w[t-i])
		}
		for j := 1; j <= q; j++ {
			x.Set(row, p+j, resid[t-residOffset-j])
		}
		y.SetVec(row, w[t])
	}

	return solveLeastSquares(x, y)
}

func solveLeastSquares(x *mat.Dense, y *mat.VecDense) ([]float64, error) {
	var qr mat.QR
	qr.Factorize(x)

	_, cols := x.Dims()
	beta := mat.NewVecDense(cols, nil)
	if err := qr.SolveVecTo(beta, false, y); err != nil {
		return nil, errModelFit
	}

	out := make([]float64, cols)
	for i := range out {
		out[i] = beta.AtVec(i)
	}
	return out, nil
}
