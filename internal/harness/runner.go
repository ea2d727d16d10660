package harness

import (
	"fmt"
	"math"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"
	"oracle-pricemodel/internal/verify"
)

// DefaultTolerance is the relative confidence tolerance (numpy allclose rtol).
const DefaultTolerance = 1e-5

// Runner replays a Dataset through a fresh model and checks every evaluation.
type Runner struct {
	// Tolerance is the allowed relative error on confidence. Zero uses DefaultTolerance.
	Tolerance float64
	// NewModel builds the model under test for each Run.
	NewModel func() model.PriceModel
}

// Report summarizes a passing run.
type Report struct {
	Trades      int
	Evals       int
	Unavailable int
	// MaxRelErr is the largest relative confidence error seen on an available eval.
	MaxRelErr float64
}

// MismatchError describes the first evaluation that disagreed with the dataset.
type MismatchError struct {
	Index     int
	Time      timeutil.Timestamp
	WantPrice int64
	WantConf  float64
	GotPrice  int64
	GotConf   float64
	Available bool
}

func (e *MismatchError) Error() string {
	if !e.Available {
		return fmt.Sprintf("eval %d at %d: no estimate, expected price=%d conf=%g",
			e.Index, e.Time, e.WantPrice, e.WantConf)
	}
	return fmt.Sprintf("eval %d at %d: got price=%d conf=%g, expected price=%d conf=%g",
		e.Index, e.Time, e.GotPrice, e.GotConf, e.WantPrice, e.WantConf)
}

// Run validates ds and replays it. Trades are applied while the next
// evaluation time is strictly after the next trade time, so a trade sharing a
// timestamp with an evaluation is applied after it. Contract violations inside
// the model are returned as *verify.AssertionError.
func (r *Runner) Run(ds *Dataset) (rep Report, err error) {
	if err := ds.Validate(); err != nil {
		return rep, err
	}
	if r.NewModel == nil {
		return rep, fmt.Errorf("runner has no model constructor")
	}
	tol := r.Tolerance
	if tol == 0 {
		tol = DefaultTolerance
	}
	if tol < 0 {
		return rep, fmt.Errorf("negative tolerance %g", tol)
	}

	defer verify.Recover(&err)

	pm := r.NewModel()
	tradeIdx, evalIdx := 0, 0
	tradeCount, evalCount := len(ds.TradeTimes), len(ds.EvalTimes)

	for {
		evalTime := timeutil.Timestamp(math.MaxUint64)
		if evalIdx < evalCount {
			evalTime = ds.EvalTimes[evalIdx]
		}

		if tradeIdx < tradeCount && evalTime > ds.TradeTimes[tradeIdx] {
			pm.AddTrade(model.Trade{Price: ds.TradePrices[tradeIdx], Time: ds.TradeTimes[tradeIdx]})
			tradeIdx++
			continue
		}
		if evalIdx >= evalCount {
			break
		}

		wantPrice, wantConf := ds.EvalPrices[evalIdx], ds.EvalConfs[evalIdx]
		est, ok := pm.EvalAtTime(evalTime)
		if !ok {
			if wantPrice != 0 || wantConf != 0 {
				return rep, &MismatchError{Index: evalIdx, Time: evalTime, WantPrice: wantPrice, WantConf: wantConf}
			}
			rep.Unavailable++
		} else {
			if !withinTolerance(est, wantPrice, wantConf, tol) {
				return rep, &MismatchError{
					Index: evalIdx, Time: evalTime,
					WantPrice: wantPrice, WantConf: wantConf,
					GotPrice: est.Price, GotConf: est.Confidence,
					Available: true,
				}
			}
			rep.MaxRelErr = max(rep.MaxRelErr, relErr(est.Confidence, wantConf))
		}
		evalIdx++
	}

	rep.Trades, rep.Evals = tradeIdx, evalIdx
	return rep, nil
}

func withinTolerance(est model.PriceEstimate, wantPrice int64, wantConf, tol float64) bool {
	return est.Price == wantPrice &&
		est.Confidence >= wantConf*(1-tol) &&
		est.Confidence <= wantConf*(1+tol)
}

func relErr(got, want float64) float64 {
	if want == 0 {
		return math.Abs(got)
	}
	return math.Abs(got-want) / math.Abs(want)
}
