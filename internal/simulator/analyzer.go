package simulator

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/finetize/trading-sim/pkg/types"
)

// Analyze derives summary statistics from a trade event log and the
// final ledger state. It replays the log, tracking the book size (cash
// plus mark-to-market position value) after each event, and builds the
// per-event fractional P&L series from consecutive book sizes.
//
// Every ratio guards division by zero with NaN (or 0 for turnover)
// rather than raising; a zero-trade run is a defined degenerate
// outcome, not an error.
func Analyze(events []types.TradeEvent, initialCash, finalTotalAsset decimal.Decimal) types.Stats {
	initial, _ := initialCash.Float64()
	final, _ := finalTotalAsset.Float64()

	ret := math.NaN()
	if initial != 0 {
		ret = final/initial - 1
	}

	if len(events) == 0 {
		return types.Stats{
			Turnover: 0,
			Sharpe:   math.NaN(),
			Margin:   math.NaN(),
			Return:   ret,
		}
	}

	var (
		cash   = initial
		shares int64
		volume float64
		book   = initial
		pnls   = make([]float64, 0, len(events))
	)
	for _, ev := range events {
		price, _ := ev.Price.Float64()
		traded := price * float64(ev.Shares)
		volume += traded

		switch ev.Side {
		case types.SideBuy:
			cash -= traded
			shares += ev.Shares
		case types.SideSell:
			// Sell proceeds are net of fees; the ledger already wrote
			// the post-fill cash.
			cash, _ = ev.CashAfter.Float64()
			shares -= ev.Shares
		}

		bookAfter := cash + float64(shares)*price
		if book != 0 {
			pnls = append(pnls, (bookAfter-book)/book)
		}
		book = bookAfter
	}

	// The turnover denominator is the book as of the last event, at
	// that event's price; drift after the final trade does not dilute
	// it.
	turnover := 0.0
	if book != 0 {
		turnover = 100 * volume / book
	}

	meanPnL := mean(pnls)
	sharpe := math.NaN()
	if sd := popStdDev(pnls); sd != 0 && !math.IsNaN(sd) {
		sharpe = meanPnL / sd
	}

	margin := math.NaN()
	if volume != 0 {
		margin = meanPnL / volume
	}

	return types.Stats{
		Turnover: turnover,
		Sharpe:   sharpe,
		Margin:   margin,
		Return:   ret,
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// popStdDev is the population standard deviation.
func popStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}
