// Package types provides shared type definitions for the simulation backend.
package types

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Action is a decision produced by a policy for a single trading day.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionWait Action = "wait"
)

// PolicyKind identifies a decision policy.
type PolicyKind string

const (
	PolicyRandom         PolicyKind = "random"
	PolicyMomentum       PolicyKind = "momentum"
	PolicyMeanReversion  PolicyKind = "mean_reversion"
	PolicyAutoregressive PolicyKind = "autoregressive"
)

// TradeSide represents buy or sell on an executed trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Bar represents a single daily candlestick.
type Bar struct {
	Date  time.Time       `json:"date"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// TradeEvent is an executed fill recorded in the event log. Events are
// immutable once appended; log order is chronological order.
// RealizedReturn and CashAfter are populated on sells only.
type TradeEvent struct {
	Side           TradeSide       `json:"side"`
	Date           time.Time       `json:"date"`
	Price          decimal.Decimal `json:"price"`
	Shares         int64           `json:"shares"`
	RealizedReturn decimal.Decimal `json:"realizedReturn,omitempty"`
	CashAfter      decimal.Decimal `json:"cashAfter,omitempty"`
}

// Stats are the summary statistics derived from a finished run.
// Sharpe here is mean over standard deviation of per-event fractional
// P&L, not an annualized ratio. Undefined ratios are NaN, never errors.
type Stats struct {
	Turnover float64 `json:"turnover"`
	Sharpe   float64 `json:"sharpe"`
	Margin   float64 `json:"margin"`
	Return   float64 `json:"return"`
}

// MarshalJSON encodes undefined ratios as null; JSON has no NaN
// literal and encoding/json rejects the value outright.
func (s Stats) MarshalJSON() ([]byte, error) {
	finite := func(v float64) interface{} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	}
	return json.Marshal(map[string]interface{}{
		"turnover": finite(s.Turnover),
		"sharpe":   finite(s.Sharpe),
		"margin":   finite(s.Margin),
		"return":   finite(s.Return),
	})
}

// SimulationResult is the immutable outcome of one simulation run.
type SimulationResult struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Policy        PolicyKind      `json:"policy"`
	Events        []TradeEvent    `json:"events"`
	FinalCash     decimal.Decimal `json:"finalCash"`
	FinalShares   int64           `json:"finalShares"`
	TotalAsset    decimal.Decimal `json:"totalAsset"`
	Stats         Stats           `json:"stats"`
	BuyHoldReturn float64         `json:"buyHoldReturn"`
	Days          int             `json:"days"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   time.Time       `json:"completedAt"`
}

// SymbolOutcome is the tagged per-symbol result of a market sweep.
// A failed symbol carries the failure reason instead of a return, so
// callers can tell "no profit" from "could not evaluate".
type SymbolOutcome struct {
	Symbol string  `json:"symbol"`
	Return float64 `json:"return"`
	Failed bool    `json:"failed"`
	Reason string  `json:"reason,omitempty"`
}

// SweepResult holds the outcome of a full-universe sweep.
type SweepResult struct {
	ID          string                   `json:"id"`
	Policy      PolicyKind               `json:"policy"`
	Lookback    int                      `json:"lookback"`
	Outcomes    map[string]SymbolOutcome `json:"outcomes"`
	Wins        map[string]float64       `json:"wins"`
	Losses      map[string]float64       `json:"losses"`
	Evaluated   int                      `json:"evaluated"`
	Failures    int                      `json:"failures"`
	StartedAt   time.Time                `json:"startedAt"`
	CompletedAt time.Time                `json:"completedAt"`
}

// OptimizeResult holds the outcome of a lookback grid search.
type OptimizeResult struct {
	Symbol          string          `json:"symbol"`
	Policy          PolicyKind      `json:"policy"`
	BestLookback    int             `json:"bestLookback"`
	BestReturn      float64         `json:"bestReturn"`
	ReturnsByPeriod map[int]float64 `json:"returnsByPeriod"`
}
