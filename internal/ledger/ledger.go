// Package ledger tracks the cash/position state of a single simulation
// run together with its append-only trade event log.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/finetize/trading-sim/pkg/types"
)

// Ledger is the mutable book of one simulation run: cash, shares held,
// the cost-basis lots accumulated since the last full liquidation, and
// the two per-side cooldown counters. A ledger is owned exclusively by
// one run and is never shared across symbols or goroutines.
type Ledger struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	shares      int64
	lots        []decimal.Decimal

	cooldownBuy   int
	cooldownSell  int
	cooldownSteps int

	sellFeeRate decimal.Decimal
	events      []types.TradeEvent
}

// New creates a ledger holding initialCash. sellFeeRate is the haircut
// applied to sell proceeds; cooldownSteps is the number of same-side
// wait steps forced after a fill.
func New(initialCash, sellFeeRate decimal.Decimal, cooldownSteps int) *Ledger {
	return &Ledger{
		initialCash:   initialCash,
		cash:          initialCash,
		sellFeeRate:   sellFeeRate,
		cooldownSteps: cooldownSteps,
	}
}

// Cash returns available cash.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// InitialCash returns the starting capital.
func (l *Ledger) InitialCash() decimal.Decimal { return l.initialCash }

// Shares returns the number of shares currently held.
func (l *Ledger) Shares() int64 { return l.shares }

// Events returns the chronological trade event log.
func (l *Ledger) Events() []types.TradeEvent { return l.events }

// GateAction applies the cooldown counters to a proposed action and
// returns the action that may actually execute. Each counter blocks
// only its own side and is decremented once per step while positive.
func (l *Ledger) GateAction(action types.Action) types.Action {
	if l.cooldownBuy > 0 {
		l.cooldownBuy--
		if action == types.ActionBuy {
			action = types.ActionWait
		}
	}
	if l.cooldownSell > 0 {
		l.cooldownSell--
		if action == types.ActionSell {
			action = types.ActionWait
		}
	}
	return action
}

// ExecuteBuy buys as many whole shares as sizing allows at price,
// appends the lot and the event, and starts the buy cooldown. It
// reports false when cash*sizing does not cover a single share.
func (l *Ledger) ExecuteBuy(date time.Time, price, sizing decimal.Decimal) (types.TradeEvent, bool) {
	budget := l.cash.Mul(sizing)
	if !budget.GreaterThan(price) {
		return types.TradeEvent{}, false
	}

	qty := budget.Div(price).Floor().IntPart()
	if qty <= 0 {
		return types.TradeEvent{}, false
	}

	l.cash = l.cash.Sub(price.Mul(decimal.NewFromInt(qty)))
	l.shares += qty
	l.lots = append(l.lots, price)
	l.cooldownBuy = l.cooldownSteps

	ev := types.TradeEvent{
		Side:   types.SideBuy,
		Date:   date,
		Price:  price,
		Shares: qty,
	}
	l.events = append(l.events, ev)
	return ev, true
}

// ExecuteSell liquidates the whole position at price (partial sells are
// not supported), credits cash net of the sell fee, records the
// fee-inclusive realized return against the average cost of the open
// lots, clears the lots and starts the sell cooldown. It reports false
// when no shares are held.
func (l *Ledger) ExecuteSell(date time.Time, price decimal.Decimal) (types.TradeEvent, bool) {
	if l.shares <= 0 {
		return types.TradeEvent{}, false
	}

	avgCost := l.averageCost()
	netPrice := price.Mul(decimal.NewFromInt(1).Sub(l.sellFeeRate))
	qty := l.shares

	l.cash = l.cash.Add(netPrice.Mul(decimal.NewFromInt(qty)))
	realized := netPrice.Div(avgCost).Sub(decimal.NewFromInt(1))

	l.shares = 0
	l.lots = l.lots[:0]
	l.cooldownSell = l.cooldownSteps

	ev := types.TradeEvent{
		Side:           types.SideSell,
		Date:           date,
		Price:          price,
		Shares:         qty,
		RealizedReturn: realized,
		CashAfter:      l.cash,
	}
	l.events = append(l.events, ev)
	return ev, true
}

// TotalAsset marks the position to lastPrice and returns cash plus
// position value.
func (l *Ledger) TotalAsset(lastPrice decimal.Decimal) decimal.Decimal {
	return l.cash.Add(lastPrice.Mul(decimal.NewFromInt(l.shares)))
}

// averageCost is the mean purchase price of the lots open since the
// last full liquidation. Only called while shares are held, so lots is
// non-empty.
func (l *Ledger) averageCost() decimal.Decimal {
	sum := decimal.Zero
	for _, lot := range l.lots {
		sum = sum.Add(lot)
	}
	return sum.Div(decimal.NewFromInt(int64(len(l.lots))))
}
