// Package simulator provides the event-driven trading simulation engine
// and its performance analysis routine.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finetize/trading-sim/internal/data"
	"github.com/finetize/trading-sim/internal/ledger"
	"github.com/finetize/trading-sim/internal/policy"
	"github.com/finetize/trading-sim/pkg/types"
)

// BarSource supplies the daily price series a run replays. Implemented
// by data.Store and repository.Database.
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]types.Bar, error)
}

// Engine replays a daily price series through a decision policy,
// mutating a ledger under the trading constraints, and derives the
// summary statistics from the resulting event log.
type Engine struct {
	logger *zap.Logger
	source BarSource
}

// NewEngine creates an engine reading bars from source.
func NewEngine(logger *zap.Logger, source BarSource) *Engine {
	return &Engine{logger: logger, source: source}
}

// Run fetches the price series for symbol and simulates it under cfg.
func (e *Engine) Run(ctx context.Context, cfg *types.SimulationConfig, symbol string) (*types.SimulationResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bars, err := e.source.DailyBars(ctx, symbol, cfg.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}
	return e.RunSeries(ctx, cfg, symbol, bars)
}

// RunSeries simulates an already-fetched price series. The series is
// treated as read-only and may be shared across concurrent runs.
func (e *Engine) RunSeries(ctx context.Context, cfg *types.SimulationConfig, symbol string, bars []types.Bar) (*types.SimulationResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := data.ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("price series for %s: %w", symbol, err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	pol, err := policy.New(cfg, rng)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	led := ledger.New(cfg.InitialCash, cfg.SellFeeRate, cfg.CooldownSteps)

	// One step per return observation; the first bar only anchors the
	// first return.
	history := make([]float64, 0, len(bars))
	for i := 1; i < len(bars); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		prevClose, _ := bars[i-1].Close.Float64()
		curClose, _ := bars[i].Close.Float64()
		r := curClose/prevClose - 1

		// The policy sees the history accumulated before today; the
		// cooldown counters gate its proposal and tick down.
		action := led.GateAction(pol.Decide(history))
		history = append(history, r)

		price := bars[i].Close
		switch action {
		case types.ActionSell:
			if ev, ok := led.ExecuteSell(bars[i].Date, price); ok {
				e.logger.Debug("sell fill",
					zap.String("symbol", symbol),
					zap.Time("date", ev.Date),
					zap.String("price", ev.Price.String()),
					zap.Int64("shares", ev.Shares),
					zap.String("realized", ev.RealizedReturn.String()),
				)
			}
		case types.ActionBuy:
			if ev, ok := led.ExecuteBuy(bars[i].Date, price, cfg.PositionSizing); ok {
				e.logger.Debug("buy fill",
					zap.String("symbol", symbol),
					zap.Time("date", ev.Date),
					zap.String("price", ev.Price.String()),
					zap.Int64("shares", ev.Shares),
				)
			}
		}
	}

	lastClose := bars[len(bars)-1].Close
	totalAsset := led.TotalAsset(lastClose)
	stats := Analyze(led.Events(), cfg.InitialCash, totalAsset)

	firstClose, _ := bars[0].Close.Float64()
	last, _ := lastClose.Float64()

	result := &types.SimulationResult{
		ID:            uuid.New().String(),
		Symbol:        symbol,
		Policy:        cfg.Kind,
		Events:        led.Events(),
		FinalCash:     led.Cash(),
		FinalShares:   led.Shares(),
		TotalAsset:    totalAsset,
		Stats:         stats,
		BuyHoldReturn: last/firstClose - 1,
		Days:          len(bars) - 1,
		StartedAt:     started,
		CompletedAt:   time.Now(),
	}

	e.logger.Info("simulation completed",
		zap.String("symbol", symbol),
		zap.String("policy", string(cfg.Kind)),
		zap.Int("days", result.Days),
		zap.Int("trades", len(result.Events)),
		zap.Float64("return", stats.Return),
		zap.Float64("buyHold", result.BuyHoldReturn),
	)
	return result, nil
}
