// Package optimize searches a policy's lookback window for the period
// that maximizes simulated return on a single symbol.
package optimize

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/finetize/trading-sim/internal/simulator"
	"github.com/finetize/trading-sim/pkg/types"
)

// MaxLookback is the largest lookback period the optimizer tries.
const MaxLookback = 30

// ErrNoResults indicates every candidate period failed to simulate.
var ErrNoResults = errors.New("no lookback period produced a result")

// Optimizer runs one simulation per candidate lookback period. Bars
// are fetched once and shared read-only across runs.
type Optimizer struct {
	logger   *zap.Logger
	engine   *simulator.Engine
	source   simulator.BarSource
	parallel int
}

// NewOptimizer creates an optimizer. parallel bounds the number of
// concurrent simulations; values below one fall back to a serial scan.
func NewOptimizer(logger *zap.Logger, engine *simulator.Engine, source simulator.BarSource, parallel int) *Optimizer {
	if parallel < 1 {
		parallel = 1
	}
	return &Optimizer{
		logger:   logger,
		engine:   engine,
		source:   source,
		parallel: parallel,
	}
}

// Run scans lookback periods 1 through MaxLookback and returns the
// per-period returns along with the best period. Ties resolve to the
// lowest period. Periods whose simulation fails are omitted from the
// result; Run fails only when the symbol's data cannot be fetched or
// every period fails.
func (o *Optimizer) Run(ctx context.Context, cfg types.SimulationConfig, symbol string) (*types.OptimizeResult, error) {
	bars, err := o.source.DailyBars(ctx, symbol, cfg.LookbackDays)
	if err != nil {
		return nil, err
	}

	type scan struct {
		period int
		ret    float64
		err    error
	}

	results := make([]scan, 0, MaxLookback)
	var mu sync.Mutex

	sem := make(chan struct{}, o.parallel)
	var wg sync.WaitGroup
	for period := 1; period <= MaxLookback; period++ {
		period := period
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			runCfg := cfg
			runCfg.Lookback = period
			res, err := o.engine.RunSeries(ctx, &runCfg, symbol, bars)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results = append(results, scan{period: period, err: err})
				return
			}
			results = append(results, scan{period: period, ret: res.Stats.Return})
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &types.OptimizeResult{
		Symbol:          symbol,
		Policy:          cfg.Kind,
		ReturnsByPeriod: make(map[int]float64, len(results)),
	}

	var lastErr error
	best := false
	for period := 1; period <= MaxLookback; period++ {
		var s *scan
		for i := range results {
			if results[i].period == period {
				s = &results[i]
				break
			}
		}
		if s == nil {
			continue
		}
		if s.err != nil {
			lastErr = s.err
			o.logger.Debug("lookback period failed",
				zap.String("symbol", symbol),
				zap.Int("period", period),
				zap.Error(s.err),
			)
			continue
		}
		out.ReturnsByPeriod[period] = s.ret
		if !best || s.ret > out.BestReturn {
			out.BestLookback = period
			out.BestReturn = s.ret
			best = true
		}
	}

	if len(out.ReturnsByPeriod) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrNoResults
	}

	o.logger.Info("lookback optimization complete",
		zap.String("symbol", symbol),
		zap.String("policy", string(cfg.Kind)),
		zap.Int("best_period", out.BestLookback),
		zap.Float64("best_return", out.BestReturn),
	)
	return out, nil
}
