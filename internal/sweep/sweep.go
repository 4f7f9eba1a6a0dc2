// Package sweep evaluates a decision policy across a whole market
// universe, one independent simulation per symbol.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finetize/trading-sim/internal/simulator"
	"github.com/finetize/trading-sim/internal/workers"
	"github.com/finetize/trading-sim/pkg/types"
)

// Progress is invoked after each symbol finishes, with the number of
// symbols done so far and the total. Callbacks may arrive from worker
// goroutines concurrently with one another.
type Progress func(done, total int, outcome types.SymbolOutcome)

// Runner fans a policy out over a symbol universe.
type Runner struct {
	logger *zap.Logger
	engine *simulator.Engine
	config types.SweepConfig
}

// NewRunner creates a sweep runner backed by the given engine.
func NewRunner(logger *zap.Logger, engine *simulator.Engine, config types.SweepConfig) *Runner {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	return &Runner{
		logger: logger,
		engine: engine,
		config: config,
	}
}

// Run simulates cfg against every symbol and returns the collected
// outcomes. A symbol whose simulation fails is recorded as a failed
// outcome rather than aborting the sweep. Run returns an error only
// when ctx is cancelled before all symbols complete.
func (r *Runner) Run(ctx context.Context, cfg types.SimulationConfig, symbols []string, progress Progress) (*types.SweepResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	result := &types.SweepResult{
		ID:        uuid.New().String(),
		Policy:    cfg.Kind,
		Lookback:  cfg.Lookback,
		Outcomes:  make(map[string]types.SymbolOutcome, len(symbols)),
		StartedAt: time.Now(),
	}

	r.logger.Info("starting market sweep",
		zap.String("sweep_id", result.ID),
		zap.String("policy", string(cfg.Kind)),
		zap.Int("symbols", len(symbols)),
		zap.Int("workers", r.config.Workers),
	)

	pool := workers.NewPool(r.logger, &workers.PoolConfig{
		Name:            "sweep",
		NumWorkers:      r.config.Workers,
		QueueSize:       len(symbols) + 1,
		TaskTimeout:     r.config.SymbolTimeout,
		ShutdownTimeout: 30 * time.Second,
	})
	pool.Start()
	defer pool.Stop()

	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)

	for _, symbol := range symbols {
		symbol := symbol
		wg.Add(1)
		err := pool.SubmitFunc(func(taskCtx context.Context) error {
			defer wg.Done()

			outcome := r.evaluate(taskCtx, cfg, symbol)

			mu.Lock()
			result.Outcomes[symbol] = outcome
			done++
			current := done
			mu.Unlock()

			if progress != nil {
				progress(current, len(symbols), outcome)
			}
			return nil
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			result.Outcomes[symbol] = types.SymbolOutcome{
				Symbol: symbol,
				Failed: true,
				Reason: err.Error(),
			}
			done++
			mu.Unlock()
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result.Wins, result.Losses = Split(result.Outcomes)
	result.Evaluated = len(result.Outcomes)
	for _, o := range result.Outcomes {
		if o.Failed {
			result.Failures++
		}
	}
	result.CompletedAt = time.Now()

	r.logger.Info("market sweep complete",
		zap.String("sweep_id", result.ID),
		zap.Int("evaluated", result.Evaluated),
		zap.Int("wins", len(result.Wins)),
		zap.Int("losses", len(result.Losses)),
		zap.Int("failures", result.Failures),
		zap.Duration("elapsed", result.CompletedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func (r *Runner) evaluate(ctx context.Context, cfg types.SimulationConfig, symbol string) types.SymbolOutcome {
	res, err := r.engine.Run(ctx, &cfg, symbol)
	if err != nil {
		r.logger.Debug("symbol simulation failed",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return types.SymbolOutcome{
			Symbol: symbol,
			Failed: true,
			Reason: err.Error(),
		}
	}
	return types.SymbolOutcome{
		Symbol: symbol,
		Return: res.Stats.Return,
	}
}

// Split partitions outcomes into winners and losers by simulated
// return. A return of exactly zero counts as a loss. Failed symbols
// appear in neither map.
func Split(outcomes map[string]types.SymbolOutcome) (wins, losses map[string]float64) {
	wins = make(map[string]float64)
	losses = make(map[string]float64)
	for _, o := range outcomes {
		if o.Failed {
			continue
		}
		if o.Return > 0 {
			wins[o.Symbol] = o.Return
		} else {
			losses[o.Symbol] = o.Return
		}
	}
	return wins, losses
}
