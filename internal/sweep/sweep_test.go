package sweep_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finetize/trading-sim/internal/data"
	"github.com/finetize/trading-sim/internal/simulator"
	"github.com/finetize/trading-sim/internal/sweep"
	"github.com/finetize/trading-sim/pkg/types"
)

type fakeSource struct {
	bars map[string][]types.Bar
}

func (f *fakeSource) DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]types.Bar, error) {
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, data.ErrDataUnavailable
	}
	return bars, nil
}

func barsFromCloses(closes ...float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = types.Bar{
			Date:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		}
	}
	return bars
}

func testConfig() types.SimulationConfig {
	cfg := types.DefaultSimulationConfig(types.PolicyMomentum)
	cfg.Lookback = 1
	cfg.InitialCash = decimal.NewFromInt(1000)
	return *cfg
}

func TestRunnerSweep(t *testing.T) {
	source := &fakeSource{bars: map[string][]types.Bar{
		// Buys the dip, sells the rebound: a winner.
		"WIN": barsFromCloses(10, 11, 9, 12),
		// Buys the dip, sells into a further drop: a loser.
		"LOSS": barsFromCloses(10, 11, 9, 8),
		// Only sell signals against a flat book: zero return.
		"FLAT": barsFromCloses(10, 9, 8, 7),
		// ERR has no data at all.
	}}
	engine := simulator.NewEngine(zap.NewNop(), source)
	runner := sweep.NewRunner(zap.NewNop(), engine, types.SweepConfig{Workers: 2})

	var mu sync.Mutex
	var calls int
	progress := func(done, total int, outcome types.SymbolOutcome) {
		mu.Lock()
		calls++
		mu.Unlock()
		if total != 4 {
			t.Errorf("expected total 4, got %d", total)
		}
	}

	result, err := runner.Run(context.Background(), testConfig(), []string{"WIN", "LOSS", "FLAT", "ERR"}, progress)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if result.Evaluated != 4 {
		t.Errorf("expected 4 evaluated, got %d", result.Evaluated)
	}
	if result.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", result.Failures)
	}
	if calls != 4 {
		t.Errorf("expected 4 progress callbacks, got %d", calls)
	}

	if ret, ok := result.Wins["WIN"]; !ok || math.Abs(ret-0.328338) > 1e-9 {
		t.Errorf("expected WIN in wins with return 0.328338, got %v (present=%t)", ret, ok)
	}
	if _, ok := result.Losses["LOSS"]; !ok {
		t.Error("expected LOSS in losses")
	}

	// A zero return is not a win.
	if ret, ok := result.Losses["FLAT"]; !ok || ret != 0 {
		t.Errorf("expected FLAT in losses with zero return, got %v (present=%t)", ret, ok)
	}
	if _, ok := result.Wins["FLAT"]; ok {
		t.Error("zero return must not count as a win")
	}

	// Failed symbols land in neither bucket, tagged with the reason.
	if _, ok := result.Wins["ERR"]; ok {
		t.Error("failed symbol must not be a win")
	}
	if _, ok := result.Losses["ERR"]; ok {
		t.Error("failed symbol must not be a loss")
	}
	outcome, ok := result.Outcomes["ERR"]
	if !ok || !outcome.Failed || outcome.Reason == "" {
		t.Errorf("expected tagged failure for ERR, got %+v", outcome)
	}

	if result.ID == "" {
		t.Error("sweep must carry a run id")
	}
	if result.CompletedAt.Before(result.StartedAt) {
		t.Error("completion must not precede start")
	}
}

func TestRunnerRejectsInvalidConfig(t *testing.T) {
	engine := simulator.NewEngine(zap.NewNop(), &fakeSource{})
	runner := sweep.NewRunner(zap.NewNop(), engine, types.SweepConfig{Workers: 1})

	cfg := testConfig()
	cfg.Lookback = 0
	if _, err := runner.Run(context.Background(), cfg, []string{"VNM"}, nil); err == nil {
		t.Error("expected config rejection")
	}
}

func TestSplit(t *testing.T) {
	outcomes := map[string]types.SymbolOutcome{
		"A": {Symbol: "A", Return: 0.05},
		"B": {Symbol: "B", Return: -0.02},
		"C": {Symbol: "C", Return: 0},
		"D": {Symbol: "D", Failed: true, Reason: "no data"},
	}

	wins, losses := sweep.Split(outcomes)

	if len(wins) != 1 || wins["A"] != 0.05 {
		t.Errorf("expected wins {A: 0.05}, got %v", wins)
	}
	if len(losses) != 2 {
		t.Errorf("expected 2 losses, got %v", losses)
	}
	if _, ok := losses["C"]; !ok {
		t.Error("zero return must split into losses")
	}
	if _, ok := losses["D"]; ok {
		t.Error("failed symbol must not split into losses")
	}
}
