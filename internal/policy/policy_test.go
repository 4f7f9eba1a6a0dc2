package policy_test

import (
	"math/rand"
	"testing"

	"github.com/finetize/trading-sim/internal/policy"
	"github.com/finetize/trading-sim/pkg/types"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	cases := []struct {
		name string
		cfg  *types.SimulationConfig
	}{
		{"empty kind", &types.SimulationConfig{}},
		{"unknown kind", types.DefaultSimulationConfig("martingale")},
		{"momentum without lookback", func() *types.SimulationConfig {
			cfg := types.DefaultSimulationConfig(types.PolicyMomentum)
			cfg.Lookback = 0
			return cfg
		}()},
		{"negative order", func() *types.SimulationConfig {
			cfg := types.DefaultSimulationConfig(types.PolicyAutoregressive)
			cfg.Order = [3]int{-1, 0, 1}
			return cfg
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := policy.New(tc.cfg, rng); err == nil {
				t.Error("expected config rejection")
			}
		})
	}
}

func TestNewRandomRequiresRandomSource(t *testing.T) {
	cfg := types.DefaultSimulationConfig(types.PolicyRandom)
	if _, err := policy.New(cfg, nil); err == nil {
		t.Error("random policy without a source should be rejected")
	}
}

func TestRandomIsReproducible(t *testing.T) {
	cfg := types.DefaultSimulationConfig(types.PolicyRandom)

	a, err := policy.New(cfg, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	b, err := policy.New(cfg, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	for i := 0; i < 100; i++ {
		if got, want := a.Decide(nil), b.Decide(nil); got != want {
			t.Fatalf("step %d: equal seeds diverged: %s vs %s", i, got, want)
		}
	}
}

func TestMomentumWaitsUntilLookbackFilled(t *testing.T) {
	p := &policy.Momentum{Lookback: 3}

	if got := p.Decide(nil); got != types.ActionWait {
		t.Errorf("empty history: expected wait, got %s", got)
	}
	if got := p.Decide([]float64{0.1, 0.2}); got != types.ActionWait {
		t.Errorf("short history: expected wait, got %s", got)
	}
}

func TestMomentumDecision(t *testing.T) {
	p := &policy.Momentum{Lookback: 2}

	cases := []struct {
		name    string
		history []float64
		want    types.Action
	}{
		{"positive mean", []float64{-0.5, 0.02, 0.03}, types.ActionBuy},
		{"negative mean", []float64{0.5, -0.02, -0.03}, types.ActionSell},
		{"exactly zero mean", []float64{0.01, -0.01}, types.ActionSell},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Decide(tc.history); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestMeanReversionNeedsLookbackPlusOne(t *testing.T) {
	p := &policy.MeanReversion{Lookback: 3}

	if got := p.Decide([]float64{0.1, 0.2, 0.3}); got != types.ActionWait {
		t.Errorf("history of lookback length: expected wait, got %s", got)
	}
}

func TestMeanReversionDecision(t *testing.T) {
	p := &policy.MeanReversion{Lookback: 2}

	// Preceding average 0.02, latest -0.05: underperformance, buy.
	if got := p.Decide([]float64{0.01, 0.03, -0.05}); got != types.ActionBuy {
		t.Errorf("latest below preceding average: expected buy, got %s", got)
	}
	// Preceding average 0.02, latest 0.05: ran ahead, sell.
	if got := p.Decide([]float64{0.01, 0.03, 0.05}); got != types.ActionSell {
		t.Errorf("latest above preceding average: expected sell, got %s", got)
	}
	// Equal reads as sell: the reversion edge requires strict underperformance.
	if got := p.Decide([]float64{0.02, 0.02, 0.02}); got != types.ActionSell {
		t.Errorf("latest equal to preceding average: expected sell, got %s", got)
	}
}

func TestAutoregressiveWaitsOnShortHistory(t *testing.T) {
	p := &policy.Autoregressive{P: 1, D: 0, Q: 1}

	history := make([]float64, 30)
	if got := p.Decide(history); got != types.ActionWait {
		t.Errorf("30 observations: expected wait, got %s", got)
	}
}

func TestAutoregressiveFlatHistoryWaits(t *testing.T) {
	p := &policy.Autoregressive{P: 1, D: 0, Q: 1}

	// A flat series forecasts zero (or fails to fit); either way no edge.
	history := make([]float64, 60)
	if got := p.Decide(history); got != types.ActionWait {
		t.Errorf("flat history: expected wait, got %s", got)
	}
}
