// Package policy provides the decision policies that drive a simulation:
// pure functions from accumulated return history to buy/sell/wait.
package policy

import (
	"fmt"
	"math/rand"

	"github.com/finetize/trading-sim/pkg/types"
)

// Policy maps the return history observed so far to an action. Decide is
// called once per trading day with the history accumulated before that
// day's return; implementations must not retain or mutate the slice.
type Policy interface {
	Kind() types.PolicyKind
	Decide(history []float64) types.Action
}

// New builds the policy named by the config. The random source is
// threaded in explicitly so runs are reproducible under a fixed seed;
// it is required for the Random policy and ignored by the rest.
func New(cfg *types.SimulationConfig, rng *rand.Rand) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case types.PolicyRandom:
		if rng == nil {
			return nil, fmt.Errorf("%w: random policy requires a random source", types.ErrInvalidConfig)
		}
		return &Random{rng: rng}, nil
	case types.PolicyMomentum:
		return &Momentum{Lookback: cfg.Lookback}, nil
	case types.PolicyMeanReversion:
		return &MeanReversion{Lookback: cfg.Lookback}, nil
	case types.PolicyAutoregressive:
		return &Autoregressive{P: cfg.Order[0], D: cfg.Order[1], Q: cfg.Order[2]}, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy kind %q", types.ErrInvalidConfig, cfg.Kind)
	}
}

// Random samples uniformly from buy/sell/wait on every call.
type Random struct {
	rng *rand.Rand
}

func (p *Random) Kind() types.PolicyKind { return types.PolicyRandom }

func (p *Random) Decide(history []float64) types.Action {
	switch p.rng.Intn(3) {
	case 0:
		return types.ActionBuy
	case 1:
		return types.ActionSell
	default:
		return types.ActionWait
	}
}

// Momentum buys when the mean of the last Lookback returns is strictly
// positive and sells otherwise. A mean of exactly zero is not positive.
type Momentum struct {
	Lookback int
}

func (p *Momentum) Kind() types.PolicyKind { return types.PolicyMomentum }

func (p *Momentum) Decide(history []float64) types.Action {
	if len(history) < p.Lookback {
		return types.ActionWait
	}
	if mean(history[len(history)-p.Lookback:]) > 0 {
		return types.ActionBuy
	}
	return types.ActionSell
}

// MeanReversion compares the latest return against the average of the
// Lookback returns immediately preceding it: a latest return below that
// average reads as underperformance and an expected reversion upward.
type MeanReversion struct {
	Lookback int
}

func (p *MeanReversion) Kind() types.PolicyKind { return types.PolicyMeanReversion }

func (p *MeanReversion) Decide(history []float64) types.Action {
	if len(history) < p.Lookback+1 {
		return types.ActionWait
	}
	latest := history[len(history)-1]
	avg := mean(history[len(history)-1-p.Lookback : len(history)-1])
	if avg > latest {
		return types.ActionBuy
	}
	return types.ActionSell
}

// Autoregressive refits an ARIMA(p,d,q) model on the full history each
// step and trades on the one-step forecast. Refitting dominates the run
// cost; a fit that fails to converge recovers to wait.
type Autoregressive struct {
	P, D, Q int
}

// minObservations is the shortest history the model will fit on.
const minObservations = 31

// forecastThreshold is the band around zero inside which the forecast
// is not acted on.
const forecastThreshold = 0.002

func (p *Autoregressive) Kind() types.PolicyKind { return types.PolicyAutoregressive }

func (p *Autoregressive) Decide(history []float64) types.Action {
	if len(history) < minObservations {
		return types.ActionWait
	}
	forecast, err := forecastNext(history, p.P, p.D, p.Q)
	if err != nil {
		// Non-convergence is recovered locally, never surfaced.
		return types.ActionWait
	}
	if forecast > forecastThreshold {
		return types.ActionBuy
	}
	if forecast < -forecastThreshold {
		return types.ActionSell
	}
	return types.ActionWait
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
