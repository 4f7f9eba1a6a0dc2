// Package types provides configuration types for the simulation backend.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig marks a configuration rejected before a run starts.
// Missing required parameters are never silently defaulted.
var ErrInvalidConfig = errors.New("invalid simulation config")

// SimulationConfig is the immutable configuration of one simulation run.
type SimulationConfig struct {
	Kind PolicyKind `json:"kind"`

	// Lookback is the number of recent returns the policy consults.
	// Required for Momentum and MeanReversion.
	Lookback int `json:"lookback,omitempty"`

	// Order is the (p,d,q) order of the autoregressive model.
	// Required for Autoregressive.
	Order [3]int `json:"order,omitempty"`

	// PositionSizing caps the fraction of available cash deployed in a
	// single buy. Must be in (0, 1].
	PositionSizing decimal.Decimal `json:"positionSizing"`

	InitialCash  decimal.Decimal `json:"initialCash"`
	LookbackDays int             `json:"lookbackDays"`

	// SellFeeRate is the combined tax plus fee haircut applied to sell
	// proceeds. The buy side applies no fee.
	SellFeeRate decimal.Decimal `json:"sellFeeRate"`

	// CooldownSteps is the forced number of same-side wait steps after a
	// fill.
	CooldownSteps int `json:"cooldownSteps"`

	// Seed drives the random source threaded through the run. Zero means
	// derive a seed from the clock; any other value makes the run
	// reproducible.
	Seed int64 `json:"seed,omitempty"`
}

// DefaultSimulationConfig returns the standing defaults: 0.35% sell
// haircut (0.1% tax + 0.25% fee), two-step cooldown, full sizing.
func DefaultSimulationConfig(kind PolicyKind) *SimulationConfig {
	return &SimulationConfig{
		Kind:           kind,
		Lookback:       14,
		Order:          [3]int{1, 0, 1},
		PositionSizing: decimal.NewFromInt(1),
		InitialCash:    decimal.NewFromInt(100_000_000),
		LookbackDays:   365,
		SellFeeRate:    decimal.NewFromFloat(0.0035),
		CooldownSteps:  2,
	}
}

// Validate fails fast on a config that cannot drive a simulation.
func (c *SimulationConfig) Validate() error {
	switch c.Kind {
	case PolicyRandom, PolicyAutoregressive:
	case PolicyMomentum, PolicyMeanReversion:
		if c.Lookback < 1 {
			return fmt.Errorf("%w: %s requires lookback >= 1, got %d", ErrInvalidConfig, c.Kind, c.Lookback)
		}
	case "":
		return fmt.Errorf("%w: policy kind is required", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown policy kind %q", ErrInvalidConfig, c.Kind)
	}

	if c.Kind == PolicyAutoregressive {
		for _, o := range c.Order {
			if o < 0 {
				return fmt.Errorf("%w: autoregressive order must be non-negative, got %v", ErrInvalidConfig, c.Order)
			}
		}
	}

	one := decimal.NewFromInt(1)
	if c.PositionSizing.LessThanOrEqual(decimal.Zero) || c.PositionSizing.GreaterThan(one) {
		return fmt.Errorf("%w: position sizing must be in (0,1], got %s", ErrInvalidConfig, c.PositionSizing)
	}
	if c.InitialCash.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: initial cash must be positive, got %s", ErrInvalidConfig, c.InitialCash)
	}
	if c.SellFeeRate.IsNegative() || c.SellFeeRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: sell fee rate must be in [0,1), got %s", ErrInvalidConfig, c.SellFeeRate)
	}
	if c.CooldownSteps < 0 {
		return fmt.Errorf("%w: cooldown steps must be non-negative, got %d", ErrInvalidConfig, c.CooldownSteps)
	}
	if c.LookbackDays < 0 {
		return fmt.Errorf("%w: lookback days must be non-negative, got %d", ErrInvalidConfig, c.LookbackDays)
	}
	return nil
}

// ServerConfig represents API server configuration.
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	WebSocketPath string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	EnableMetrics bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
	MetricsPort   int           `json:"metricsPort" mapstructure:"metrics_port"`
}

// SweepConfig controls a batch run across a universe.
type SweepConfig struct {
	Workers       int           `json:"workers"`
	SymbolTimeout time.Duration `json:"symbolTimeout"`
}
