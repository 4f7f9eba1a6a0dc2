package data

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finetize/trading-sim/pkg/types"
)

// ValidateBars fails fast on a series the engine must not replay:
// empty input, out-of-order or duplicate timestamps, or non-positive
// prices. These are data-quality failures raised to the caller, never
// silently coerced.
func ValidateBars(bars []types.Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty series", ErrDataUnavailable)
	}

	for i, bar := range bars {
		if bar.Open.LessThanOrEqual(decimal.Zero) || bar.High.LessThanOrEqual(decimal.Zero) ||
			bar.Low.LessThanOrEqual(decimal.Zero) || bar.Close.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("non-positive price at %s", bar.Date.Format("2006-01-02"))
		}
		if i == 0 {
			continue
		}
		prev := bars[i-1]
		if bar.Date.Equal(prev.Date) {
			return fmt.Errorf("duplicate timestamp %s", bar.Date.Format("2006-01-02"))
		}
		if bar.Date.Before(prev.Date) {
			return fmt.Errorf("timestamps out of order at %s", bar.Date.Format("2006-01-02"))
		}
	}
	return nil
}
