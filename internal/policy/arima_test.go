package policy

import (
	"math"
	"math/rand"
	"testing"
)

func TestForecastNextRecoversAR1(t *testing.T) {
	// Exact AR(1) with phi = 0.8 and no noise; the least-squares fit is
	// exact and the forecast is phi times the last value.
	series := make([]float64, 60)
	series[0] = 1
	for i := 1; i < len(series); i++ {
		series[i] = 0.8 * series[i-1]
	}

	forecast, err := forecastNext(series, 1, 0, 0)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}

	want := 0.8 * series[len(series)-1]
	if math.Abs(forecast-want) > 1e-9 {
		t.Errorf("expected forecast %g, got %g", want, forecast)
	}
}

func TestForecastNextIntegratesDifferencing(t *testing.T) {
	// A pure linear trend differences to a constant; an intercept-only
	// fit on the differenced scale continues the trend.
	series := make([]float64, 60)
	for i := range series {
		series[i] = 5 + 2*float64(i)
	}

	forecast, err := forecastNext(series, 0, 1, 0)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}

	want := series[len(series)-1] + 2
	if math.Abs(forecast-want) > 1e-6 {
		t.Errorf("expected forecast %g, got %g", want, forecast)
	}
}

func TestForecastNextShortSeries(t *testing.T) {
	series := []float64{0.01, -0.02, 0.03}
	if _, err := forecastNext(series, 1, 0, 1); err == nil {
		t.Error("expected fit failure on a short series")
	}
}

func TestForecastNextNegativeOrder(t *testing.T) {
	series := make([]float64, 60)
	if _, err := forecastNext(series, -1, 0, 0); err == nil {
		t.Error("expected rejection of a negative order")
	}
}

func TestForecastNextARMA(t *testing.T) {
	// A simulated ARMA(1,1) series; the two-stage fit must produce a
	// finite forecast without erroring.
	rng := rand.New(rand.NewSource(7))
	series := make([]float64, 200)
	prevNoise := 0.0
	for i := 1; i < len(series); i++ {
		noise := rng.NormFloat64() * 0.01
		series[i] = 0.5*series[i-1] + noise + 0.3*prevNoise
		prevNoise = noise
	}

	forecast, err := forecastNext(series, 1, 0, 1)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	if math.IsNaN(forecast) || math.IsInf(forecast, 0) {
		t.Errorf("forecast must be finite, got %g", forecast)
	}
}
