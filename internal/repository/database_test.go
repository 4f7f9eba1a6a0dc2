package repository

import (
	"strings"
	"testing"
)

func TestDailyBarsQueryLimitsPositiveLookback(t *testing.T) {
	query, args := dailyBarsQuery("AAPL", 30)

	if !strings.Contains(query, "LIMIT $2") {
		t.Errorf("expected LIMIT clause for positive lookback, got %q", query)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	if args[0] != "AAPL" || args[1] != 30 {
		t.Errorf("unexpected args %v", args)
	}
}

func TestDailyBarsQueryFullSeriesForZeroLookback(t *testing.T) {
	for _, lookback := range []int{0, -1} {
		query, args := dailyBarsQuery("AAPL", lookback)

		if strings.Contains(query, "LIMIT") {
			t.Errorf("lookback %d: expected full series without LIMIT, got %q", lookback, query)
		}
		if len(args) != 1 {
			t.Fatalf("lookback %d: expected 1 arg, got %d", lookback, len(args))
		}
		if args[0] != "AAPL" {
			t.Errorf("lookback %d: unexpected args %v", lookback, args)
		}
	}
}
