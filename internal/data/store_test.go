package data_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finetize/trading-sim/internal/data"
	"github.com/finetize/trading-sim/pkg/types"
)

func makeBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		price := decimal.NewFromInt(int64(100 + i))
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

func TestStoreSaveAndLoad(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	bars := makeBars(10)
	if err := store.SaveBars("VNM", bars); err != nil {
		t.Fatalf("save bars: %v", err)
	}

	got, err := store.DailyBars(context.Background(), "VNM", 0)
	if err != nil {
		t.Fatalf("daily bars: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 bars, got %d", len(got))
	}
	if !got[0].Close.Equal(bars[0].Close) || !got[9].Close.Equal(bars[9].Close) {
		t.Error("series round trip lost values")
	}
}

func TestStoreTailsLookbackWindow(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.SaveBars("VNM", makeBars(10)); err != nil {
		t.Fatalf("save bars: %v", err)
	}

	got, err := store.DailyBars(context.Background(), "VNM", 3)
	if err != nil {
		t.Fatalf("daily bars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	// The tail of the series, still oldest first.
	if !got[0].Close.Equal(decimal.NewFromInt(107)) || !got[2].Close.Equal(decimal.NewFromInt(109)) {
		t.Errorf("expected closes 107..109, got %s..%s", got[0].Close, got[2].Close)
	}
}

func TestStoreSortsUnorderedFile(t *testing.T) {
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	bars := makeBars(5)
	shuffled := []types.Bar{bars[3], bars[0], bars[4], bars[1], bars[2]}
	if err := store.SaveBars("VNM", shuffled); err != nil {
		t.Fatalf("save bars: %v", err)
	}

	got, err := store.DailyBars(context.Background(), "VNM", 0)
	if err != nil {
		t.Fatalf("daily bars: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Date.Before(got[i].Date) {
			t.Fatal("series not sorted by date")
		}
	}
}

func TestStoreMissingSymbol(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := store.DailyBars(context.Background(), "NOPE", 0); !errors.Is(err, data.ErrDataUnavailable) {
		t.Errorf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestStoreRefreshRereadsDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.SaveBars("VNM", makeBars(5)); err != nil {
		t.Fatalf("save bars: %v", err)
	}

	// Replace the file behind the cache's back.
	other, err := data.NewStore(zap.NewNop(), dir, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := other.SaveBars("VNM", makeBars(8)); err != nil {
		t.Fatalf("save bars: %v", err)
	}

	got, _ := store.DailyBars(context.Background(), "VNM", 0)
	if len(got) != 5 {
		t.Fatalf("cached read should still see 5 bars, got %d", len(got))
	}

	store.Refresh("VNM")
	got, err = store.DailyBars(context.Background(), "VNM", 0)
	if err != nil {
		t.Fatalf("daily bars: %v", err)
	}
	if len(got) != 8 {
		t.Errorf("refresh should reload from disk, got %d bars", len(got))
	}
}

func TestStoreSymbols(t *testing.T) {
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.SaveBars("VNM", makeBars(2))
	store.SaveBars("FPT", makeBars(2))

	// The universe file is not a series.
	os.WriteFile(filepath.Join(dir, "universe.json"), []byte("[]"), 0o644)

	got := store.Symbols()
	want := []string{"FPT", "VNM"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestStoreUniverseFilter(t *testing.T) {
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	universe := `[
		{"symbol": "VNM", "exchange": "HOSE", "marketCapBn": 150},
		{"symbol": "FPT", "exchange": "HOSE", "marketCapBn": 90},
		{"symbol": "SHS", "exchange": "HNX", "marketCapBn": 10}
	]`
	if err := os.WriteFile(filepath.Join(dir, "universe.json"), []byte(universe), 0o644); err != nil {
		t.Fatalf("write universe: %v", err)
	}

	got, err := store.Universe(context.Background(), data.UniverseFilter{
		Exchanges:    []string{"hose"},
		MinMarketCap: 100,
	})
	if err != nil {
		t.Fatalf("universe: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"VNM"}) {
		t.Errorf("expected [VNM], got %v", got)
	}

	all, err := store.Universe(context.Background(), data.UniverseFilter{})
	if err != nil {
		t.Fatalf("universe: %v", err)
	}
	if !reflect.DeepEqual(all, []string{"FPT", "SHS", "VNM"}) {
		t.Errorf("expected full sorted universe, got %v", all)
	}
}

func TestStoreUniverseMissingFile(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := store.Universe(context.Background(), data.UniverseFilter{}); !errors.Is(err, data.ErrDataUnavailable) {
		t.Errorf("expected ErrDataUnavailable, got %v", err)
	}
}
