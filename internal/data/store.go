// Package data provides historical market data access for the
// simulation engine.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finetize/trading-sim/pkg/types"
)

// ErrDataUnavailable means the upstream series is missing or empty for
// the requested symbol. The engine does not retry; retry policy, if
// any, belongs to whoever populates the store.
var ErrDataUnavailable = errors.New("market data unavailable")

// UniverseFilter narrows the investable universe for a sweep.
type UniverseFilter struct {
	Exchanges    []string `json:"exchanges"`
	MinMarketCap float64  `json:"minMarketCap"` // billions
}

// UniverseEntry describes one listed instrument.
type UniverseEntry struct {
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	MarketCapBn float64 `json:"marketCapBn"`
}

// Store serves daily bars from JSON files under a data directory, with
// an explicitly constructed in-memory cache. The cache is owned by the
// store, refreshed on demand or when an entry goes stale; nothing is
// initialized as an import-time side effect.
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	ttl     time.Duration
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	bars      []types.Bar
	fetchedAt time.Time
}

// NewStore creates a store over dataDir. ttl bounds how long a cached
// series is served before it is re-read from disk; zero disables
// expiry.
func NewStore(logger *zap.Logger, dataDir string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{
		logger:  logger,
		dataDir: dataDir,
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
	}, nil
}

// DailyBars returns the most recent lookbackDays daily bars for symbol,
// oldest first. lookbackDays <= 0 returns the full series.
func (s *Store) DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]types.Bar, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bars, err := s.seriesFor(symbol)
	if err != nil {
		return nil, err
	}
	if lookbackDays > 0 && len(bars) > lookbackDays {
		bars = bars[len(bars)-lookbackDays:]
	}
	// Callers may share the slice across runs; hand out a copy.
	out := make([]types.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (s *Store) seriesFor(symbol string) ([]types.Bar, error) {
	s.mu.RLock()
	entry, ok := s.cache[symbol]
	s.mu.RUnlock()
	if ok && (s.ttl == 0 || time.Since(entry.fetchedAt) < s.ttl) {
		return entry.bars, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the write lock; another goroutine may have
	// refreshed the entry.
	if entry, ok := s.cache[symbol]; ok && (s.ttl == 0 || time.Since(entry.fetchedAt) < s.ttl) {
		return entry.bars, nil
	}
	return s.loadLocked(symbol)
}

func (s *Store) loadLocked(symbol string) ([]types.Bar, error) {
	raw, err := os.ReadFile(s.barsPath(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no series for %s", ErrDataUnavailable, symbol)
		}
		return nil, fmt.Errorf("read series for %s: %w", symbol, err)
	}

	var bars []types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("parse series for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: empty series for %s", ErrDataUnavailable, symbol)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	s.cache[symbol] = cacheEntry{bars: bars, fetchedAt: time.Now()}
	s.logger.Debug("series loaded", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	return bars, nil
}

// SaveBars writes a series to disk and replaces the cached entry.
func (s *Store) SaveBars(symbol string, bars []types.Bar) error {
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	raw, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal series for %s: %w", symbol, err)
	}
	if err := os.WriteFile(s.barsPath(symbol), raw, 0o644); err != nil {
		return fmt.Errorf("write series for %s: %w", symbol, err)
	}

	s.mu.Lock()
	s.cache[symbol] = cacheEntry{bars: sorted, fetchedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

// Refresh drops the cached entry for symbol so the next read hits disk.
func (s *Store) Refresh(symbol string) {
	s.mu.Lock()
	delete(s.cache, symbol)
	s.mu.Unlock()
}

// ClearCache drops every cached series.
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
}

// Universe returns the symbols matching filter from the universe file.
func (s *Store) Universe(ctx context.Context, filter UniverseFilter) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	raw, err := os.ReadFile(filepath.Join(s.dataDir, "universe.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no universe file", ErrDataUnavailable)
		}
		return nil, fmt.Errorf("read universe: %w", err)
	}

	var entries []UniverseEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse universe: %w", err)
	}

	wanted := make(map[string]bool, len(filter.Exchanges))
	for _, ex := range filter.Exchanges {
		wanted[strings.ToUpper(ex)] = true
	}

	var symbols []string
	for _, e := range entries {
		if len(wanted) > 0 && !wanted[strings.ToUpper(e.Exchange)] {
			continue
		}
		if e.MarketCapBn < filter.MinMarketCap {
			continue
		}
		symbols = append(symbols, e.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Symbols lists every symbol with a series file on disk.
func (s *Store) Symbols() []string {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil
	}
	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if name == "universe.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(symbols)
	return symbols
}

func (s *Store) barsPath(symbol string) string {
	return filepath.Join(s.dataDir, symbol+".json")
}
