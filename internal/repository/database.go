// Package repository backs the simulator with a Postgres price store.
// It satisfies the same bar-source contract as the on-disk data store,
// so the engine does not care which one it reads from.
package repository

import (
	"context"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finetize/trading-sim/internal/data"
	"github.com/finetize/trading-sim/pkg/types"
)

// Database holds the connection pool. All prices are stored as numeric
// and scanned straight into decimals via the registered codec.
type Database struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
}

// NewDatabase connects to dbURL and verifies connectivity.
func NewDatabase(ctx context.Context, logger *zap.Logger, dbURL string) (*Database, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	logger.Info("connected to price database")
	return &Database{logger: logger, pool: pool}, nil
}

// dailyBarsQuery builds the bar query; lookbackDays <= 0 means the
// full series, matching the file-backed store.
func dailyBarsQuery(symbol string, lookbackDays int) (string, []any) {
	query := `
		SELECT trade_date, open, high, low, close
		FROM daily_bars
		WHERE symbol = $1
		ORDER BY trade_date DESC`
	args := []any{symbol}
	if lookbackDays > 0 {
		query += `
		LIMIT $2`
		args = append(args, lookbackDays)
	}
	return query, args
}

// DailyBars returns the most recent lookbackDays daily bars for symbol
// in ascending date order. lookbackDays <= 0 returns the full series.
func (db *Database) DailyBars(ctx context.Context, symbol string, lookbackDays int) ([]types.Bar, error) {
	query, args := dailyBarsQuery(symbol, lookbackDays)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []types.Bar
	for rows.Next() {
		var b types.Bar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close); err != nil {
			return nil, fmt.Errorf("scan bar for %s: %w", symbol, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, data.ErrDataUnavailable)
	}

	// Newest-first from the query; the engine wants oldest-first.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// Universe lists the symbols matching filter.
func (db *Database) Universe(ctx context.Context, filter data.UniverseFilter) ([]data.UniverseEntry, error) {
	query := `
		SELECT symbol, exchange, market_cap_bn
		FROM universe
		WHERE market_cap_bn >= $1`
	args := []any{filter.MinMarketCap}
	if len(filter.Exchanges) > 0 {
		query += ` AND exchange = ANY($2)`
		args = append(args, filter.Exchanges)
	}
	query += ` ORDER BY symbol`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query universe: %w", err)
	}
	defer rows.Close()

	var entries []data.UniverseEntry
	for rows.Next() {
		var e data.UniverseEntry
		if err := rows.Scan(&e.Symbol, &e.Exchange, &e.MarketCapBn); err != nil {
			return nil, fmt.Errorf("scan universe entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveBars upserts a symbol's daily bars.
func (db *Database) SaveBars(ctx context.Context, symbol string, bars []types.Bar) error {
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`
			INSERT INTO daily_bars (symbol, trade_date, open, high, low, close)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (symbol, trade_date) DO UPDATE
			SET open = EXCLUDED.open, high = EXCLUDED.high,
			    low = EXCLUDED.low, close = EXCLUDED.close`,
			symbol, b.Date, b.Open, b.High, b.Low, b.Close)
	}
	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range bars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert bars for %s: %w", symbol, err)
		}
	}
	return nil
}

// Close releases the pool.
func (db *Database) Close() {
	db.pool.Close()
}
