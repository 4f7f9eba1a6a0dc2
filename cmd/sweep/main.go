// Package main provides the command line market sweep tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/finetize/trading-sim/internal/data"
	"github.com/finetize/trading-sim/internal/repository"
	"github.com/finetize/trading-sim/internal/simulator"
	"github.com/finetize/trading-sim/internal/sweep"
	"github.com/finetize/trading-sim/pkg/types"
)

func main() {
	dataDir := flag.String("data", "./data", "Data directory")
	databaseURL := flag.String("database-url", "", "Postgres URL for the price store (optional)")
	policy := flag.String("policy", "momentum", "Decision policy (random, momentum, mean_reversion, autoregressive)")
	lookback := flag.Int("lookback", 14, "Lookback period in trading days")
	days := flag.Int("days", 365, "History window in calendar days")
	exchanges := flag.String("exchanges", "", "Comma separated exchange filter for the universe")
	minCap := flag.Float64("min-cap", 0, "Minimum market cap in billions")
	workers := flag.Int("workers", runtime.NumCPU(), "Concurrent simulations")
	seed := flag.Int64("seed", 0, "Random seed (0 derives one from the clock)")
	flag.Parse()

	logger := setupLogger()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	dbURL := *databaseURL
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}

	var source simulator.BarSource
	var symbols []string

	filter := data.UniverseFilter{MinMarketCap: *minCap}
	if *exchanges != "" {
		filter.Exchanges = strings.Split(*exchanges, ",")
	}

	if dbURL != "" {
		db, err := repository.NewDatabase(ctx, logger, dbURL)
		if err != nil {
			logger.Fatal("Failed to connect to price database", zap.Error(err))
		}
		defer db.Close()
		source = db

		entries, err := db.Universe(ctx, filter)
		if err != nil {
			logger.Fatal("Failed to load universe", zap.Error(err))
		}
		for _, e := range entries {
			symbols = append(symbols, e.Symbol)
		}
	} else {
		store, err := data.NewStore(logger, *dataDir, 24*time.Hour)
		if err != nil {
			logger.Fatal("Failed to initialize data store", zap.Error(err))
		}
		source = store

		symbols, err = store.Universe(ctx, filter)
		if err != nil {
			// No universe file; fall back to whatever bars are on disk.
			symbols = store.Symbols()
		}
	}

	if len(symbols) == 0 {
		logger.Fatal("No symbols to sweep")
	}

	cfg := types.DefaultSimulationConfig(types.PolicyKind(*policy))
	cfg.Lookback = *lookback
	cfg.LookbackDays = *days
	cfg.Seed = *seed
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	engine := simulator.NewEngine(logger, source)
	runner := sweep.NewRunner(logger, engine, types.SweepConfig{
		Workers:       *workers,
		SymbolTimeout: 2 * time.Minute,
	})

	bar := initProgressBar(len(symbols))
	progress := func(done, total int, outcome types.SymbolOutcome) {
		bar.Add(1)
	}

	result, err := runner.Run(ctx, *cfg, symbols, progress)
	if err != nil {
		logger.Fatal("Sweep failed", zap.Error(err))
	}
	bar.Finish()
	fmt.Println()

	printSplit("WINNERS", result.Wins)
	printSplit("LOSERS", result.Losses)
	fmt.Printf("\nEvaluated %d symbols: %d wins, %d losses, %d failed\n",
		result.Evaluated, len(result.Wins), len(result.Losses), result.Failures)
}

func printSplit(title string, returns map[string]float64) {
	fmt.Printf("\n%s (%d)\n", title, len(returns))

	symbols := make([]string, 0, len(returns))
	for symbol := range returns {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool {
		return returns[symbols[i]] > returns[symbols[j]]
	})

	for _, symbol := range symbols {
		fmt.Printf("  %-10s %+8.2f%%\n", symbol, returns[symbol]*100)
	}
}

func initProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("Sweeping market..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

func setupLogger() *zap.Logger {
	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapcore.WarnLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
