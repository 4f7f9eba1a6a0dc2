// Package main provides the entry point for the trading simulation
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/finetize/trading-sim/internal/api"
	"github.com/finetize/trading-sim/internal/data"
	"github.com/finetize/trading-sim/internal/optimize"
	"github.com/finetize/trading-sim/internal/repository"
	"github.com/finetize/trading-sim/internal/simulator"
	"github.com/finetize/trading-sim/internal/sweep"
	"github.com/finetize/trading-sim/pkg/types"
)

func main() {
	configFile := flag.String("config", "", "Config file path (optional)")
	host := flag.String("host", "localhost", "Server host")
	port := flag.Int("port", 8080, "Server port")
	dataDir := flag.String("data", "./data", "Data directory")
	databaseURL := flag.String("database-url", "", "Postgres URL for the price store (optional)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	serverConfig, err := loadServerConfig(*configFile, *host, *port)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting trading simulation server",
		zap.String("host", serverConfig.Host),
		zap.Int("port", serverConfig.Port),
		zap.String("dataDir", *dataDir),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore, err := data.NewStore(logger, *dataDir, 24*time.Hour)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	dbURL := *databaseURL
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}

	var (
		db     *repository.Database
		source simulator.BarSource = dataStore
	)
	if dbURL != "" {
		db, err = repository.NewDatabase(ctx, logger, dbURL)
		if err != nil {
			logger.Fatal("Failed to connect to price database", zap.Error(err))
		}
		defer db.Close()
		source = db
	}

	engine := simulator.NewEngine(logger, source)
	runner := sweep.NewRunner(logger, engine, types.SweepConfig{
		Workers:       runtime.NumCPU(),
		SymbolTimeout: 2 * time.Minute,
	})
	optimizer := optimize.NewOptimizer(logger, engine, source, runtime.NumCPU())

	var metrics *api.Metrics
	if serverConfig.EnableMetrics {
		metrics = api.NewMetrics()
		go func() {
			if err := api.ServeMetrics(logger, serverConfig.MetricsPort); err != nil {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	server := api.NewServer(logger, serverConfig, dataStore, db, engine, runner, optimizer, metrics)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Server started successfully",
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", serverConfig.Host, serverConfig.Port, serverConfig.WebSocketPath)),
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", serverConfig.Host, serverConfig.Port)),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// loadServerConfig merges the optional config file over the built-in
// defaults. Command line host and port take effect only when the file
// does not set them.
func loadServerConfig(path, host string, port int) (*types.ServerConfig, error) {
	v := viper.New()
	v.SetDefault("host", host)
	v.SetDefault("port", port)
	v.SetDefault("websocket_path", "/ws")
	v.SetDefault("read_timeout", 30*time.Second)
	v.SetDefault("write_timeout", 30*time.Second)
	v.SetDefault("enable_metrics", true)
	v.SetDefault("metrics_port", 9090)

	v.SetEnvPrefix("TRADINGSIM")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config types.ServerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &config, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
