package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"gridbot/api"
	"gridbot/config"
	"gridbot/gate"
	"gridbot/grid"
	"gridbot/logger"
	"gridbot/manager"
	"gridbot/store"
	"gridbot/trader"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; real deployments pass env vars directly.
	if err := godotenv.Load(); err == nil {
		logger.Info("Loaded environment from .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Configuration error: %v", err)
	}
	logger.Init(&logger.Config{Level: cfg.LogLevel})

	st, err := openStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("Store error: %v", err)
	}
	defer st.Close()

	adapter := buildAdapter(cfg)
	g := buildGate(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := manager.New(adapter, g, st)
	for _, gridCfg := range cfg.Grids {
		fills := buildFillSource(ctx, cfg, gridCfg.Symbol)
		if err := mgr.StartEngine(ctx, gridCfg, fills); err != nil {
			logger.Errorf("Failed to start %s: %v", gridCfg.Symbol, err)
		}
	}

	server := api.NewServer(mgr, st, cfg.APIServerPort)
	if err := server.Start(); err != nil {
		logger.Fatalf("API server error: %v", err)
	}

	// Block until SIGINT/SIGTERM, then drain everything.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("Received %s, shutting down", sig)

	server.Shutdown()
	mgr.StopAll()
	cancel()
}

func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

func buildAdapter(cfg *config.Config) trader.Adapter {
	switch cfg.Exchange.Type {
	case "binance":
		logger.Infof("Using Binance spot adapter (testnet=%t)", cfg.Exchange.Testnet)
		return trader.NewBinanceAdapter(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.Testnet)
	default:
		logger.Info("Using paper trading adapter")
		return trader.NewPaperAdapter()
	}
}

func buildGate(cfg *config.Config) *gate.Gate {
	policy := gate.DefaultPolicy()
	if cfg.Gate.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Gate.MaxAttempts
	}
	if cfg.Gate.MinDelay() > 0 {
		policy.MinDelay = cfg.Gate.MinDelay()
	}
	if cfg.Gate.MaxDelay() > 0 {
		policy.MaxDelay = cfg.Gate.MaxDelay()
	}
	if cfg.Gate.CallTimeout() > 0 {
		policy.CallTimeout = cfg.Gate.CallTimeout()
	}
	return gate.New(policy, cfg.Gate.CallsPerSecond, cfg.Gate.Burst, trader.IsTransient)
}

// buildFillSource returns the websocket order feed when a stream URL is
// configured, nil otherwise (the engine then polls open orders).
func buildFillSource(ctx context.Context, cfg *config.Config, symbol string) grid.FillSource {
	if cfg.Exchange.StreamURL == "" {
		return nil
	}
	stream := trader.NewOrderStream(cfg.Exchange.StreamURL, symbol)
	stream.Start(ctx)
	return stream
}
