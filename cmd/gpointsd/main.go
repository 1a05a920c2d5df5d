package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"greenledger/config"
	"greenledger/core/state"
	"greenledger/native/rewards"
	"greenledger/native/token"
	"greenledger/observability/logging"
	"greenledger/rpc"
	"greenledger/storage"
)

const envVar = "GREENLEDGER_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memdb := flag.Bool("memdb", false, "DEV ONLY: keep all state in memory instead of LevelDB")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))
	logger := logging.Setup("gpointsd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "path", *configFile, "err", err)
		os.Exit(1)
	}

	var db storage.Database
	if *memdb {
		logger.Warn("running with in-memory state; all data is lost on exit")
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			logger.Error("failed to open database", "dataDir", cfg.DataDir, "err", err)
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	manager := state.NewManager(db)
	if !manager.TokenExists(cfg.PointsToken) {
		if err := manager.RegisterToken(cfg.PointsToken, "GreenPoints", 0); err != nil {
			logger.Error("failed to register points token", "symbol", cfg.PointsToken, "err", err)
			os.Exit(1)
		}
		logger.Info("registered points token", "symbol", cfg.PointsToken)
	}

	ledger := token.NewLedger(manager)
	engine := rewards.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)

	server := rpc.NewServer(engine, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	logger.Info("gpointsd started", "network", cfg.NetworkName, "rpc", cfg.RPCAddress)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("rpc server failed", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
