package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/unikron/relayer/pkg/config"
	"github.com/unikron/relayer/pkg/ledger"
	"github.com/unikron/relayer/pkg/logger"
	"github.com/unikron/relayer/pkg/quotes"
	"github.com/unikron/relayer/pkg/relayer"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quoteProvider := quotes.New(cfg.QuoteAPIEndpoint, appLogger)

	var settleLedger ledger.Ledger
	switch cfg.Ledger.Mode {
	case config.LedgerModeEVM:
		evm := ledger.NewEVMLedger(cfg.Ledger.RPCURL, cfg.Ledger.GasMultiplier, appLogger)
		if err := evm.Connect(ctx, cfg.Ledger.PrivateKey); err != nil {
			log.Fatalf("Failed to connect settlement ledger: %v", err)
		}
		settleLedger = evm
	default:
		settleLedger = ledger.NewMemoryLedger()
	}

	// Create the relayer service
	service, err := relayer.NewService(cfg, quoteProvider, settleLedger, appLogger)
	if err != nil {
		log.Fatalf("Failed to create relayer service: %v", err)
	}

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// Start the service
	appLogger.Info("Starting the relayer service...")
	service.Start(ctx)
}
