package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/tallyhq/tally/internal/bankfeed"
	bankStore "github.com/tallyhq/tally/internal/bankfeed/store"
	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/database"
	tallyHttp "github.com/tallyhq/tally/internal/http"
	ledgerHandler "github.com/tallyhq/tally/internal/http/ledger"
	matchingHandler "github.com/tallyhq/tally/internal/http/matching"
	statementHandler "github.com/tallyhq/tally/internal/http/statement"
	transferHandler "github.com/tallyhq/tally/internal/http/transfer"
	"github.com/tallyhq/tally/internal/ledger"
	ledgerStore "github.com/tallyhq/tally/internal/ledger/store"
	"github.com/tallyhq/tally/internal/matching"
	matchingStore "github.com/tallyhq/tally/internal/matching/store"
	"github.com/tallyhq/tally/internal/transfer"
	transferStore "github.com/tallyhq/tally/internal/transfer/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.ConnectionString())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	matchingCfg, err := cfg.MatchingConfig()
	if err != nil {
		slog.Error("invalid matching config", "error", err)
		os.Exit(1)
	}

	transferCfg, err := cfg.TransferConfig()
	if err != nil {
		slog.Error("invalid transfer config", "error", err)
		os.Exit(1)
	}

	var (
		ledgerService = ledger.NewService(ledgerStore.New(db))
		bankService   = bankfeed.NewService(bankStore.New(db))
	)

	matchingService, err := matching.NewService(matchingStore.New(db), ledgerService, bankService, matchingCfg)
	if err != nil {
		slog.Error("failed to build matching service", "error", err)
		os.Exit(1)
	}

	transferService, err := transfer.NewService(transferStore.New(db), ledgerService, bankService, transferCfg)
	if err != nil {
		slog.Error("failed to build transfer service", "error", err)
		os.Exit(1)
	}

	var (
		ledgerH    = ledgerHandler.NewHandler(ledgerService)
		statementH = statementHandler.NewHandler(bankService)
		matchingH  = matchingHandler.NewHandler(matchingService)
		transferH  = transferHandler.NewHandler(transferService)
	)

	router := tallyHttp.New(ledgerH, statementH, matchingH, transferH,
		[]byte(cfg.Auth.JWTSecret), cfg.Auth.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	slog.Info("starting server", "app", cfg.App.Name, "addr", server.Addr)

	if err := server.ListenAndServe(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
