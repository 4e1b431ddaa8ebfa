package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"matrixfund/cmd"
	"matrixfund/config"
	"matrixfund/database"
	"matrixfund/domain/entities"
	"matrixfund/repository"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Check for migration subcommands
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := handleMigrationCommand(); err != nil {
			log.Fatal("Migration error: ", err)
		}
		return
	}

	// Check for the wallet funding subcommand
	if len(os.Args) > 1 && os.Args[1] == "fund" {
		if err := handleFundCommand(); err != nil {
			log.Fatal("Fund error: ", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	if err := cmd.Run(ctx); err != nil {
		log.Fatal("Application error: ", err)
	}
}

func handleMigrationCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: matrixfund migrate [up|down|status] [args...]")
	}

	databaseURL := config.Get().GetDatabaseURL()
	command := os.Args[2]
	switch command {
	case "up":
		return database.MigrateUp(databaseURL)
	case "down":
		steps := "1"
		if len(os.Args) > 3 {
			steps = os.Args[3]
		}
		return database.MigrateDown(databaseURL, steps)
	case "status":
		return database.MigrateStatus(databaseURL)
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
}

// handleFundCommand credits a wallet in the token vault, standing in for an external deposit
func handleFundCommand() error {
	if len(os.Args) < 4 {
		return fmt.Errorf("usage: matrixfund fund <address> <amount>")
	}
	holder := entities.NewUserID(os.Args[2])
	if holder.IsZero() {
		return fmt.Errorf("address is required")
	}
	amount, err := strconv.ParseInt(os.Args[3], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("amount must be a positive integer, got %q", os.Args[3])
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, config.Get().GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	var balance int64
	err = db.WithLedgerTransaction(ctx, func(tx pgx.Tx) error {
		vault := repository.NewTokenVaultRepositoryScoped(tx)
		if err := vault.Fund(ctx, holder, amount); err != nil {
			return err
		}
		current, err := vault.BalanceOf(ctx, holder)
		if err != nil {
			return err
		}
		balance = current
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"address": holder,
		"amount":  amount,
		"balance": balance,
	}).Info("Wallet funded")
	return nil
}
