// Curate CLI: lists a journal's curation items and records decisions
// directly against the curation store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/curation"
	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/jsonx"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "list":
		runList(logger, os.Args[2:])
	case "decide":
		runDecide(logger, os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  curate list   -db <path> -journal <uuid>
  curate decide -db <path> -journal <uuid> -item <id> -action approve|reject|edit [-payload <file>]`)
	os.Exit(2)
}

func runList(logger *zap.Logger, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", getEnv("CURATION_DB_PATH", "curation.db"), "curation database")
	journalID := fs.String("journal", "", "journal uuid (required)")
	fs.Parse(args)
	if *journalID == "" {
		usage()
	}

	store := openStore(logger, *dbPath)
	defer store.Close()

	items, err := store.Items(context.Background(), *journalID)
	if err != nil {
		logger.Fatal("listing items failed", zap.Error(err))
	}
	for _, item := range items {
		fmt.Printf("%-36s  %-8s  %-16s  %-8s\n", item.ID, item.Phase, item.Kind, item.Status)
		if len(item.Payload) > 0 {
			fmt.Printf("    %s\n", item.Payload)
		}
	}
	fmt.Printf("%d items\n", len(items))
}

func runDecide(logger *zap.Logger, args []string) {
	fs := flag.NewFlagSet("decide", flag.ExitOnError)
	dbPath := fs.String("db", getEnv("CURATION_DB_PATH", "curation.db"), "curation database")
	journalID := fs.String("journal", "", "journal uuid (required)")
	itemID := fs.String("item", "", "item id (required)")
	action := fs.String("action", "", "approve, reject, or edit (required)")
	payloadFile := fs.String("payload", "", "edited payload file (required for edit)")
	fs.Parse(args)
	if *journalID == "" || *itemID == "" || *action == "" {
		usage()
	}

	var decision domain.Decision
	switch *action {
	case "approve":
		decision = domain.DecisionApprove
	case "reject":
		decision = domain.DecisionReject
	case "edit":
		decision = domain.DecisionEdit
	default:
		usage()
	}

	var payload jsonx.RawMessage
	if decision == domain.DecisionEdit {
		if *payloadFile == "" {
			logger.Fatal("edit requires -payload")
		}
		raw, err := os.ReadFile(*payloadFile)
		if err != nil {
			logger.Fatal("reading payload failed", zap.Error(err))
		}
		if !jsonx.Valid(raw) {
			logger.Fatal("payload is not valid JSON")
		}
		payload = raw
	}

	store := openStore(logger, *dbPath)
	defer store.Close()

	if err := store.Decide(context.Background(), *journalID, *itemID, decision, payload); err != nil {
		logger.Fatal("decision failed", zap.Error(err))
	}
	logger.Info("decision recorded",
		zap.String("item", *itemID),
		zap.String("action", *action))
}

func openStore(logger *zap.Logger, path string) *curation.Store {
	store, err := curation.Open(path, logger)
	if err != nil {
		logger.Fatal("opening curation store failed", zap.Error(err))
	}
	return store
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
