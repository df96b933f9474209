// Submit CLI: validates a journal markdown file and publishes it to the
// submission queue.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/journal"
	"github.com/journal-graph-kernel/internal/queue"
)

func main() {
	var (
		file      = flag.String("file", "", "journal markdown file (required)")
		journalID = flag.String("uuid", "", "journal uuid (default: random)")
		date      = flag.String("date", "", "journal date YYYY-MM-DD (default: today)")
		natsURL   = flag.String("nats", getEnv("NATS_URL", "nats://localhost:4222"), "broker address")
		subject   = flag.String("subject", getEnv("WORKFLOW_QUEUE_NAME", "journals.submitted"), "submission subject")
	)
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if *file == "" {
		logger.Fatal("missing -file")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatal("reading journal file failed", zap.Error(err))
	}

	id := *journalID
	if id == "" {
		id = uuid.NewString()
	}
	journalUUID, err := uuid.Parse(id)
	if err != nil {
		logger.Fatal("bad journal uuid", zap.String("uuid", id))
	}

	day := *date
	if day == "" {
		day = time.Now().Format("2006-01-02")
	}

	// Parse locally first so a malformed journal never reaches the queue.
	parser := journal.NewParser(logger)
	entry, err := parser.Parse(journalUUID, day, string(raw))
	if err != nil {
		logger.Fatal("journal validation failed", zap.Error(err))
	}

	q, err := queue.Connect(queue.Config{URL: *natsURL, Subject: *subject}, logger)
	if err != nil {
		logger.Fatal("queue connection failed", zap.Error(err))
	}
	defer q.Close()

	err = q.SubmitJournal(domain.SubmitInput{
		JournalUUID: journalUUID.String(),
		Date:        day,
		RawText:     string(raw),
	})
	if err != nil {
		logger.Fatal("submission failed", zap.Error(err))
	}
	logger.Info("journal submitted",
		zap.String("uuid", journalUUID.String()),
		zap.String("date", day),
		zap.Int("wiki_links", len(entry.WikiLinks)))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
