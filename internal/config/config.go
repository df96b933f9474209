// Package config loads runtime configuration from the environment and
// assembles the per-component configs. Required settings fail fast with a
// Config-kind error; optional ones fall back to sensible defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/journal-graph-kernel/internal/errkind"
	"github.com/journal-graph-kernel/internal/graph"
	"github.com/journal-graph-kernel/internal/llm"
	"github.com/journal-graph-kernel/internal/pipeline"
)

// Config is the full runtime configuration of a worker process.
type Config struct {
	Graph    *graph.Config
	LLM      *llm.Config
	Pipeline *pipeline.Config

	// CurationDBPath is the SQLite file backing curation and checkpoints.
	CurationDBPath string
	// VaultPath is the markdown vault root. Empty disables vault features.
	VaultPath string
	// EntityIndexPath is the on-disk name index. Empty keeps it in memory.
	EntityIndexPath string

	// NATSURL is the queue broker address.
	NATSURL string
	// QueueSubject is the journal-submission subject.
	QueueSubject string

	// RedisAddr enables the shared L2 response cache when set.
	RedisAddr string

	// Addr is the HTTP listen address.
	Addr string
}

// Load reads the environment into a Config. It returns a Config-kind error
// naming the first missing required variable.
func Load() (*Config, error) {
	graphURI, err := requireEnv("GRAPH_URI")
	if err != nil {
		return nil, err
	}
	llmBaseURL, err := requireEnv("LLM_BASE_URL")
	if err != nil {
		return nil, err
	}
	llmModel, err := requireEnv("LLM_MODEL")
	if err != nil {
		return nil, err
	}

	gcfg := &graph.Config{
		URI:      graphURI,
		User:     getEnv("GRAPH_USER", "neo4j"),
		Password: os.Getenv("GRAPH_PASSWORD"),
		Database: getEnv("GRAPH_DATABASE", "neo4j"),
	}

	lcfg := llm.DefaultConfig()
	lcfg.BaseURL = llmBaseURL
	lcfg.APIKey = os.Getenv("LLM_API_KEY")
	lcfg.Model = llmModel
	lcfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", llmModel)

	pcfg := pipeline.DefaultConfig()
	pcfg.PollInterval = getDuration("CURATION_POLL_INTERVAL", pcfg.PollInterval)
	pcfg.WaitDeadline = getDuration("CURATION_WAIT_DEADLINE", pcfg.WaitDeadline)
	pcfg.MaxConcurrent = getInt64("MAX_CONCURRENT_WORKFLOWS", pcfg.MaxConcurrent)

	return &Config{
		Graph:           gcfg,
		LLM:             lcfg,
		Pipeline:        pcfg,
		CurationDBPath:  getEnv("CURATION_DB_PATH", "curation.db"),
		VaultPath:       os.Getenv("VAULT_PATH"),
		EntityIndexPath: os.Getenv("ENTITY_INDEX_PATH"),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		QueueSubject:    getEnv("WORKFLOW_QUEUE_NAME", "journals.submitted"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		Addr:            ":" + getEnv("PORT", "9000"),
	}, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", errkind.Newf(errkind.Config, "config.load", "%s is required", key)
	}
	return val, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}
