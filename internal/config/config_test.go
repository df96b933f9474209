package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journal-graph-kernel/internal/errkind"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GRAPH_URI", "bolt://localhost:7687")
	t.Setenv("LLM_BASE_URL", "http://localhost:8080/v1")
	t.Setenv("LLM_MODEL", "test-model")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bolt://localhost:7687", cfg.Graph.URI)
	assert.Equal(t, "neo4j", cfg.Graph.User)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	// Embedding model falls back to the chat model.
	assert.Equal(t, "test-model", cfg.LLM.EmbeddingModel)
	assert.Equal(t, "curation.db", cfg.CurationDBPath)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "journals.submitted", cfg.QueueSubject)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.PollInterval)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("EMBEDDING_MODEL", "embed-model")
	t.Setenv("CURATION_POLL_INTERVAL", "5s")
	t.Setenv("CURATION_WAIT_DEADLINE", "48h")
	t.Setenv("MAX_CONCURRENT_WORKFLOWS", "4")
	t.Setenv("PORT", "8081")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "embed-model", cfg.LLM.EmbeddingModel)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, 48*time.Hour, cfg.Pipeline.WaitDeadline)
	assert.Equal(t, int64(4), cfg.Pipeline.MaxConcurrent)
	assert.Equal(t, ":8081", cfg.Addr)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("GRAPH_URI", "")
	t.Setenv("LLM_BASE_URL", "http://localhost:8080/v1")
	t.Setenv("LLM_MODEL", "test-model")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errkind.Config, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "GRAPH_URI")
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("CURATION_POLL_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.PollInterval)
}
