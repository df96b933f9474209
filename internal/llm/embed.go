package llm

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/journal-graph-kernel/internal/errkind"
	"github.com/journal-graph-kernel/internal/jsonx"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Generator.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Generator. Vectors come back in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, errkind.New(errkind.Cancelled, "llm.embed", err)
	}
	defer c.sem.Release(1)
	embedTotal.Inc()

	body, err := jsonx.Marshal(embeddingRequest{
		Model: c.cfg.EmbeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, errkind.New(errkind.Schema, "llm.embed", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, errkind.New(errkind.Transport, "llm.embed", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "llm.embed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "llm.embed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Newf(errkind.Transport, "llm.embed",
			"status %d: %s", resp.StatusCode, errkind.Truncate(string(raw)))
	}

	var parsed embeddingResponse
	if err := jsonx.Unmarshal(raw, &parsed); err != nil {
		return nil, errkind.New(errkind.Schema, "llm.embed", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, errkind.Newf(errkind.Schema, "llm.embed",
			"got %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, errkind.Newf(errkind.Schema, "llm.embed", "vector index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
