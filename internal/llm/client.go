// Package llm is the gateway to an OpenAI-compatible model endpoint. Every
// call is single-flighted, cached, bounded by token/wall-clock/repetition
// caps, retried with exponential backoff, and schema-validated before the
// result is released to a caller.
package llm

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/journal-graph-kernel/internal/errkind"
	"github.com/journal-graph-kernel/internal/jsonx"
)

// Generator is the contract extraction stages program against.
type Generator interface {
	// Generate runs prompt+system through the model and decodes the JSON
	// answer into out. When out carries validation tags they are enforced;
	// responses that fail decoding or validation never reach the caller.
	Generate(ctx context.Context, req *GenerateRequest, out interface{}) error
	// Embed returns the embedding vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns embeddings for texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateRequest describes one structured generation call.
type GenerateRequest struct {
	System     string
	Prompt     string
	SchemaName string
	// MaxTokens overrides the client default when positive.
	MaxTokens int
	// Temperature defaults to 0 for extraction determinism.
	Temperature float64
	// NoCache bypasses the response cache for this call.
	NoCache bool
}

// Config holds the gateway configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string

	// MaxTokens is the hard streamed-token cap.
	MaxTokens int
	// WallClock is the hard per-call duration cap.
	WallClock time.Duration
	// MaxRetries is the per-call retry budget.
	MaxRetries int
	// BackoffCap bounds the exponential backoff interval.
	BackoffCap time.Duration
	// MaxConcurrent bounds in-flight provider requests; excess callers queue.
	MaxConcurrent int64

	CacheMaxCost int64
	CacheTTL     time.Duration
	// CacheDisabled turns the response cache off entirely.
	CacheDisabled bool
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxTokens:     8192,
		WallClock:     30 * time.Minute,
		MaxRetries:    3,
		BackoffCap:    30 * time.Second,
		MaxConcurrent: 8,
		CacheTTL:      24 * time.Hour,
	}
}

// Client implements Generator over an OpenAI-compatible HTTP API.
type Client struct {
	cfg      *Config
	http     *http.Client
	cache    *responseCache
	flight   singleflight.Group
	sem      *semaphore.Weighted
	breaker  *gobreaker.CircuitBreaker
	validate *validator.Validate
	logger   *zap.Logger
}

// NewClient creates the gateway. redisClient may be nil; the cache then runs
// L1-only.
func NewClient(cfg *Config, redisClient *redis.Client, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, errkind.Newf(errkind.Config, "llm.new", "base URL is required")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.WallClock == 0 {
		cfg.WallClock = 30 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 8
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		validate: validator.New(),
		logger:   logger.Named("llm"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	if !cfg.CacheDisabled {
		cache, err := newResponseCache(cfg.CacheMaxCost, cfg.CacheTTL, redisClient, logger)
		if err != nil {
			return nil, errkind.New(errkind.Config, "llm.new", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Close releases the response cache.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// Generate implements Generator. Concurrent identical calls share one
// provider request; the cached value is the validated JSON payload.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest, out interface{}) error {
	key := c.cacheKey(req)

	data, err, _ := c.flight.Do(key, func() (interface{}, error) {
		if c.cache != nil && !req.NoCache {
			if cached, found := c.cache.Get(ctx, key); found {
				return cached, nil
			}
		}
		payload, err := c.generateWithRetries(ctx, req, out)
		if err != nil {
			return nil, err
		}
		if c.cache != nil && !req.NoCache {
			c.cache.Set(ctx, key, payload)
		}
		return payload, nil
	})
	if err != nil {
		return err
	}

	payload := data.([]byte)
	if err := jsonx.Unmarshal(payload, out); err != nil {
		return errkind.New(errkind.Schema, "llm.generate", err)
	}
	return nil
}

// generateWithRetries runs the attempt loop: up to MaxRetries retryable
// failures, exponential backoff capped at BackoffCap. It returns the
// validated JSON payload.
func (c *Client) generateWithRetries(ctx context.Context, req *GenerateRequest, out interface{}) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.cfg.BackoffCap
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)

	var payload []byte
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			retriesTotal.Inc()
		}
		p, err := c.attempt(ctx, req, out)
		if err != nil {
			kind := errkind.KindOf(err)
			if !kind.Retryable() {
				return backoff.Permanent(err)
			}
			c.logger.Warn("generation attempt failed",
				zap.String("schema", req.SchemaName),
				zap.Int("attempt", attempt),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return err
		}
		payload = p
		return nil
	}, policy)
	if err != nil {
		generateTotal.WithLabelValues("exhausted").Inc()
		return nil, errkind.Newf(errkind.KindOf(err), "llm.generate",
			"exhausted after %d attempts: %v", attempt, err)
	}
	generateTotal.WithLabelValues("ok").Inc()
	return payload, nil
}

// attempt makes one provider call: stream, cap, extract JSON, validate.
func (c *Client) attempt(ctx context.Context, req *GenerateRequest, out interface{}) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, errkind.New(errkind.Cancelled, "llm.generate", err)
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.WallClock)
	defer cancel()

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.stream(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errkind.New(errkind.Transport, "llm.generate", err)
		}
		return nil, err
	}

	content := raw.(string)
	if strings.TrimSpace(content) == "" {
		return nil, errkind.Newf(errkind.Schema, "llm.generate", "empty response")
	}

	payload, err := extractJSON(content)
	if err != nil {
		return nil, errkind.New(errkind.Schema, "llm.generate", err)
	}
	if err := c.checkSchema(payload, out); err != nil {
		return nil, err
	}
	return payload, nil
}

// checkSchema decodes payload into a fresh value of out's type and runs
// validation tags. The fresh value keeps attempt-loop retries from seeing a
// half-populated out.
func (c *Client) checkSchema(payload []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	t := reflect.TypeOf(out)
	if t.Kind() != reflect.Ptr {
		return errkind.Newf(errkind.Schema, "llm.generate", "out must be a pointer, got %T", out)
	}
	probe := reflect.New(t.Elem()).Interface()
	if err := jsonx.Unmarshal(payload, probe); err != nil {
		return errkind.New(errkind.Schema, "llm.generate", err)
	}
	return c.validateValue(probe)
}

func (c *Client) validateValue(v interface{}) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		if err := c.validate.Struct(rv.Interface()); err != nil {
			return errkind.New(errkind.Schema, "llm.generate", err)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			el := rv.Index(i)
			for el.Kind() == reflect.Ptr {
				if el.IsNil() {
					break
				}
				el = el.Elem()
			}
			if el.Kind() == reflect.Struct {
				if err := c.validate.Struct(el.Interface()); err != nil {
					return errkind.New(errkind.Schema, "llm.generate", err)
				}
			}
		}
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// stream runs the provider call and consumes the SSE body, enforcing the
// token cap and the repetition detector on the fly.
func (c *Client) stream(ctx context.Context, req *GenerateRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > c.cfg.MaxTokens {
		maxTokens = c.cfg.MaxTokens
	}
	body, err := jsonx.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return "", errkind.New(errkind.Schema, "llm.stream", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", errkind.New(errkind.Transport, "llm.stream", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errkind.Newf(errkind.Budget, "llm.stream", "wall-clock cap hit")
		}
		return "", errkind.New(errkind.Transport, "llm.stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", errkind.Newf(errkind.Transport, "llm.stream",
			"status %d: %s", resp.StatusCode, string(msg))
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	detector := newRepetitionDetector()
	chunks := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk streamChunk
		if err := jsonx.UnmarshalFromString(data, &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		buf.WriteString(delta)
		chunks++
		if chunks > maxTokens {
			return "", errkind.Newf(errkind.Budget, "llm.stream",
				"token cap %d hit", maxTokens)
		}
		if detector.Write(delta) {
			generateTotal.WithLabelValues("repetition").Inc()
			return "", errkind.Newf(errkind.Budget, "llm.stream",
				"repetition detected after %d chunks", chunks)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errkind.Newf(errkind.Budget, "llm.stream", "wall-clock cap hit")
		}
		return "", errkind.New(errkind.Transport, "llm.stream", err)
	}
	return buf.String(), nil
}

// cacheKey hashes every input that shapes the response.
func (c *Client) cacheKey(req *GenerateRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\x00%g",
		c.cfg.Model, req.Prompt, req.System, req.SchemaName, req.MaxTokens, req.Temperature)
	return "llm:" + hex.EncodeToString(h.Sum(nil))
}

// extractJSON pulls the first complete JSON object or array out of model
// prose. Models occasionally wrap their answer in markdown fences or chatter.
func extractJSON(content string) ([]byte, error) {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON in response")
	}
	closer := byte('}')
	if content[start] == '[' {
		closer = ']'
	}
	text := content[start:]
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] != closer {
			continue
		}
		candidate := []byte(text[:i+1])
		if jsonx.Valid(candidate) {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("unbalanced JSON in response")
}
