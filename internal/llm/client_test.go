package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/journal-graph-kernel/internal/errkind"
)

func TestRepetitionDetectorConsecutiveRepeats(t *testing.T) {
	d := newRepetitionDetector()
	unit := "the model is stuck in a loop here. "

	looping := false
	for i := 0; i < repeatCount && !looping; i++ {
		looping = d.Write(unit)
	}
	assert.True(t, looping)
}

func TestRepetitionDetectorLowVariety(t *testing.T) {
	d := newRepetitionDetector()
	assert.True(t, d.Write(strings.Repeat("ab", uniqueRatioWindow)))
}

func TestRepetitionDetectorNormalProse(t *testing.T) {
	d := newRepetitionDetector()
	prose := []string{
		"Maria stopped by in the afternoon and we walked ",
		"through the garden, checking on the tomatoes and ",
		"arguing amiably about whether stoicism has anything ",
		"useful to say about aphids. It probably does not.",
	}
	for _, chunk := range prose {
		assert.False(t, d.Write(chunk))
	}
}

func TestExtractJSONFencedObject(t *testing.T) {
	content := "Here is the result:\n```json\n{\"name\": \"Maria\"}\n```\nHope that helps!"
	payload, err := extractJSON(content)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Maria"}`, string(payload))
}

func TestExtractJSONArray(t *testing.T) {
	payload, err := extractJSON(`The entities are: [{"a":1},{"a":2}] as requested.`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a":1},{"a":2}]`, string(payload))
}

func TestExtractJSONNested(t *testing.T) {
	// Trailing prose containing the closer must not confuse extraction.
	payload, err := extractJSON(`{"outer":{"inner":[1,2]}} and that closes things}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"outer":{"inner":[1,2]}}`, string(payload))
}

func TestExtractJSONErrors(t *testing.T) {
	_, err := extractJSON("no structured data here")
	require.Error(t, err)

	_, err = extractJSON(`{"never": "closed"`)
	require.Error(t, err)
}

func TestCacheKeyStability(t *testing.T) {
	c := &Client{cfg: &Config{Model: "m1"}}
	req := &GenerateRequest{System: "sys", Prompt: "p", SchemaName: "s", MaxTokens: 100}

	assert.Equal(t, c.cacheKey(req), c.cacheKey(req))

	other := *req
	other.Prompt = "q"
	assert.NotEqual(t, c.cacheKey(req), c.cacheKey(&other))

	warm := *req
	warm.Temperature = 0.7
	assert.NotEqual(t, c.cacheKey(req), c.cacheKey(&warm))

	c2 := &Client{cfg: &Config{Model: "m2"}}
	assert.NotEqual(t, c.cacheKey(req), c2.cacheKey(req))
}

// sseHandler streams chunks the way an OpenAI-compatible endpoint does.
func sseHandler(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		BaseURL:       baseURL,
		Model:         "test-model",
		MaxRetries:    1,
		CacheDisabled: true,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

type extraction struct {
	Name string `json:"name" validate:"required"`
}

func TestGenerateDecodesStreamedJSON(t *testing.T) {
	srv := httptest.NewServer(sseHandler(`Sure: {"name":`, ` "Maria"}`))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out extraction
	err := c.Generate(context.Background(), &GenerateRequest{Prompt: "p", SchemaName: "extraction"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Maria", out.Name)
}

func TestGenerateRejectsInvalidSchema(t *testing.T) {
	srv := httptest.NewServer(sseHandler(`{"unexpected": 1}`))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out extraction
	err := c.Generate(context.Background(), &GenerateRequest{Prompt: "p"}, &out)
	require.Error(t, err)
	assert.Equal(t, errkind.Schema, errkind.KindOf(err))
}

func TestGenerateRetriesTransportFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		sseHandler(`{"name": "Maria"}`)(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out extraction
	err := c.Generate(context.Background(), &GenerateRequest{Prompt: "p"}, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateTokenCap(t *testing.T) {
	srv := httptest.NewServer(sseHandler("{", `"name"`, ":", `"x"`, "}"))
	defer srv.Close()

	c, err := NewClient(&Config{
		BaseURL:       srv.URL,
		Model:         "test-model",
		MaxTokens:     2,
		MaxRetries:    1,
		CacheDisabled: true,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	var out extraction
	err = c.Generate(context.Background(), &GenerateRequest{Prompt: "p"}, &out)
	require.Error(t, err)
	assert.Equal(t, errkind.Budget, errkind.KindOf(err))
}

func TestGenerateEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(sseHandler())
	defer srv.Close()

	c := testClient(t, srv.URL)
	var out extraction
	err := c.Generate(context.Background(), &GenerateRequest{Prompt: "p"}, &out)
	require.Error(t, err)
	assert.Equal(t, errkind.Schema, errkind.KindOf(err))
}

func TestEmbedBatchOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deliberately out of order.
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0.2]},{"index":0,"embedding":[0.1]}]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1}, vecs[0])
	assert.Equal(t, []float32{0.2}, vecs[1])
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.1]}]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, errkind.Schema, errkind.KindOf(err))
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	c := testClient(t, "http://localhost:0")
	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}
