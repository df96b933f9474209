package errkind

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, Schema, KindOf(New(Schema, "llm.generate", errors.New("bad json"))))
	assert.Equal(t, Cancelled, KindOf(context.Canceled))
	assert.Equal(t, DeadlineExceeded, KindOf(context.DeadlineExceeded))
	// Unknown errors default to the conservative retryable class.
	assert.Equal(t, Transport, KindOf(errors.New("connection reset")))
}

func TestKindOfWrapped(t *testing.T) {
	inner := New(Consistency, "graph.relation", errors.New("endpoint mismatch"))
	wrapped := fmt.Errorf("stage failed: %w", inner)
	assert.Equal(t, Consistency, KindOf(wrapped))
}

func TestRetryableAndTerminal(t *testing.T) {
	for _, k := range []Kind{Transport, Schema, Budget} {
		assert.True(t, k.Retryable(), string(k))
		assert.False(t, k.Terminal(), string(k))
	}
	for _, k := range []Kind{Consistency, DeadlineExceeded, Cancelled} {
		assert.False(t, k.Retryable(), string(k))
		assert.True(t, k.Terminal(), string(k))
	}
	assert.False(t, Config.Retryable())
	assert.False(t, Config.Terminal())
}

func TestErrorMessage(t *testing.T) {
	err := Newf(Budget, "llm.generate", "token cap %d exceeded", 8192)
	assert.Equal(t, "llm.generate: token cap 8192 exceeded", err.Error())
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 2*maxMessageLen)
	got := Truncate(long)
	assert.Len(t, got, maxMessageLen)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", Truncate("  short  "))
}
