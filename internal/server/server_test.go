package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/jsonx"
)

type fakeSource struct {
	statuses map[string]*domain.WorkflowStatus
}

func (f *fakeSource) Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error) {
	if s, ok := f.statuses[workflowID]; ok {
		return s, nil
	}
	return nil, errors.New("workflow not found")
}

func serve(t *testing.T, source *fakeSource, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := New(":0", source, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusFound(t *testing.T) {
	source := &fakeSource{statuses: map[string]*domain.WorkflowStatus{
		"journal:abc": {
			WorkflowID: "journal:abc",
			Stage:      domain.StageWaitEntityCuration,
		},
	}}
	rec := serve(t, source, http.MethodGet, "/v1/journals/abc/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status domain.WorkflowStatus
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "journal:abc", status.WorkflowID)
	assert.Equal(t, domain.StageWaitEntityCuration, status.Stage)
}

func TestStatusNotFound(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodGet, "/v1/journals/missing/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusRejectsNonGet(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodPost, "/v1/journals/abc/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsExposed(t *testing.T) {
	rec := serve(t, &fakeSource{}, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}
