package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsort/internal/docsort"
)

func TestHTTPTriggerProcessProject(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"Processing started"}`))
	}))
	defer srv.Close()

	err := NewHTTPTrigger(srv.URL).Fire(context.Background(), 42, Request{Operation: docsort.OperationProcessProject})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/files/process-project/42", gotPath)
}

func TestHTTPTriggerReclassify(t *testing.T) {
	t.Parallel()

	var body map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req := Request{
		Operation: docsort.OperationReclassify,
		Params:    docsort.Params{Prompt: "Move receipts to Quittung", RegeneratePDF: true},
	}
	require.NoError(t, NewHTTPTrigger(srv.URL+"/").Fire(context.Background(), 9, req))
	assert.Equal(t, "/files/projects/9/reclassify", gotPath)
	assert.Equal(t, "Move receipts to Quittung", body["prompt"])
	assert.Equal(t, true, body["regenerate_pdf"])
}

func TestHTTPTriggerRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"job queue unavailable, retry later","retryable":true}`))
	}))
	defer srv.Close()

	err := NewHTTPTrigger(srv.URL).Fire(context.Background(), 1, Request{Operation: docsort.OperationProcessProject})
	var terr *TriggerError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)
	assert.True(t, terr.Retryable)
	assert.Contains(t, terr.Error(), "job queue unavailable")
}

func TestHTTPTriggerRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	err := NewHTTPTrigger("http://localhost").Fire(context.Background(), 1, Request{Operation: "explode"})
	require.ErrorIs(t, err, docsort.ErrInvalidOperation)
}
