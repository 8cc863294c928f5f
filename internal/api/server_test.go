package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/clock/system"
	"github.com/JakeFAU/docsort/internal/dispatcher"
	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/id/uuid"
	"github.com/JakeFAU/docsort/internal/metrics"
	"github.com/JakeFAU/docsort/internal/policy/ratelimit"
	"github.com/JakeFAU/docsort/internal/progress"
	queueMemory "github.com/JakeFAU/docsort/internal/queue/memory"
	"github.com/JakeFAU/docsort/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, docsort.Job) error { return errors.New("broker down") }

func (failingQueue) Dequeue(ctx context.Context) (docsort.Job, error) {
	<-ctx.Done()
	return docsort.Job{}, ctx.Err()
}

type testEnv struct {
	server  *Server
	store   *memory.ProjectStore
	blobs   *memory.BlobStore
	queue   *queueMemory.Queue
	channel *progress.Channel
}

func newTestEnv(t *testing.T, q docsort.Queue) *testEnv {
	t.Helper()
	store := memory.NewProjectStore()
	blobs := memory.NewBlobStore()
	mq := queueMemory.NewQueue(8)
	if q == nil {
		q = mq
	}
	clock := system.New()
	ids := uuid.New()
	dispatch := dispatcher.New(q, store, ids, clock, nil, dispatcher.Config{EnqueueTimeout: 100 * time.Millisecond}, zap.NewNop())
	channel := progress.NewChannel(zap.NewNop())
	t.Cleanup(channel.Close)
	srv := NewServer(Deps{
		Projects:   store,
		Runs:       store,
		Blobs:      blobs,
		Dispatcher: dispatch,
		Channel:    channel,
		IDs:        ids,
		Clock:      clock,
		Checks:     map[string]Pinger{"store": store},
	}, Options{StoragePrefix: "projects"}, zap.NewNop())
	return &testEnv{server: srv, store: store, blobs: blobs, queue: mq, channel: channel}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) project(t *testing.T) int64 {
	t.Helper()
	p, err := e.store.CreateProject(context.Background(), "Steuer 2024")
	require.NoError(t, err)
	return p.ID
}

func idPath(format string, id int64) string {
	return strings.Replace(format, "{id}", strconv.FormatInt(id, 10), 1)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	env.server.deps.Checks["redis"] = PingFunc(func(context.Context) error { return errors.New("connection refused") })
	rec = env.do(t, http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestCreateAndGetProject(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/projects", strings.NewReader(`{"name":"Steuer 2024"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[docsort.Project](t, rec)
	assert.Equal(t, "Steuer 2024", created.Name)
	assert.Equal(t, docsort.ProjectStatusCreated, created.Status)

	rec = env.do(t, http.MethodGet, idPath("/projects/{id}", created.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[docsort.Project](t, rec).ID)

	rec = env.do(t, http.MethodPost, "/projects", strings.NewReader(`{"name":"   "}`), "application/json")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "name: required")

	rec = env.do(t, http.MethodPost, "/projects", strings.NewReader(`{bad`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/projects/404", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/projects/abc", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessProjectTrigger(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	id := env.project(t)

	rec := env.do(t, http.MethodPost, idPath("/files/process-project/{id}", id), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "process_project", resp["operation"])
	assert.Equal(t, "Processing started", resp["message"])
	assert.NotEmpty(t, resp["job_id"])

	job, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, job.ProjectID)
	assert.Equal(t, resp["job_id"], job.ID)
	assert.Equal(t, 0, env.channel.Total())

	rec = env.do(t, http.MethodPost, "/files/process-project/999", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/files/process-project/-3", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerEnqueueFailureIsRetryable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, failingQueue{})
	id := env.project(t)

	rec := env.do(t, http.MethodPost, idPath("/files/process-project/{id}", id), nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[errorBody](t, rec)
	assert.True(t, body.Retryable)
}

func TestTriggerThrottledPerProject(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.server.deps.Admission = ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})
	first := env.project(t)
	second := env.project(t)

	rec := env.do(t, http.MethodPost, idPath("/files/process-project/{id}", first), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, idPath("/files/process-project/{id}", first), nil, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.True(t, decode[errorBody](t, rec).Retryable)

	rec = env.do(t, http.MethodPost, idPath("/files/process-project/{id}", second), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReclassifyTrigger(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	id := env.project(t)

	rec := env.do(t, http.MethodPost, idPath("/files/projects/{id}/reclassify", id),
		strings.NewReader(`{"prompt":"Move receipts to Quittung","regenerate_pdf":true}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	job, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, docsort.OperationReclassify, job.Operation)
	assert.Equal(t, "Move receipts to Quittung", job.Params.Prompt)
	assert.True(t, job.Params.RegeneratePDF)

	rec = env.do(t, http.MethodPost, idPath("/files/projects/{id}/reclassify", id),
		strings.NewReader(`{"regenerate_pdf":true}`), "application/json")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "prompt: required")

	rec = env.do(t, http.MethodPost, idPath("/files/projects/{id}/reclassify", id),
		strings.NewReader(`not json`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartBody(t *testing.T, field, name, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndListFiles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	id := env.project(t)

	body, ct := multipartBody(t, "file", "Lohnsteuer 2024.pdf", "", []byte("%PDF-1.7\n1 0 obj\n"))
	rec := env.do(t, http.MethodPost, idPath("/files/upload/{id}", id), body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	docs, err := env.store.ListDocuments(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Lohnsteuer 2024.pdf", docs[0].FileName)
	assert.Equal(t, "application/pdf", docs[0].ContentType)
	assert.True(t, strings.HasPrefix(docs[0].StorageKey, idPath("projects/{id}/uploads/", id)))

	rc, err := env.blobs.GetObject(context.Background(), docs[0].StorageKey)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7\n1 0 obj\n", string(stored))

	rec = env.do(t, http.MethodGet, idPath("/files/projects/{id}/files", id), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lohnsteuer 2024.pdf")
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	id := env.project(t)

	body, ct := multipartBody(t, "file", "notes.txt", "text/plain", []byte("hello"))
	rec := env.do(t, http.MethodPost, idPath("/files/upload/{id}", id), body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "only PDF and image files")

	docs, err := env.store.ListDocuments(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, docs)

	body, ct = multipartBody(t, "file", "a.pdf", "application/pdf", []byte("%PDF"))
	rec = env.do(t, http.MethodPost, "/files/upload/77", body, ct)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassificationsGrouped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	id := env.project(t)
	ctx := context.Background()
	a, err := env.store.AddDocument(ctx, docsort.Document{ProjectID: id, FileName: "a.pdf"})
	require.NoError(t, err)
	_, err = env.store.AddDocument(ctx, docsort.Document{ProjectID: id, FileName: "b.pdf"})
	require.NoError(t, err)
	require.NoError(t, env.store.SaveClassifications(ctx, id, []docsort.Classification{{DocumentID: a.ID, CategoryID: 4}}))

	rec := env.do(t, http.MethodGet, idPath("/files/projects/{id}/classifications", id), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		TotalDocuments int                     `json:"total_documents"`
		Classified     int                     `json:"classified"`
		Categories     []docsort.CategoryGroup `json:"categories"`
	}](t, rec)
	assert.Equal(t, 2, resp.TotalDocuments)
	assert.Equal(t, 1, resp.Classified)
	require.Len(t, resp.Categories, 2)
	assert.Equal(t, docsort.UnclassifiedID, resp.Categories[0].CategoryID)
	assert.Equal(t, "Rechnung", resp.Categories[1].CategoryName)
}

func TestMergedPDF(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	id := env.project(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, idPath("/files/projects/{id}/merged-pdf/status", id), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["available"])

	rec = env.do(t, http.MethodGet, idPath("/files/projects/{id}/merged-pdf", id), nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, err := env.blobs.PutObject(ctx, "projects/merged.pdf", "application/pdf", strings.NewReader("%PDF-merged"))
	require.NoError(t, err)
	require.NoError(t, env.store.SetMergedPDF(ctx, id, "projects/merged.pdf"))

	rec = env.do(t, http.MethodGet, idPath("/files/projects/{id}/merged-pdf/status", id), nil, "")
	assert.Equal(t, true, decode[map[string]any](t, rec)["available"])

	rec = env.do(t, http.MethodGet, idPath("/files/projects/{id}/merged-pdf", id), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "merged.pdf")
	assert.Equal(t, "%PDF-merged", rec.Body.String())
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	id := env.project(t)
	now := time.Now().UTC()
	for i, jobID := range []string{"job-a", "job-b", "job-c"} {
		require.NoError(t, env.store.UpsertRun(context.Background(), docsort.Run{
			JobID: jobID, ProjectID: id, Status: docsort.RunCompleted,
			StartedAt: now.Add(time.Duration(i) * time.Minute), UpdatedAt: now,
		}))
	}

	rec := env.do(t, http.MethodGet, idPath("/projects/{id}/runs?limit=2", id), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Runs []docsort.Run `json:"runs"`
	}](t, rec)
	assert.Len(t, resp.Runs, 2)

	rec = env.do(t, http.MethodGet, idPath("/projects/{id}/runs?limit=zero", id), nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
