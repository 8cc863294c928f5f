package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/docsort/internal/docsort"
)

const defaultTriggerTimeout = 30 * time.Second

// Request names the operation an attempt starts.
type Request struct {
	Operation docsort.Operation
	Params    docsort.Params
}

// Trigger starts the server-side job once the progress socket is open.
type Trigger interface {
	Fire(ctx context.Context, projectID int64, req Request) error
}

// TriggerError reports a non-2xx response from a trigger endpoint.
type TriggerError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *TriggerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("trigger rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("trigger rejected with status %d: %s", e.StatusCode, e.Message)
}

// HTTPTrigger posts to the process-project and reclassify endpoints.
type HTTPTrigger struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTrigger returns a trigger with a bounded default HTTP client.
func NewHTTPTrigger(baseURL string) *HTTPTrigger {
	return &HTTPTrigger{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: defaultTriggerTimeout},
	}
}

// Fire implements Trigger.
func (t *HTTPTrigger) Fire(ctx context.Context, projectID int64, req Request) error {
	if err := req.Params.Validate(req.Operation); err != nil {
		return fmt.Errorf("trigger params: %w", err)
	}
	target, body, err := t.endpoint(projectID, req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post %s: %w", target, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var payload struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload.Error = strings.TrimSpace(string(raw))
	}
	return &TriggerError{StatusCode: resp.StatusCode, Message: payload.Error, Retryable: payload.Retryable}
}

func (t *HTTPTrigger) endpoint(projectID int64, req Request) (string, io.Reader, error) {
	base, err := url.Parse(strings.TrimSpace(t.BaseURL))
	if err != nil {
		return "", nil, fmt.Errorf("parse base url: %w", err)
	}
	id := strconv.FormatInt(projectID, 10)
	prefix := strings.TrimRight(base.Path, "/")
	switch req.Operation {
	case docsort.OperationProcessProject:
		base.Path = prefix + "/files/process-project/" + id
		return base.String(), nil, nil
	case docsort.OperationReclassify:
		base.Path = prefix + "/files/projects/" + id + "/reclassify"
		data, err := json.Marshal(map[string]any{
			"prompt":         req.Params.Prompt,
			"regenerate_pdf": req.Params.RegeneratePDF,
		})
		if err != nil {
			return "", nil, fmt.Errorf("encode reclassify body: %w", err)
		}
		return base.String(), bytes.NewReader(data), nil
	default:
		return "", nil, fmt.Errorf("%w: %q", docsort.ErrInvalidOperation, req.Operation)
	}
}
