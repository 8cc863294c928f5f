package docsort

import (
	"context"
	"io"
	"time"
)

// ProjectStore persists projects, their documents, and classifications.
type ProjectStore interface {
	CreateProject(ctx context.Context, name string) (Project, error)
	GetProject(ctx context.Context, id int64) (Project, error)
	SetProjectStatus(ctx context.Context, id int64, status ProjectStatus) error
	SetMergedPDF(ctx context.Context, id int64, key string) error
	AddDocument(ctx context.Context, doc Document) (Document, error)
	ListDocuments(ctx context.Context, projectID int64) ([]Document, error)
	SaveClassifications(ctx context.Context, projectID int64, cls []Classification) error
	ListClassifications(ctx context.Context, projectID int64) ([]Classification, error)
}

// BlobStore writes raw artifacts under a key and returns a URI. GetObject
// returns ErrObjectNotFound for unknown keys.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Classifier assigns documents to categories. Implementations typically call
// out to an LLM agent.
type Classifier interface {
	Classify(ctx context.Context, doc Document) (Classification, error)
	Reclassify(ctx context.Context, prompt string, groups []CategoryGroup) ([]Reassignment, string, error)
}

// Merger materializes a single PDF for a project and returns its storage key.
type Merger interface {
	Merge(ctx context.Context, projectID int64, groups []CategoryGroup) (string, error)
}

// Queue provides enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RunStore persists job run history fed by the progress pipeline.
type RunStore interface {
	UpsertRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, projectID int64) ([]Run, error)
}
