package docsort

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProjectStatus represents the lifecycle state of a project run.
type ProjectStatus string

// Project status values persisted in the project store.
const (
	ProjectStatusCreated          ProjectStatus = "created"
	ProjectStatusProcessing       ProjectStatus = "processing"
	ProjectStatusInAgentExecution ProjectStatus = "in_agent_execution"
	ProjectStatusFinished         ProjectStatus = "finished_processing"
	ProjectStatusFailed           ProjectStatus = "failed"
)

// Operation names a long-running job type.
type Operation string

// Supported operations.
const (
	OperationProcessProject Operation = "process_project"
	OperationReclassify     Operation = "reclassify"
)

// Valid reports whether the operation is one the workers know how to run.
func (o Operation) Valid() bool {
	switch o {
	case OperationProcessProject, OperationReclassify:
		return true
	default:
		return false
	}
}

// Params carries per-operation arguments supplied by the caller.
type Params struct {
	Prompt        string `json:"prompt,omitempty"`
	RegeneratePDF bool   `json:"regenerate_pdf,omitempty"`
}

// Validate checks params against the operation they accompany.
func (p Params) Validate(op Operation) error {
	if !op.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if op == OperationReclassify && strings.TrimSpace(p.Prompt) == "" {
		return errors.New("reclassify requires a prompt")
	}
	return nil
}

// Project groups uploaded documents that are classified together.
type Project struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Status       ProjectStatus `json:"status"`
	MergedPDFKey string        `json:"merged_pdf_key,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Document is one uploaded file belonging to a project.
type Document struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	StorageKey  string    `json:"storage_key"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Classification assigns a document to a category.
type Classification struct {
	DocumentID      int64     `json:"document_id"`
	CategoryID      int       `json:"category_id"`
	CategoryName    string    `json:"category_name"`
	CategoryEnglish string    `json:"category_english"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Reassignment is a classifier decision to move a document during reclassify.
type Reassignment struct {
	DocumentID int64  `json:"document_id"`
	CategoryID int    `json:"category_id"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// Job represents one queued run of an operation for a project.
type Job struct {
	ID        string    `json:"id"`
	ProjectID int64     `json:"project_id"`
	Operation Operation `json:"operation"`
	Params    Params    `json:"params"`
	Submitted time.Time `json:"submitted_at"`
	Attempt   int       `json:"attempt,omitempty"`
}

// RunStatus mirrors the job_runs status column.
type RunStatus string

// Job run statuses.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// Run records the latest known state of one job run.
type Run struct {
	JobID      string     `json:"job_id"`
	ProjectID  int64      `json:"project_id"`
	Status     RunStatus  `json:"status"`
	Message    string     `json:"message"`
	Progress   int        `json:"progress"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
