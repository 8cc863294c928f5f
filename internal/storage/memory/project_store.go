package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/docsort/internal/docsort"
)

// ProjectStore keeps projects, documents, classifications and runs in maps
// guarded by a single RWMutex.
type ProjectStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextProj int64
	nextDoc  int64
	projects map[int64]docsort.Project
	docs     map[int64][]docsort.Document
	classes  map[int64]map[int64]docsort.Classification
	runs     map[int64][]docsort.Run
}

// NewProjectStore constructs an empty ProjectStore.
func NewProjectStore() *ProjectStore {
	return &ProjectStore{
		now:      func() time.Time { return time.Now().UTC() },
		projects: make(map[int64]docsort.Project),
		docs:     make(map[int64][]docsort.Document),
		classes:  make(map[int64]map[int64]docsort.Classification),
		runs:     make(map[int64][]docsort.Run),
	}
}

// CreateProject stores a new project in created status.
func (s *ProjectStore) CreateProject(_ context.Context, name string) (docsort.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return docsort.Project{}, fmt.Errorf("project name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProj++
	now := s.now()
	p := docsort.Project{
		ID:        s.nextProj,
		Name:      name,
		Status:    docsort.ProjectStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.projects[p.ID] = p
	return p, nil
}

// GetProject fetches a project by ID.
func (s *ProjectStore) GetProject(_ context.Context, id int64) (docsort.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return docsort.Project{}, fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, id)
	}
	return p, nil
}

// SetProjectStatus updates the run status of a project.
func (s *ProjectStore) SetProjectStatus(_ context.Context, id int64, status docsort.ProjectStatus) error {
	return s.update(id, func(p *docsort.Project) { p.Status = status })
}

// SetMergedPDF records where the merged PDF for a project lives.
func (s *ProjectStore) SetMergedPDF(_ context.Context, id int64, key string) error {
	return s.update(id, func(p *docsort.Project) { p.MergedPDFKey = key })
}

// AddDocument assigns an ID to doc and appends it to its project.
func (s *ProjectStore) AddDocument(_ context.Context, doc docsort.Document) (docsort.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[doc.ProjectID]; !ok {
		return docsort.Document{}, fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, doc.ProjectID)
	}
	s.nextDoc++
	doc.ID = s.nextDoc
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = s.now()
	}
	s.docs[doc.ProjectID] = append(s.docs[doc.ProjectID], doc)
	return doc, nil
}

// ListDocuments returns the documents of a project in upload order.
func (s *ProjectStore) ListDocuments(_ context.Context, projectID int64) ([]docsort.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.projects[projectID]; !ok {
		return nil, fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, projectID)
	}
	return append([]docsort.Document(nil), s.docs[projectID]...), nil
}

// SaveClassifications upserts classifications keyed by document ID.
func (s *ProjectStore) SaveClassifications(_ context.Context, projectID int64, cls []docsort.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, projectID)
	}
	known := make(map[int64]struct{}, len(s.docs[projectID]))
	for _, d := range s.docs[projectID] {
		known[d.ID] = struct{}{}
	}
	set := s.classes[projectID]
	if set == nil {
		set = make(map[int64]docsort.Classification)
		s.classes[projectID] = set
	}
	for _, c := range cls {
		if _, ok := known[c.DocumentID]; !ok {
			return fmt.Errorf("%w: %d", docsort.ErrDocumentNotFound, c.DocumentID)
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = s.now()
		}
		set[c.DocumentID] = c
	}
	return nil
}

// ListClassifications returns classifications ordered by document ID.
func (s *ProjectStore) ListClassifications(_ context.Context, projectID int64) ([]docsort.Classification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.projects[projectID]; !ok {
		return nil, fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, projectID)
	}
	out := make([]docsort.Classification, 0, len(s.classes[projectID]))
	for _, c := range s.classes[projectID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

// UpsertRun inserts or replaces the run with the same job ID.
func (s *ProjectStore) UpsertRun(_ context.Context, run docsort.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.runs[run.ProjectID]
	for i := range runs {
		if runs[i].JobID == run.JobID {
			if runs[i].StartedAt.Before(run.StartedAt) {
				run.StartedAt = runs[i].StartedAt
			}
			runs[i] = run
			return nil
		}
	}
	s.runs[run.ProjectID] = append(runs, run)
	return nil
}

// ListRuns returns a project's runs, newest first.
func (s *ProjectStore) ListRuns(_ context.Context, projectID int64) ([]docsort.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]docsort.Run(nil), s.runs[projectID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Ping implements the readiness check; the memory store is always ready.
func (s *ProjectStore) Ping(context.Context) error {
	return nil
}

func (s *ProjectStore) update(id int64, fn func(*docsort.Project)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, id)
	}
	fn(&p)
	p.UpdatedAt = s.now()
	s.projects[id] = p
	return nil
}
