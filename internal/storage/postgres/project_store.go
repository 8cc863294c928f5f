// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docsort/internal/docsort"
)

const foreignKeyViolation = "23503"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by the store; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ProjectStore implements docsort.ProjectStore and docsort.RunStore.
type ProjectStore struct {
	pool Pool
	now  func() time.Time
}

// NewProjectStore opens a connection pool using cfg.
func NewProjectStore(ctx context.Context, cfg Config) (*ProjectStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return NewProjectStoreWithPool(pool), nil
}

// NewProjectStoreWithPool wraps an existing pool.
func NewProjectStoreWithPool(pool Pool) *ProjectStore {
	return &ProjectStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the underlying connection pool.
func (s *ProjectStore) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *ProjectStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateProject inserts a project in created status.
func (s *ProjectStore) CreateProject(ctx context.Context, name string) (docsort.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return docsort.Project{}, errors.New("project name is required")
	}
	const query = `
		INSERT INTO projects (name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id, name, status, merged_pdf_key, created_at, updated_at;
	`
	p, err := scanProject(s.pool.QueryRow(ctx, query, name, string(docsort.ProjectStatusCreated), s.now()))
	if err != nil {
		return docsort.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// GetProject fetches a project by ID.
func (s *ProjectStore) GetProject(ctx context.Context, id int64) (docsort.Project, error) {
	const query = `
		SELECT id, name, status, merged_pdf_key, created_at, updated_at
		FROM projects
		WHERE id = $1;
	`
	p, err := scanProject(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return docsort.Project{}, fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, id)
	}
	if err != nil {
		return docsort.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// SetProjectStatus updates the run status of a project.
func (s *ProjectStore) SetProjectStatus(ctx context.Context, id int64, status docsort.ProjectStatus) error {
	const query = `UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3;`
	return s.updateProject(ctx, id, query, string(status), s.now(), id)
}

// SetMergedPDF records where the merged PDF for a project lives.
func (s *ProjectStore) SetMergedPDF(ctx context.Context, id int64, key string) error {
	const query = `UPDATE projects SET merged_pdf_key = $1, updated_at = $2 WHERE id = $3;`
	return s.updateProject(ctx, id, query, key, s.now(), id)
}

func (s *ProjectStore) updateProject(ctx context.Context, id int64, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, id)
	}
	return nil
}

// AddDocument inserts a document row and returns it with its ID.
func (s *ProjectStore) AddDocument(ctx context.Context, doc docsort.Document) (docsort.Document, error) {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = s.now()
	}
	const query = `
		INSERT INTO documents (project_id, file_name, content_type, storage_key, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id;
	`
	err := s.pool.QueryRow(ctx, query,
		doc.ProjectID,
		doc.FileName,
		doc.ContentType,
		doc.StorageKey,
		doc.Size,
		doc.UploadedAt,
	).Scan(&doc.ID)
	if isForeignKeyViolation(err) {
		return docsort.Document{}, fmt.Errorf("%w: %d", docsort.ErrProjectNotFound, doc.ProjectID)
	}
	if err != nil {
		return docsort.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the documents of a project in upload order.
func (s *ProjectStore) ListDocuments(ctx context.Context, projectID int64) ([]docsort.Document, error) {
	const query = `
		SELECT id, project_id, file_name, content_type, storage_key, size_bytes, uploaded_at
		FROM documents
		WHERE project_id = $1
		ORDER BY id;
	`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []docsort.Document
	for rows.Next() {
		var d docsort.Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.FileName, &d.ContentType, &d.StorageKey, &d.Size, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// SaveClassifications upserts all classifications in one transaction.
func (s *ProjectStore) SaveClassifications(ctx context.Context, projectID int64, cls []docsort.Classification) (err error) {
	if len(cls) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin classification tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const query = `
		INSERT INTO classifications
			(document_id, project_id, category_id, category_name, category_english, confidence, reasoning, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			category_name = EXCLUDED.category_name,
			category_english = EXCLUDED.category_english,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			updated_at = EXCLUDED.updated_at;
	`
	for _, c := range cls {
		updated := c.UpdatedAt
		if updated.IsZero() {
			updated = s.now()
		}
		if _, err = tx.Exec(ctx, query,
			c.DocumentID,
			projectID,
			c.CategoryID,
			c.CategoryName,
			c.CategoryEnglish,
			c.Confidence,
			c.Reasoning,
			updated,
		); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %d", docsort.ErrDocumentNotFound, c.DocumentID)
			}
			return fmt.Errorf("upsert classification %d: %w", c.DocumentID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit classifications: %w", err)
	}
	return nil
}

// ListClassifications returns a project's classifications ordered by document.
func (s *ProjectStore) ListClassifications(ctx context.Context, projectID int64) ([]docsort.Classification, error) {
	const query = `
		SELECT document_id, category_id, category_name, category_english, confidence, reasoning, updated_at
		FROM classifications
		WHERE project_id = $1
		ORDER BY document_id;
	`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	defer rows.Close()

	var out []docsort.Classification
	for rows.Next() {
		var c docsort.Classification
		if err := rows.Scan(
			&c.DocumentID,
			&c.CategoryID,
			&c.CategoryName,
			&c.CategoryEnglish,
			&c.Confidence,
			&c.Reasoning,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classifications: %w", err)
	}
	return out, nil
}

// UpsertRun inserts or updates a job run, keeping the earliest start time.
func (s *ProjectStore) UpsertRun(ctx context.Context, run docsort.Run) error {
	const query = `
		INSERT INTO job_runs (job_id, project_id, status, message, progress, started_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			progress = EXCLUDED.progress,
			started_at = LEAST(job_runs.started_at, EXCLUDED.started_at),
			updated_at = EXCLUDED.updated_at,
			finished_at = COALESCE(EXCLUDED.finished_at, job_runs.finished_at);
	`
	_, err := s.pool.Exec(ctx, query,
		run.JobID,
		run.ProjectID,
		string(run.Status),
		run.Message,
		run.Progress,
		run.StartedAt,
		run.UpdatedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job run: %w", err)
	}
	return nil
}

// ListRuns returns a project's runs, newest first.
func (s *ProjectStore) ListRuns(ctx context.Context, projectID int64) ([]docsort.Run, error) {
	const query = `
		SELECT job_id, project_id, status, message, progress, started_at, updated_at, finished_at
		FROM job_runs
		WHERE project_id = $1
		ORDER BY started_at DESC;
	`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []docsort.Run
	for rows.Next() {
		var (
			run    docsort.Run
			status string
		)
		if err := rows.Scan(
			&run.JobID,
			&run.ProjectID,
			&status,
			&run.Message,
			&run.Progress,
			&run.StartedAt,
			&run.UpdatedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		run.Status = docsort.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return runs, nil
}

func scanProject(row pgx.Row) (docsort.Project, error) {
	var (
		p      docsort.Project
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &status, &p.MergedPDFKey, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return docsort.Project{}, err
	}
	p.Status = docsort.ProjectStatus(status)
	return p, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
