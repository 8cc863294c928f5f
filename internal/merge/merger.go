// Package merge builds the per-project merged PDF: every classified PDF,
// ordered by category id and then document id.
package merge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/hash/sha256"
)

const pdfContentType = "application/pdf"

// MergeFunc concatenates PDF streams into w.
type MergeFunc func(inputs []io.ReadSeeker, w io.Writer) error

// Merger implements docsort.Merger on top of a BlobStore.
type Merger struct {
	blobs  docsort.BlobStore
	prefix string
	merge  MergeFunc
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New builds a Merger writing results under prefix/{project_id}/merged.pdf.
func New(blobs docsort.BlobStore, prefix string, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{blobs: blobs, prefix: prefix, merge: pdfcpuMerge, hasher: sha256.New(), logger: logger}
}

// WithMergeFunc replaces the PDF backend.
func (m *Merger) WithMergeFunc(fn MergeFunc) *Merger {
	m.merge = fn
	return m
}

// Key returns the storage key of a project's merged PDF.
func (m *Merger) Key(projectID int64) string {
	return path.Join(m.prefix, strconv.FormatInt(projectID, 10), "merged.pdf")
}

// Merge concatenates the PDFs of all categorized groups. Unclassified
// documents, non-PDF uploads and byte-identical duplicates are skipped; a
// missing blob is logged and skipped. It returns docsort.ErrNothingToMerge
// when no input remains.
func (m *Merger) Merge(ctx context.Context, projectID int64, groups []docsort.CategoryGroup) (string, error) {
	var inputs []io.ReadSeeker
	seen := make(map[string]int64)
	for _, g := range groups {
		if g.CategoryID == docsort.UnclassifiedID {
			continue
		}
		for _, doc := range g.Documents {
			if doc.ContentType != pdfContentType {
				continue
			}
			body, err := m.read(ctx, doc.StorageKey)
			if err != nil {
				m.logger.Warn("skip document in merge",
					zap.Int64("document_id", doc.ID),
					zap.String("storage_key", doc.StorageKey),
					zap.Error(err),
				)
				continue
			}
			digest := m.hasher.Hash(body)
			if first, dup := seen[digest]; dup {
				m.logger.Debug("skip duplicate document in merge",
					zap.Int64("document_id", doc.ID),
					zap.Int64("duplicate_of", first),
				)
				continue
			}
			seen[digest] = doc.ID
			inputs = append(inputs, bytes.NewReader(body))
		}
	}
	if len(inputs) == 0 {
		return "", docsort.ErrNothingToMerge
	}

	var out bytes.Buffer
	if err := m.merge(inputs, &out); err != nil {
		return "", fmt.Errorf("merge %d pdfs: %w", len(inputs), err)
	}
	key := m.Key(projectID)
	if _, err := m.blobs.PutObject(ctx, key, pdfContentType, &out); err != nil {
		return "", fmt.Errorf("store merged pdf: %w", err)
	}
	m.logger.Info("merged pdf written",
		zap.Int64("project_id", projectID),
		zap.Int("documents", len(inputs)),
		zap.String("key", key),
	)
	return key, nil
}

func (m *Merger) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := m.blobs.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer rc.Close() //nolint:errcheck
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return body, nil
}

func pdfcpuMerge(inputs []io.ReadSeeker, w io.Writer) error {
	conf := model.NewDefaultConfiguration()
	if err := api.MergeRaw(inputs, w, false, conf); err != nil {
		return fmt.Errorf("pdfcpu merge: %w", err)
	}
	return nil
}
