package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/metrics"
)

const multipartMemory = 8 << 20

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

var errUnsupportedType = errors.New("unsupported file type")

// uploadFiles accepts one or more multipart parts named "file" or "files".
// Only PDFs and PNG/JPEG images are stored.
func (s *Server) uploadFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Projects.GetProject(r.Context(), id); err != nil {
		s.writeStoreError(w, "get project", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	var headers []*multipart.FileHeader
	headers = append(headers, r.MultipartForm.File["file"]...)
	headers = append(headers, r.MultipartForm.File["files"]...)
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}

	docs := make([]docsort.Document, 0, len(headers))
	for _, fh := range headers {
		doc, err := s.storeUpload(r.Context(), id, fh)
		if err != nil {
			if errors.Is(err, errUnsupportedType) {
				metrics.ObserveUpload("rejected")
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: only PDF and image files are accepted", fh.Filename))
				return
			}
			metrics.ObserveUpload("error")
			s.writeStoreError(w, "store upload", err)
			return
		}
		metrics.ObserveUpload("stored")
		docs = append(docs, doc)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"project_id": id,
		"documents":  docs,
		"message":    "File uploaded successfully",
	})
}

func (s *Server) storeUpload(ctx context.Context, projectID int64, fh *multipart.FileHeader) (docsort.Document, error) {
	f, err := fh.Open()
	if err != nil {
		return docsort.Document{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close() //nolint:errcheck

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return docsort.Document{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := detectContentType(fh.Header.Get("Content-Type"), head)
	if !allowedContentTypes[contentType] {
		return docsort.Document{}, fmt.Errorf("%w: %s", errUnsupportedType, contentType)
	}

	uploadID, err := s.deps.IDs.NewID()
	if err != nil {
		return docsort.Document{}, fmt.Errorf("generate upload id: %w", err)
	}
	name := sanitizeFileName(fh.Filename)
	key := path.Join(s.opts.StoragePrefix, strconv.FormatInt(projectID, 10), "uploads", uploadID+"-"+name)
	body := io.MultiReader(bytes.NewReader(head), f)
	if _, err := s.deps.Blobs.PutObject(ctx, key, contentType, body); err != nil {
		return docsort.Document{}, fmt.Errorf("put object: %w", err)
	}
	doc, err := s.deps.Projects.AddDocument(ctx, docsort.Document{
		ProjectID:   projectID,
		FileName:    name,
		ContentType: contentType,
		StorageKey:  key,
		Size:        fh.Size,
		UploadedAt:  s.deps.Clock.Now(),
	})
	if err != nil {
		return docsort.Document{}, fmt.Errorf("add document: %w", err)
	}
	return doc, nil
}

// detectContentType trusts a specific declared type and sniffs otherwise.
func detectContentType(declared string, head []byte) string {
	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if declared != "" && declared != "application/octet-stream" {
		if declared == "image/jpg" {
			return "image/jpeg"
		}
		return declared
	}
	return strings.Split(http.DetectContentType(head), ";")[0]
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0:
			return -1
		case r < 0x20:
			return '_'
		default:
			return r
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	docs, err := s.deps.Projects.ListDocuments(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "list files", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": id, "files": docs})
}

func (s *Server) classifications(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	project, err := s.deps.Projects.GetProject(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get project", err)
		return
	}
	docs, err := s.deps.Projects.ListDocuments(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "list files", err)
		return
	}
	cls, err := s.deps.Projects.ListClassifications(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "list classifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":      id,
		"status":          project.Status,
		"total_documents": len(docs),
		"classified":      len(cls),
		"categories":      docsort.GroupByCategory(docs, cls),
	})
}

func (s *Server) mergedPDFStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	project, err := s.deps.Projects.GetProject(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get project", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": id,
		"available":  project.MergedPDFKey != "",
		"status":     project.Status,
	})
}

func (s *Server) mergedPDF(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	project, err := s.deps.Projects.GetProject(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get project", err)
		return
	}
	if project.MergedPDFKey == "" {
		writeError(w, http.StatusNotFound, "merged pdf not available")
		return
	}
	rc, err := s.deps.Blobs.GetObject(r.Context(), project.MergedPDFKey)
	if err != nil {
		s.writeStoreError(w, "get merged pdf", err)
		return
	}
	defer rc.Close() //nolint:errcheck

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="project-%d-merged.pdf"`, id))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream merged pdf", zap.Int64("project_id", id), zap.Error(err))
	}
}
