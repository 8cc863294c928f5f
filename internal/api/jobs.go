package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/dispatcher"
	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/metrics"
)

type reclassifyRequest struct {
	Prompt        string `json:"prompt" validate:"required,max=4000"`
	RegeneratePDF bool   `json:"regenerate_pdf"`
}

type triggerResponse struct {
	dispatcher.Ack
	Message string `json:"message"`
}

func (s *Server) processProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	s.trigger(w, r, id, docsort.OperationProcessProject, docsort.Params{}, "Processing started")
}

func (s *Server) reclassify(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	var req reclassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}
	params := docsort.Params{Prompt: req.Prompt, RegeneratePDF: req.RegeneratePDF}
	s.trigger(w, r, id, docsort.OperationReclassify, params, "Reclassification started")
}

func (s *Server) trigger(
	w http.ResponseWriter,
	r *http.Request,
	id int64,
	op docsort.Operation,
	params docsort.Params,
	message string,
) {
	if s.deps.Admission != nil && !s.deps.Admission.Allow(id) {
		metrics.ObserveTrigger(string(op), "throttled")
		w.Header().Set("Retry-After", "1")
		writeRetryable(w, http.StatusTooManyRequests, "too many triggers for this project, retry later")
		return
	}
	ack, err := s.deps.Dispatcher.Trigger(r.Context(), id, op, params)
	if err != nil {
		switch {
		case errors.Is(err, docsort.ErrProjectNotFound):
			writeError(w, http.StatusNotFound, "project not found")
		case errors.Is(err, dispatcher.ErrInvalidParams):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, dispatcher.ErrEnqueue):
			writeRetryable(w, http.StatusServiceUnavailable, "job queue unavailable, retry later")
		default:
			s.logger.Error("trigger failed", zap.Int64("project_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start job")
		}
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{Ack: ack, Message: message})
}

// validationMessage flattens validator errors into "field: tag" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
