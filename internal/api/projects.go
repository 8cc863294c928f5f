package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

type createProjectRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}
	project, err := s.deps.Projects.CreateProject(r.Context(), req.Name)
	if err != nil {
		s.writeStoreError(w, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	project, err := s.deps.Projects.GetProject(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get project", err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// listRuns handles GET /projects/{project_id}/runs?limit=. Runs are ordered
// newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.deps.Projects.GetProject(r.Context(), id); err != nil {
		s.writeStoreError(w, "get project", err)
		return
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "list runs", err)
		return
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": id, "runs": runs})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
