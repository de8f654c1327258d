package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/formfill/orchestrator/internal/dataset"
	"github.com/formfill/orchestrator/internal/domain"
)

// utf8BOM prefixes exported CSVs so spreadsheet applications detect the
// encoding. Exports are idempotent: an already prefixed file is served
// as is.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// RunResponse wraps a run summary for run creation responses
type RunResponse struct {
	Run domain.Run `json:"run"`
}

// RunDetailResponse wraps a run with its task rows
type RunDetailResponse struct {
	Run domain.RunDetail `json:"run"`
}

// PreflightResponse wraps the dry-run sample results. Results is empty
// when the worker reported no field mapping.
type PreflightResponse struct {
	Results []domain.PreflightResult `json:"results"`
}

// StatusResponse is the API response for overall orchestrator status
type StatusResponse struct {
	Datasets int `json:"datasets"`
	Total    int `json:"total"`
	Queued   int `json:"queued"`
	Running  int `json:"running"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var status StatusResponse
		if metas, err := s.datasets.All(); err == nil {
			status.Datasets = len(metas)
		}
		runs := s.supervisor.Registry().List()
		status.Total = len(runs)
		for _, run := range runs {
			switch run.Status {
			case domain.RunQueued:
				status.Queued++
			case domain.RunRunning:
				status.Running++
			case domain.RunDone:
				status.Done++
			case domain.RunFailed:
				status.Failed++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) createRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req domain.RunCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		_, paths, err := s.datasets.Resolve(req.DatasetIDs)
		if err != nil {
			writeError(w, datasetErrorCode(err), err.Error())
			return
		}

		run, err := s.supervisor.StartRun(req, paths)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, RunResponse{Run: run})
	}
}

// runHandler serves /run/{id} and /run/{id}/export
func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/run/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		if id, ok := strings.CutSuffix(path, "/export"); ok {
			s.exportRun(w, id)
			return
		}

		detail, ok := s.supervisor.Registry().GetDetail(path)
		if !ok {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, RunDetailResponse{Run: detail})
	}
}

func (s *Server) exportRun(w http.ResponseWriter, id string) {
	path, ok := s.supervisor.Registry().ResultPath(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if path == "" {
		writeError(w, http.StatusNotFound, "no result available for run")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no result available for run")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !bytes.HasPrefix(data, utf8BOM) {
		data = append(append([]byte{}, utf8BOM...), data...)
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="result-%s.csv"`, id))
	w.Write(data)
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, s.supervisor.Registry().List())
	}
}

func (s *Server) preflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req domain.PreflightRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		_, paths, err := s.datasets.Resolve(req.DatasetIDs)
		if err != nil {
			writeError(w, datasetErrorCode(err), err.Error())
			return
		}

		results, err := s.preflight.Check(r.Context(), req, paths)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, PreflightResponse{Results: results})
	}
}

func (s *Server) datasetsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listDatasets(w, r)
		case http.MethodPost:
			s.uploadDataset(w, r)
		case http.MethodDelete:
			s.deleteDataset(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	metas, err := s.datasets.List(r.Context())
	if err != nil {
		if errors.Is(err, dataset.ErrMetaNotFound) {
			writeJSON(w, []dataset.Meta{})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, metas)
}

func (s *Server) uploadDataset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, ".csv")
	}
	var tags []string
	if raw := r.FormValue("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	meta, err := s.datasets.Add(name, tags, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sseHub.Broadcast(SSEEvent{Type: EventDatasetUpdate, Data: meta})
	writeJSON(w, meta)
}

func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id parameter required")
		return
	}
	if err := s.datasets.Delete(id); err != nil {
		writeError(w, datasetErrorCode(err), err.Error())
		return
	}
	s.sseHub.Broadcast(SSEEvent{Type: EventDatasetUpdate, Data: map[string]string{"deleted": id}})
	writeJSON(w, map[string]string{"status": "deleted"})
}

// datasetErrorCode maps dataset resolution failures onto HTTP codes.
// Selection problems are the caller's fault; anything else is ours.
func datasetErrorCode(err error) int {
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dataset.ErrMetaNotFound), errors.Is(err, dataset.ErrNoDatasetsSelected):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
