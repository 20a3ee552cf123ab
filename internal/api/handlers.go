package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/store"
)

const maxBody = 1 << 20

type triggerRequest struct {
	Type   model.JobType   `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.opts.Jobs.Trigger(r.Context(), req.Type, req.Params, model.TriggerAPI)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	jobs, err := s.opts.Jobs.List(r.Context(), model.JobFilter{
		Type:   model.JobType(q.Get("type")),
		Status: model.JobStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		writeInternal(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.opts.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := s.opts.Jobs.Cancel(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": cancelled})
}

func (s *Server) listProspects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	var minScore float64
	if v := q.Get("min_score"); v != "" {
		if minScore, err = strconv.ParseFloat(v, 64); err != nil {
			writeError(w, http.StatusBadRequest, "min_score must be a number")
			return
		}
	}

	ps, err := s.opts.Store.ListProspects(r.Context(), store.ProspectFilter{
		Stage:    model.Stage(q.Get("stage")),
		Platform: q.Get("platform"),
		MinScore: minScore,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeInternal(w, err)
		return
	}
	if ps == nil {
		ps = []model.Prospect{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) getProspect(w http.ResponseWriter, r *http.Request) {
	p, err := s.opts.Store.GetProspect(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "prospect not found")
		return
	}
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) addProspect(w http.ResponseWriter, r *http.Request) {
	if s.opts.Intake == nil {
		writeError(w, http.StatusNotImplemented, "manual prospects are not enabled")
		return
	}
	var in discovery.ManualInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := discovery.ManualProspect(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.opts.Intake.Add(r.Context(), in)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, http.StatusConflict, "prospect already exists")
		return
	}
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.opts.Settings.Settings(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := decode(w, r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for t := range settings.AutoJobs {
		if !t.Valid() {
			writeError(w, http.StatusBadRequest, "unknown job type "+string(t))
			return
		}
	}
	if err := s.validate.Struct(settings.Discover); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.opts.Store.PutSettings(r.Context(), settings); err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, orchestrator.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
	case orchestrator.IsConfigError(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeInternal(w, err)
	}
}

func writeInternal(w http.ResponseWriter, err error) {
	zap.L().Error("api: request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}
