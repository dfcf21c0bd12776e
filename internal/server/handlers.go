package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/orchestrator"
	"github.com/iyulab/actor-profiler/internal/profile"
	"github.com/iyulab/actor-profiler/internal/reporter"
	"github.com/iyulab/actor-profiler/internal/store"
)

type generateRequest struct {
	Name         string          `json:"name" validate:"required,max=200"`
	ApprovedURLs []string        `json:"approved_urls" validate:"omitempty,max=50,dive,url"`
	Documents    []documentInput `json:"documents" validate:"omitempty,max=20,dive"`
}

type documentInput struct {
	Name string `json:"name" validate:"required,max=255"`
	Text string `json:"text" validate:"required"`
}

type validateSourcesRequest struct {
	Sources []sourceInput `json:"sources" validate:"required,min=1,max=100,dive"`
}

type sourceInput struct {
	Title string `json:"title" validate:"max=500"`
	URL   string `json:"url" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "version": s.deps.Version}
	if s.deps.Reference != nil {
		if at := s.deps.Reference.FetchedAt(); !at.IsZero() {
			body["reference_fetched_at"] = at.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "generation not configured")
		return
	}

	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}

	oreq := orchestrator.Request{Name: req.Name, ApprovedURLs: req.ApprovedURLs}
	for _, d := range req.Documents {
		oreq.Documents = append(oreq.Documents, orchestrator.Document{Name: d.Name, Text: d.Text})
	}

	res, err := s.deps.Generator.Generate(r.Context(), oreq)
	if err != nil {
		writeError(w, generationStatus(err), err.Error())
		return
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.Save(r.Context(), res.Record, res.RequestID); err != nil {
			s.logger.Error("save record failed", zap.String("actor", res.Record.Name), zap.Error(err))
			w.Header().Set("X-Profile-Saved", "false")
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// generationStatus maps terminal generation errors to HTTP statuses.
func generationStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNoResearch), errors.Is(err, orchestrator.ErrUnparseable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	entries, err := s.deps.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": entries})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (store.Entry, bool) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return store.Entry{}, false
	}
	name := chi.URLParam(r, "name")
	entry, err := s.deps.Store.Get(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no profile for %q", name))
		return store.Entry{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return store.Entry{}, false
	}
	return entry, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if entry, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reporter == nil {
		writeError(w, http.StatusServiceUnavailable, "reporter not configured")
		return
	}
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}
	data := reporter.NewReportData(entry.Record, nil, s.deps.Version)
	data.RequestID = entry.RequestID
	html, err := s.deps.Reporter.GenerateString(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func (s *Server) handleValidateSources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sources == nil {
		writeError(w, http.StatusServiceUnavailable, "source validation not configured")
		return
	}
	var req validateSourcesRequest
	if !s.decode(w, r, &req) {
		return
	}
	srcs := make([]profile.Source, 0, len(req.Sources))
	for _, in := range req.Sources {
		srcs = append(srcs, profile.Source{Title: in.Title, URL: in.URL})
	}
	out := s.deps.Sources.Validate(r.Context(), srcs)
	if out == nil {
		out = []profile.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

// decode reads and validates a JSON body, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
