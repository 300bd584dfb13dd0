package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BadgerOps/mirrorpick/internal/history"
	"github.com/BadgerOps/mirrorpick/internal/mirror"
	"github.com/BadgerOps/mirrorpick/internal/safety"
)

// maxRequestBody caps POST bodies; a resolve request is a single URL.
const maxRequestBody = 64 << 10

type candidatesResponse struct {
	URL        string   `json:"url"`
	Canonical  bool     `json:"canonical"`
	Candidates []string `json:"candidates"`
}

type resolveRequest struct {
	URL string `json:"url"`
}

type resolveResponse struct {
	RunID string `json:"run_id,omitempty"`
	*mirror.Outcome
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		jsonError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	if _, err := safety.ValidateHTTPURL(raw); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates := s.generator.Generate(raw)
	writeJSON(w, http.StatusOK, candidatesResponse{
		URL:        raw,
		Canonical:  len(candidates) > 1,
		Candidates: candidates,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	body, err := safety.ReadAllWithLimit(r.Body, maxRequestBody)
	if errors.Is(err, safety.ErrBodyTooLarge) {
		jsonError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		jsonError(w, http.StatusBadRequest, "reading request: "+err.Error())
		return
	}

	var req resolveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.URL == "" {
		jsonError(w, http.StatusBadRequest, "url must not be empty")
		return
	}
	if _, err := safety.ValidateHTTPURL(req.URL); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates := s.generator.Generate(req.URL)
	started := time.Now()
	outcome, err := s.selector.Resolve(r.Context(), candidates)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := resolveResponse{Outcome: outcome}
	if s.history != nil {
		entry := history.FromOutcome(s.generator.Canonical(), candidates, outcome, started, time.Since(started))
		if err := s.history.RecordResolution(r.Context(), entry); err != nil {
			s.logger.Warn("failed to record resolution", "url", req.URL, "error", err)
		} else {
			resp.RunID = entry.RunID
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := s.history.ListResolutions(r.Context(), limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []history.Resolution{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleHistoryShow(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, http.StatusNotFound, "history is disabled")
		return
	}

	res, err := s.history.GetResolution(r.Context(), r.PathValue("runID"))
	if errors.Is(err, history.ErrNotFound) {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
