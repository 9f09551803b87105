package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/TemplatePick/internal/core"
)

// healthTimeout bounds the store ping behind /healthz.
const healthTimeout = 2 * time.Second

type ingestRequest struct {
	Rows []map[string]any `json:"rows"`
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// handleMerge merges files into a new one. Refusals come back as 422 with
// every offending row listed.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req core.MergeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.service.MergeFiles(r.Context(), actorFrom(r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// handleIngest loads raw attendance rows. Cell values may be JSON strings,
// numbers or booleans; everything is passed on as text.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	raw := make([]map[string]string, len(req.Rows))
	for i, row := range req.Rows {
		m := make(map[string]string, len(row))
		for k, v := range row {
			m[k] = cellText(v)
		}
		raw[i] = m
	}

	res, err := s.service.Ingest(r.Context(), actorFrom(r), raw)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// handleAttendance returns the stored attendance of one entity.
func (s *Server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.Attendance(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if records == nil {
		records = []core.AttendanceRecord{}
	}
	writeJSON(w, records)
}

// handleStatus reports merge and ingest slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Status())
}

// handleHealth is the liveness check. It fails when the store is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Store: err.Error()})
		return
	}
	writeJSON(w, healthResponse{Status: "ok", Store: "ok"})
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
