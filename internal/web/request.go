package web

// request.go holds shared helpers for decoding requests and writing responses.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/TemplatePick/internal/core"
)

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// rowIndexParam reads the {rowIndex} path segment.
func rowIndexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "rowIndex")
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("row index %q: %w", raw, core.ErrInvalidInput)
	}
	return i, nil
}

// decodeJSON reads a JSON body into v, bounded by the configured size limit.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body: %w", core.ErrInvalidInput)
		}
		return fmt.Errorf("decode request body: %v: %w", err, core.ErrInvalidInput)
	}
	return nil
}

// actorFrom returns the caller resolved by the Identity middleware.
func actorFrom(r *http.Request) core.Actor {
	a, _ := core.ActorFromContext(r.Context())
	return a
}

// writeJSON encodes v as JSON with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
