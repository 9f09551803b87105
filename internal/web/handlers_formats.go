package web

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/TemplatePick/internal/core"
)

type importTemplateRequest struct {
	Rows []core.Row `json:"rows"`
}

type importTemplateResponse struct {
	FormatID string `json:"formatId"`
	Rows     int    `json:"rows"`
}

type patchTemplateCellRequest struct {
	Column string     `json:"column"`
	Value  core.Value `json:"value"`
}

type templateRowResponse struct {
	FormatID string   `json:"formatId"`
	RowIndex int      `json:"rowIndex"`
	Row      core.Row `json:"row"`
}

// handleListFormats returns every format definition.
func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	formats, err := s.service.ListFormats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if formats == nil {
		formats = []core.Format{}
	}
	writeJSON(w, formats)
}

// handleGetFormat returns one format definition.
func (s *Server) handleGetFormat(w http.ResponseWriter, r *http.Request) {
	f, err := s.service.GetFormat(r.Context(), chi.URLParam(r, "formatID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, f)
}

// handleSaveFormat creates or replaces a format. The path id wins over an
// empty body id; a different body id is rejected.
func (s *Server) handleSaveFormat(w http.ResponseWriter, r *http.Request) {
	formatID := chi.URLParam(r, "formatID")

	var f core.Format
	if err := s.decodeJSON(w, r, &f); err != nil {
		respondError(w, r, err)
		return
	}
	if f.ID != "" && f.ID != formatID {
		respondError(w, r, fmt.Errorf("body id %q does not match path id %q: %w", f.ID, formatID, core.ErrInvalidInput))
		return
	}
	f.ID = formatID

	saved, err := s.service.SaveFormat(r.Context(), actorFrom(r), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, saved)
}

// handleImportTemplate replaces the template rows of a format.
func (s *Server) handleImportTemplate(w http.ResponseWriter, r *http.Request) {
	formatID := chi.URLParam(r, "formatID")

	var req importTemplateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	n, err := s.service.ImportTemplate(r.Context(), actorFrom(r), formatID, req.Rows)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, importTemplateResponse{FormatID: formatID, Rows: n})
}

// handleListTemplateRows returns one page of template rows with their
// reservation state.
func (s *Server) handleListTemplateRows(w http.ResponseWriter, r *http.Request) {
	page := core.Page{
		Page:     parseIntParam(r, "page", 1),
		PageSize: parseIntParam(r, "pageSize", 0),
	}

	result, err := s.service.ListTemplateRows(r.Context(), actorFrom(r), chi.URLParam(r, "formatID"), page)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handlePatchTemplateCell sets one template cell.
func (s *Server) handlePatchTemplateCell(w http.ResponseWriter, r *http.Request) {
	formatID := chi.URLParam(r, "formatID")
	rowIndex, err := rowIndexParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req patchTemplateCellRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	row, err := s.service.PatchTemplateCell(r.Context(), actorFrom(r), formatID, rowIndex, req.Column, req.Value)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, templateRowResponse{FormatID: formatID, RowIndex: rowIndex, Row: row})
}
