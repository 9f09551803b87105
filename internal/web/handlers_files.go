package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/TemplatePick/internal/core"
)

type deleteFileResponse struct {
	FileID   string `json:"fileId"`
	Released []int  `json:"released"`
}

// handleListFiles lists the caller's files; admins may pass all=true.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	files, err := s.service.ListFiles(r.Context(), actorFrom(r), all)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if files == nil {
		files = []*core.CreatedFile{}
	}
	writeJSON(w, files)
}

// handleCreateFile saves a new file.
func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	var req core.SaveFileRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	req.FileID = ""

	res, err := s.service.SaveFile(r.Context(), actorFrom(r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// handleUpdateFile replaces an existing file.
func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	var req core.SaveFileRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	req.FileID = chi.URLParam(r, "fileID")

	res, err := s.service.SaveFile(r.Context(), actorFrom(r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// handleGetFile returns a file with projection rows resolved.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.service.GetFile(r.Context(), actorFrom(r), chi.URLParam(r, "fileID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, f)
}

// handleDeleteFile deletes a file and releases the rows it held.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	released, err := s.service.DeleteFile(r.Context(), actorFrom(r), fileID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if released == nil {
		released = []int{}
	}
	writeJSON(w, deleteFileResponse{FileID: fileID, Released: released})
}

// handlePatchCell sets one cell of a file.
func (s *Server) handlePatchCell(w http.ResponseWriter, r *http.Request) {
	var req core.PatchCellRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	f, err := s.service.PatchCell(r.Context(), actorFrom(r), chi.URLParam(r, "fileID"), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, f)
}
