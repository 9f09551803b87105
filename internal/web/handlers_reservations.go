package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/TemplatePick/internal/core"
)

type myRowsResponse struct {
	FormatID string `json:"formatId"`
	Rows     []int  `json:"rows"`
}

// handlePick reserves a row for the caller. A row held by someone else is
// answered with 409 and the PickResult naming the holder.
func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	rowIndex, err := rowIndexParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.service.Pick(r.Context(), actorFrom(r), chi.URLParam(r, "formatID"), rowIndex)
	if err != nil {
		respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Status == core.PickConflict {
		status = http.StatusConflict
	}
	writeJSONStatus(w, status, res)
}

// handleRelease frees a row held by the caller, or by anyone for admins.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	rowIndex, err := rowIndexParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.service.Release(r.Context(), actorFrom(r), chi.URLParam(r, "formatID"), rowIndex); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAssign force-sets the holder of a row (admin only).
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	rowIndex, err := rowIndexParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var holder core.Holder
	if err := s.decodeJSON(w, r, &holder); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.service.Assign(r.Context(), actorFrom(r), chi.URLParam(r, "formatID"), rowIndex, holder)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// handleListReservations returns the reservation map of a format.
func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	views, err := s.service.ListReservations(r.Context(), actorFrom(r), chi.URLParam(r, "formatID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if views == nil {
		views = []core.ReservationView{}
	}
	writeJSON(w, views)
}

// handleListMyRows returns the row indices the caller holds.
func (s *Server) handleListMyRows(w http.ResponseWriter, r *http.Request) {
	formatID := chi.URLParam(r, "formatID")
	rows, err := s.service.ListMyRows(r.Context(), actorFrom(r), formatID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []int{}
	}
	writeJSON(w, myRowsResponse{FormatID: formatID, Rows: rows})
}
