package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/tircorder/tircorder/internal/store"
)

type SkipsHandler struct {
	st *store.Store
}

func NewSkipsHandler(st *store.Store) *SkipsHandler {
	return &SkipsHandler{st: st}
}

func (h *SkipsHandler) Routes(r chi.Router) {
	r.Get("/skips", h.ListSkips)
	r.Delete("/skips/{id}", h.ClearSkip)
}

// ListSkips returns recorded skips, optionally filtered by reason code.
func (h *SkipsHandler) ListSkips(w http.ResponseWriter, r *http.Request) {
	skips, err := h.st.Skips(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list skips")
		return
	}

	if reason, ok := QueryString(r, "reason"); ok {
		var filtered []store.Skip
		for _, s := range skips {
			if s.Reason == reason {
				filtered = append(filtered, s)
			}
		}
		skips = filtered
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"skips": skips,
		"total": len(skips),
	})
}

// ClearSkip deletes a skip record. The file resurfaces on the next queue
// rehydration.
func (h *SkipsHandler) ClearSkip(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid skip ID")
		return
	}

	cleared, err := h.st.ClearSkip(r.Context(), id)
	if err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to clear skip", err.Error())
		return
	}
	if !cleared {
		WriteError(w, http.StatusNotFound, "skip not found")
		return
	}

	hlog.FromRequest(r).Info().Int64("skip_id", id).Msg("skip record cleared")
	WriteJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": "cleared",
	})
}
