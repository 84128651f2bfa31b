package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tircorder/tircorder/internal/store"
)

type PairsHandler struct {
	st *store.Store
}

func NewPairsHandler(st *store.Store) *PairsHandler {
	return &PairsHandler{st: st}
}

func (h *PairsHandler) Routes(r chi.Router) {
	r.Get("/pairs", h.ListPairs)
	r.Get("/dangling", h.ListDangling)
}

// ListPairs returns matched audio/transcript couples.
func (h *PairsHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pairs, err := h.st.Pairs(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list pairs")
		return
	}

	lo, hi := p.Slice(len(pairs))
	WriteJSON(w, http.StatusOK, map[string]any{
		"pairs":  pairs[lo:hi],
		"total":  len(pairs),
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}

// ListDangling returns audio without a paired transcript and transcripts
// without paired audio.
func (h *PairsHandler) ListDangling(w http.ResponseWriter, r *http.Request) {
	d, err := h.st.ListDangling(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list dangling files")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"audio":       d.Audio,
		"transcripts": d.Transcripts,
		"total":       len(d.Audio) + len(d.Transcripts),
	})
}
