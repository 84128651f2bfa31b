package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/tircorder/tircorder/internal/pipeline"
)

// StatusSource exposes live pipeline state to the API. Nil when the API
// runs without a pipeline attached.
type StatusSource interface {
	Stats() pipeline.Stats
	Kick()
}

type StatusHandler struct {
	pipe StatusSource
}

func NewStatusHandler(pipe StatusSource) *StatusHandler {
	return &StatusHandler{pipe: pipe}
}

func (h *StatusHandler) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Post("/scan", h.TriggerScan)
}

// GetStatus returns pipeline counters, queue depths, and rolling rates.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.pipe == nil {
		WriteError(w, http.StatusServiceUnavailable, "pipeline not running")
		return
	}
	WriteJSON(w, http.StatusOK, h.pipe.Stats())
}

// TriggerScan wakes the scanner ahead of its normal interval.
func (h *StatusHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.pipe == nil {
		WriteError(w, http.StatusServiceUnavailable, "pipeline not running")
		return
	}
	h.pipe.Kick()
	hlog.FromRequest(r).Info().Msg("rescan requested")
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"status": "scan_requested",
	})
}
