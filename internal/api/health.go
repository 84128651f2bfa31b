package api

import (
	"net/http"
	"time"

	"github.com/tircorder/tircorder/internal/store"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	st        *store.Store
	pipe      StatusSource
	version   string
	startTime time.Time
}

func NewHealthHandler(st *store.Store, pipe StatusSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		st:        st,
		pipe:      pipe,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Store check
	if err := h.st.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// Pipeline check
	if h.pipe != nil {
		if h.pipe.Stats().TranscribingActive {
			checks["transcription"] = "active"
		} else {
			checks["transcription"] = "idle"
		}
	} else {
		checks["transcription"] = "not_running"
		if status == "healthy" {
			status = "degraded"
		}
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
