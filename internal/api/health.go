package api

import (
	"net/http"
	"time"

	"github.com/voxsub/subgen/internal/jobstore"
	"github.com/voxsub/subgen/internal/media"
	"github.com/voxsub/subgen/internal/pipeline"
	"github.com/voxsub/subgen/internal/storage"
)

type HealthResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Checks        map[string]string   `json:"checks"`
	Queue         pipeline.QueueStats `json:"queue"`
}

type HealthHandler struct {
	jobs      *jobstore.Store
	store     storage.Store
	pool      Enqueuer
	version   string
	startTime time.Time
}

func NewHealthHandler(jobs *jobstore.Store, store storage.Store, pool Enqueuer, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		jobs:      jobs,
		store:     store,
		pool:      pool,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Job database check
	if err := h.jobs.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// ffmpeg is required for every run, so its absence degrades us even
	// though the API itself still responds.
	if media.CheckFFmpeg() {
		checks["ffmpeg"] = "ok"
	} else {
		checks["ffmpeg"] = "not_found"
		if status == "healthy" {
			status = "degraded"
		}
	}

	checks["storage"] = h.store.Type()

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.pool != nil {
		resp.Queue = h.pool.Stats()
	}

	WriteJSON(w, httpStatus, resp)
}
