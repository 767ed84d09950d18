package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.flowcatalyst.tech/dispatch/internal/router/manager"
	"go.flowcatalyst.tech/dispatch/internal/router/standby"
)

// PoolStatsProvider exposes pool and pipeline state for monitoring.
type PoolStatsProvider interface {
	GetAllPoolStats() map[string]*manager.PoolStats
	GetPipelineSize() int
	GetTotalPoolCapacity() int
}

// StandbyStatusProvider exposes the standby role for monitoring.
type StandbyStatusProvider interface {
	IsEnabled() bool
	GetStatus() *standby.Status
}

// MonitoringHandler serves read-only operational state: per-pool stats,
// pipeline occupancy, and the standby role of this instance.
type MonitoringHandler struct {
	pools   PoolStatsProvider
	standby StandbyStatusProvider
}

// NewMonitoringHandler creates a monitoring handler. Either provider may be
// nil; the corresponding endpoints then return empty results.
func NewMonitoringHandler(pools PoolStatsProvider, standby StandbyStatusProvider) *MonitoringHandler {
	return &MonitoringHandler{
		pools:   pools,
		standby: standby,
	}
}

// RegisterRoutes mounts the monitoring endpoints on the given router.
func (h *MonitoringHandler) RegisterRoutes(r chi.Router) {
	r.Get("/pools", h.GetPoolStats)
	r.Get("/pools/{code}", h.GetPool)
	r.Get("/pipeline", h.GetPipelineStats)
	r.Get("/standby", h.GetStandbyStatus)
}

// GetPoolStats returns stats for all pools, keyed by pool code.
func (h *MonitoringHandler) GetPoolStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]*manager.PoolStats{}
	if h.pools != nil {
		stats = h.pools.GetAllPoolStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetPool returns stats for a single pool.
func (h *MonitoringHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if h.pools != nil {
		if stats, ok := h.pools.GetAllPoolStats()[code]; ok {
			writeJSON(w, http.StatusOK, stats)
			return
		}
	}

	http.Error(w, "Pool not found", http.StatusNotFound)
}

// PipelineStats describes current in-flight tracking occupancy.
type PipelineStats struct {
	PipelineSize  int `json:"pipelineSize"`
	TotalCapacity int `json:"totalCapacity"`
}

// GetPipelineStats returns the in-flight pipeline size and the combined
// capacity of all pools.
func (h *MonitoringHandler) GetPipelineStats(w http.ResponseWriter, r *http.Request) {
	stats := PipelineStats{}
	if h.pools != nil {
		stats.PipelineSize = h.pools.GetPipelineSize()
		stats.TotalCapacity = h.pools.GetTotalPoolCapacity()
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetStandbyStatus returns the standby role of this instance.
func (h *MonitoringHandler) GetStandbyStatus(w http.ResponseWriter, r *http.Request) {
	if h.standby == nil || !h.standby.IsEnabled() {
		writeJSON(w, http.StatusOK, map[string]bool{"standbyEnabled": false})
		return
	}
	writeJSON(w, http.StatusOK, h.standby.GetStatus())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
