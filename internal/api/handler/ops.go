// Package handler provides HTTP handlers for the AQIPulse API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqipulse/aqipulse/internal/api/models"
	"github.com/aqipulse/aqipulse/internal/api/response"
	"github.com/aqipulse/aqipulse/internal/provider/resilience"
	"github.com/aqipulse/aqipulse/internal/readings"
)

// OpsConfig holds dependencies for the operational endpoints.
type OpsConfig struct {
	Version   string
	BuildTime string

	// DB, when set, is pinged by the readiness check.
	DB *pgxpool.Pool

	// Readings, when set, contributes cache status to readiness.
	Readings *readings.Service

	// Providers, when set, reports upstream source health.
	Providers *resilience.Registry
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
// Reports FAIL when the database is unreachable, DEGRADED when the
// readings cache holds no data yet.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatusOK
	subsystems := make([]models.SubsystemStatus, 0, 2)

	if h.cfg.DB != nil {
		dbStatus := models.HealthStatusOK
		var detail *string
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := h.cfg.DB.Ping(ctx); err != nil {
			dbStatus = models.HealthStatusFail
			status = models.HealthStatusFail
			msg := err.Error()
			detail = &msg
		}
		cancel()
		subsystems = append(subsystems, models.SubsystemStatus{
			Name:   "postgres",
			Status: dbStatus,
			Detail: detail,
		})
	}

	if h.cfg.Readings != nil {
		cacheStatus := models.HealthStatusOK
		cs := h.cfg.Readings.Status()
		if !cs.HasData {
			cacheStatus = models.HealthStatusDegraded
			if status == models.HealthStatusOK {
				status = models.HealthStatusDegraded
			}
		}
		subsystems = append(subsystems, models.SubsystemStatus{
			Name:   "readings-cache",
			Status: cacheStatus,
		})
	}

	code := http.StatusOK
	if status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, models.SystemStatus{
		Status:     status,
		Time:       models.Timestamp(time.Now()),
		Subsystems: subsystems,
		Providers:  h.providerStatuses(),
	})
}

// SystemStatus handles GET /v1/ops/status - subsystem and source status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	h.ReadinessCheck(w, r)
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.cfg.Providers == nil {
		return nil
	}

	all := h.cfg.Providers.GetAllHealth()
	statuses := make([]models.ProviderStatus, 0, len(all))
	for _, p := range all {
		status := models.HealthStatusOK
		switch {
		case p.IsUnhealthy():
			status = models.HealthStatusFail
		case p.IsDegraded():
			status = models.HealthStatusDegraded
		}
		ps := models.ProviderStatus{
			Provider: p.Name,
			Status:   status,
		}
		if p.LastSuccessAt != nil {
			ts := models.Timestamp(*p.LastSuccessAt)
			ps.LastSuccessAt = &ts
		}
		if p.LastFailureAt != nil {
			ts := models.Timestamp(*p.LastFailureAt)
			ps.LastFailureAt = &ts
		}
		if p.LastError != "" {
			msg := p.LastError
			ps.Message = &msg
		}
		statuses = append(statuses, ps)
	}
	return statuses
}
