package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
)

const readinessTimeout = 2 * time.Second

var startTime = time.Now()

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: h.config.ServiceName,
		Version: h.config.ServiceVersion,
	})
}

// Ready handles GET /ready. Every registered dependency must answer a ping.
func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	ready := true
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", logging.Fields{
				"check": check.Name,
				"error": err.Error(),
			})
			checks[check.Name] = err.Error()
			ready = false
			continue
		}
		checks[check.Name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ReadyResponse{
		Ready:  ready,
		Checks: checks,
	})
}

// Live handles GET /live
func (h *Handlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alive": true,
	})
}

// DebugInfo handles GET /debug/info
func (h *Handlers) DebugInfo(c *gin.Context) {
	if !h.config.Features.EnableDebugMode {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Success: false,
			Error:   "Debug mode disabled",
		})
		return
	}

	logging.Warnf("debug info endpoint accessed from %s", c.ClientIP())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.JSON(http.StatusOK, DebugInfoResponse{
		Uptime: time.Since(startTime).String(),
		Runtime: RuntimeInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			MemAlloc:     memStats.Alloc,
		},
		Config: DebugConfig{
			Environment:     h.config.Environment,
			SSOEnabled:      h.config.Features.EnableSSO,
			SSOSignMode:     h.config.SSO.SignMode,
			UserCache:       h.config.Features.EnableUserCache,
			EnableDebugMode: h.config.Features.EnableDebugMode,
			DatabaseHost:    h.config.Database.Host,
			RedisHost:       h.config.Redis.Host,
		},
	})
}

// Response types

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type ReadyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

type RuntimeInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAlloc     uint64 `json:"mem_alloc"`
}

type DebugInfoResponse struct {
	Uptime  string      `json:"uptime"`
	Runtime RuntimeInfo `json:"runtime"`
	Config  DebugConfig `json:"config"`
}

type DebugConfig struct {
	Environment     string `json:"environment"`
	SSOEnabled      bool   `json:"sso_enabled"`
	SSOSignMode     string `json:"sso_sign_mode"`
	UserCache       bool   `json:"user_cache_enabled"`
	EnableDebugMode bool   `json:"enable_debug_mode"`
	DatabaseHost    string `json:"database_host"`
	RedisHost       string `json:"redis_host"`
}
