package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evihost/unifi-cam-proxy/internal/config"
	"github.com/evihost/unifi-cam-proxy/internal/ptz"
	"github.com/evihost/unifi-cam-proxy/internal/service"
	"github.com/evihost/unifi-cam-proxy/internal/snapshot"
	"github.com/evihost/unifi-cam-proxy/internal/state"
)

// videoSettingsRequest is the PUT /api/ptz body
type videoSettingsRequest struct {
	Brightness *int `json:"brightness" binding:"required,min=0,max=100"`
	Contrast   *int `json:"contrast" binding:"required,min=0,max=100"`
	Hue        *int `json:"hue" binding:"required,min=0,max=100"`
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "web-server",
	})
}

// handleStatus handles the adapter status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	health := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		health = "unhealthy"
	}

	resp := gin.H{
		"status":         health,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.camera != nil {
		resp["camera"] = s.camera.Status(c.Request.Context())
	}
	if s.history != nil {
		resp["alert_stream"] = s.alertStreamHistory(c.Request.Context())
	}

	c.JSON(http.StatusOK, resp)
}

// handleSnapshot fetches a fresh image and serves it
func (s *Server) handleSnapshot(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	path, err := s.camera.GetSnapshot(c.Request.Context())
	if err != nil {
		if snapshot.IsTransient(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":     err.Error(),
				"retryable": true,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.File(path)
}

// handleGetPTZ returns the current pose as a telemetry triple
func (s *Server) handleGetPTZ(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	settings, err := s.camera.GetVideoSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ptz_supported": s.camera.PTZSupported(),
		"settings":      settings,
	})
}

// handleUpdatePTZ moves the camera to a telemetry triple
func (s *Server) handleUpdatePTZ(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	var req videoSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	settings := ptz.Telemetry{
		Brightness: *req.Brightness,
		Contrast:   *req.Contrast,
		Hue:        *req.Hue,
	}

	if err := s.camera.ChangeVideoSettings(c.Request.Context(), settings); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ptz_supported": s.camera.PTZSupported(),
		"settings":      settings,
		"device":        ptz.ToDevice(settings),
	})
}

// handleStreamSource returns the RTSP URL for a stream id
func (s *Server) handleStreamSource(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stream": c.Param("id"),
		"url":    s.camera.GetStreamSource(c.Param("id")),
	})
}

// handleMotionEvents lists recorded motion intervals, newest first
func (s *Server) handleMotionEvents(c *gin.Context) {
	limit, ok := s.historyLimit(c)
	if !ok {
		return
	}

	intervals, err := s.history.ListMotionIntervals(c.Request.Context(), limit)
	if err != nil {
		s.LogError("Failed to list motion intervals", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list motion events",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": intervals,
		"count":  len(intervals),
	})
}

// handleSnapshots lists served snapshots, newest first
func (s *Server) handleSnapshots(c *gin.Context) {
	limit, ok := s.historyLimit(c)
	if !ok {
		return
	}

	snapshots, err := s.history.ListSnapshots(c.Request.Context(), limit)
	if err != nil {
		s.LogError("Failed to list snapshots", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list snapshots",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// handlePTZMoves lists applied PTZ moves, newest first
func (s *Server) handlePTZMoves(c *gin.Context) {
	limit, ok := s.historyLimit(c)
	if !ok {
		return
	}

	moves, err := s.history.ListPTZMoves(c.Request.Context(), limit)
	if err != nil {
		s.LogError("Failed to list PTZ moves", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list PTZ moves",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"moves": moves,
		"count": len(moves),
	})
}

// historyLimit parses the limit query parameter. It writes the error
// response itself and reports false when the request cannot proceed.
func (s *Server) historyLimit(c *gin.Context) (int, bool) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Activity history not available",
		})
		return 0, false
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return 0, false
		}
		limit = n
	}
	return limit, true
}

// handleGetConfig returns the running configuration without secrets
func (s *Server) handleGetConfig(c *gin.Context) {
	if s.configSvc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Configuration service not available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"config": sanitizeConfig(s.configSvc.Get()),
	})
}

// alertStreamHistory reports the last alert stream transitions persisted
// across restarts
func (s *Server) alertStreamHistory(ctx context.Context) gin.H {
	out := gin.H{}
	for field, key := range map[string]string{
		"last_connect":    state.KeyAlertStreamLastConnect,
		"last_disconnect": state.KeyAlertStreamLastDisconnect,
	} {
		value, err := s.history.GetSystemState(ctx, key)
		if err != nil {
			s.LogError("Failed to read system state", err, "key", key)
			continue
		}
		if value != "" {
			out[field] = value
		}
	}
	return out
}

func (s *Server) requireCamera(c *gin.Context) bool {
	if s.camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Camera adapter not available",
		})
		return false
	}
	return true
}

// sanitizeConfig removes sensitive information from config before returning
func sanitizeConfig(cfg *config.Config) *config.Config {
	sanitized := *cfg
	if sanitized.Camera.Password != "" {
		sanitized.Camera.Password = "********"
	}
	return &sanitized
}
