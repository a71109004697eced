package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evihost/unifi-cam-proxy/internal/adapter"
	"github.com/evihost/unifi-cam-proxy/internal/config"
	"github.com/evihost/unifi-cam-proxy/internal/logger"
	"github.com/evihost/unifi-cam-proxy/internal/ptz"
	"github.com/evihost/unifi-cam-proxy/internal/service"
	"github.com/evihost/unifi-cam-proxy/internal/state"
)

// Camera is the adapter surface exposed over HTTP
type Camera interface {
	GetSnapshot(ctx context.Context) (string, error)
	GetVideoSettings(ctx context.Context) (ptz.Telemetry, error)
	ChangeVideoSettings(ctx context.Context, settings ptz.Telemetry) error
	GetStreamSource(streamID string) string
	PTZSupported() bool
	Status(ctx context.Context) adapter.Status
}

// History reads recorded camera activity and persisted system state
type History interface {
	ListMotionIntervals(ctx context.Context, limit int) ([]state.MotionInterval, error)
	ListSnapshots(ctx context.Context, limit int) ([]state.SnapshotRecord, error)
	ListPTZMoves(ctx context.Context, limit int) ([]state.PTZMove, error)
	GetSystemState(ctx context.Context, key string) (string, error)
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	routesOnce sync.Once
	addr       string
	camera     Camera          // Optional camera adapter
	history    History         // Optional activity store
	configSvc  *config.Service // Optional config service for configuration API
	version    string          // Application version
	startTime  time.Time       // Server start time for uptime calculation
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	// Set Gin mode to release mode for production
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev", // Default version, can be set via SetVersion
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetCamera sets the camera adapter served by the API
func (s *Server) SetCamera(camera Camera) {
	s.camera = camera
}

// SetHistory sets the store backing the activity APIs
func (s *Server) SetHistory(history History) {
	s.history = history
}

// SetConfigDependency sets dependency for configuration API
func (s *Server) SetConfigDependency(configSvc *config.Service) {
	s.configSvc = configSvc
}

// Handler returns the HTTP handler with all routes registered
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Addr returns the address the server is listening on once started
func (s *Server) Addr() string {
	return s.addr
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.addr = listener.Addr().String()

	// Snapshot downloads handle their own timeouts via the request context
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", s.addr)
		}
	}()

	s.LogInfo("Web server started", "address", s.addr)
	s.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopped)
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		// Health check
		api.GET("/health", s.handleHealth)

		// Adapter status
		api.GET("/status", s.handleStatus)

		// Camera operations
		api.GET("/snapshot", s.handleSnapshot)
		api.GET("/ptz", s.handleGetPTZ)
		api.PUT("/ptz", s.handleUpdatePTZ)
		api.GET("/streams/:id", s.handleStreamSource)

		// Activity history
		api.GET("/motion/events", s.handleMotionEvents)
		api.GET("/snapshots", s.handleSnapshots)
		api.GET("/ptz/moves", s.handlePTZMoves)

		// Configuration
		api.GET("/config", s.handleGetConfig)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Log request
		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
