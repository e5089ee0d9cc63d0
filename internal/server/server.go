package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tm-acme-shop/acme-ops-portal/internal/config"
	"github.com/tm-acme-shop/acme-ops-portal/internal/handlers"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

// HeaderRequestID carries the correlation ID of a request.
const HeaderRequestID = "X-Request-ID"

// Server represents the HTTP server.
type Server struct {
	srv     *http.Server
	router  *gin.Engine
	handler *handlers.Handlers
	config  *config.Config
	logger  *logging.LoggerV2
}

// New creates a new server instance.
func New(h *handlers.Handlers, cfg *config.Config) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	s := &Server{
		router:  router,
		handler: h,
		config:  cfg,
		logger:  logging.NewLoggerV2("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logging.SetRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// The query is not logged: syn_login links carry the auth signature.
		s.logger.WithContext(c.Request.Context()).Info("request completed", logging.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+HeaderRequestID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutes() {
	h := s.handler

	// Health check endpoints (no auth required)
	s.router.GET("/health", h.Health)
	s.router.GET("/ready", h.Ready)
	s.router.GET("/live", h.Live)

	if s.config.Features.EnableDebugMode {
		s.router.GET("/debug/info", h.DebugInfo)
	}

	api := s.router.Group("/api")

	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/login", h.Login)
		authRoutes.POST("/refresh", h.RefreshToken)

		protected := authRoutes.Group("")
		protected.Use(h.AuthMiddleware())
		{
			protected.POST("/logout", h.Logout)
			protected.POST("/logout/all", h.LogoutAll)
			protected.GET("/profile", h.Profile)
			protected.GET("/sessions", h.GetSessions)
			protected.DELETE("/sessions/:id", h.RevokeSession)
		}
	}

	adminOrAuditor := h.RequireRole(models.RoleAdmin, models.RoleAuditor)

	users := api.Group("/users")
	users.Use(h.AuthMiddleware())
	{
		users.GET("/:id/audit-logs", adminOrAuditor, h.ListUserAuditLogs)

		admin := users.Group("")
		admin.Use(h.RequireRole(models.RoleAdmin))
		{
			admin.GET("", h.ListUsers)
			admin.POST("", h.CreateUser)
			admin.GET("/:id", h.GetUser)
			admin.PUT("/:id", h.UpdateUser)
			admin.DELETE("/:id", h.DeleteUser)

			admin.GET("/:id/systems", h.GetUserSystems)
			admin.POST("/:id/systems", h.GrantSystemAccess)
			admin.DELETE("/:id/systems/:systemId", h.RevokeSystemAccess)
		}
	}

	systems := api.Group("/systems")
	systems.Use(h.AuthMiddleware())
	{
		systems.GET("", h.ListSystems)
		systems.GET("/:id", h.RequireSystemAccess("id"), h.GetSystem)

		admin := systems.Group("")
		admin.Use(h.RequireRole(models.RoleAdmin))
		{
			admin.POST("", h.CreateSystem)
			admin.POST("/health-check", h.RunHealthCheck)
			admin.PUT("/:id", h.UpdateSystem)
			admin.DELETE("/:id", h.DeleteSystem)
		}
	}

	api.GET("/audit-logs", h.AuthMiddleware(), adminOrAuditor, h.ListAuditLogs)

	if s.config.Features.EnableSSO {
		ssoRoutes := api.Group("/sso")
		{
			ssoRoutes.GET("/login", h.SSOLogin)
			ssoRoutes.POST("/generate-url", h.AuthMiddleware(), h.RequireRole(models.RoleAdmin), h.GenerateSSOURL)

			if s.config.Features.EnableSSOTestEndpoint {
				s.logger.Warn("sso test endpoint enabled")
				ssoRoutes.GET("/test-encrypt", h.TestEncrypt)
			}
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", logging.Fields{
		"addr": s.srv.Addr,
	})
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}
