package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/config"
	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/service"
)

// ReadinessCheck is a named dependency pinged by GET /ready.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handlers holds all HTTP handlers for the portal.
type Handlers struct {
	userService   *service.UserService
	authService   *service.AuthService
	ssoService    *service.SSOService
	auditService  *service.AuditService
	systemService *service.SystemService
	config        *config.Config
	checks        []ReadinessCheck
	logger        *logging.LoggerV2
}

// NewHandlers creates a new handlers instance. ssoService may be nil when the
// SSO bridge is disabled.
func NewHandlers(
	userService *service.UserService,
	authService *service.AuthService,
	ssoService *service.SSOService,
	auditService *service.AuditService,
	systemService *service.SystemService,
	cfg *config.Config,
	checks ...ReadinessCheck,
) *Handlers {
	return &Handlers{
		userService:   userService,
		authService:   authService,
		ssoService:    ssoService,
		auditService:  auditService,
		systemService: systemService,
		config:        cfg,
		checks:        checks,
		logger:        logging.NewLoggerV2("handlers"),
	}
}

func (h *Handlers) parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// parseIDParam reads a numeric path parameter. It writes the 400 response
// itself and returns false when the value is not a positive integer.
func (h *Handlers) parseIDParam(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid " + key,
		})
		return 0, false
	}
	return id, true
}

func requestInfo(c *gin.Context) service.RequestInfo {
	return service.RequestInfo{
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		Referer:   c.GetHeader("Referer"),
	}
}

func (h *Handlers) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Success: false,
			Error:   "Resource not found",
		})
	case errors.Is(err, errors.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Success: false,
			Error:   "Invalid credentials",
		})
	case errors.Is(err, errors.ErrUserInactive):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Success: false,
			Error:   "User account is inactive",
		})
	case errors.Is(err, errors.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Success: false,
			Error:   "Forbidden",
		})
	case errors.Is(err, errors.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   err.Error(),
		})
	case errors.Is(err, errors.ErrConflict):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Username already exists",
		})
	case isTokenError(err):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Success: false,
			Error:   "Invalid or expired token",
		})
	default:
		h.logger.WithContext(c.Request.Context()).Error("handler error", logging.Fields{
			"error": err.Error(),
			"path":  c.FullPath(),
		})
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Error:   "Internal server error",
		})
	}
}

func isTokenError(err error) bool {
	for _, target := range []error{
		auth.ErrInvalidToken,
		auth.ErrExpiredToken,
		auth.ErrInvalidClaims,
		auth.ErrWrongTokenType,
		auth.ErrSessionNotFound,
		auth.ErrSessionExpired,
		auth.ErrSessionInvalid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Response types shared by all handlers.

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type PaginationMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
