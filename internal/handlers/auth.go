package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/service"
)

// Login handles POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	h.logger.Info("login attempt", logging.Fields{
		"username":   req.Username,
		"ip_address": req.IPAddress,
	})

	response, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success:      true,
		User:         response.User,
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
		ExpiresIn:    response.ExpiresIn,
	})
}

// Logout handles POST /api/auth/logout
func (h *Handlers) Logout(c *gin.Context) {
	claims := currentClaims(c)

	if err := h.authService.Logout(c.Request.Context(), claims, requestInfo(c)); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

// LogoutAll handles POST /api/auth/logout/all
func (h *Handlers) LogoutAll(c *gin.Context) {
	claims := currentClaims(c)

	h.logger.Info("logout all", logging.Fields{"user_id": claims.UserID})

	if err := h.authService.LogoutAll(c.Request.Context(), claims.UserID); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "All sessions terminated",
	})
}

// RefreshToken handles POST /api/auth/refresh
func (h *Handlers) RefreshToken(c *gin.Context) {
	var req service.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "refresh_token is required",
		})
		return
	}

	response, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, RefreshTokenResponse{
		Success:     true,
		AccessToken: response.AccessToken,
		ExpiresIn:   response.ExpiresIn,
	})
}

// Profile handles GET /api/auth/profile
func (h *Handlers) Profile(c *gin.Context) {
	claims := currentClaims(c)

	user, err := h.authService.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		Success: true,
		Data:    user,
	})
}

// GetSessions handles GET /api/auth/sessions
func (h *Handlers) GetSessions(c *gin.Context) {
	claims := currentClaims(c)

	sessions, err := h.authService.GetSessions(c.Request.Context(), claims.UserID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SessionsResponse{
		Success:  true,
		Sessions: sessions,
	})
}

// RevokeSession handles DELETE /api/auth/sessions/:id
func (h *Handlers) RevokeSession(c *gin.Context) {
	claims := currentClaims(c)
	sessionID := c.Param("id")

	h.logger.Info("revoke session", logging.Fields{"session_id": sessionID})

	if err := h.authService.RevokeSession(c.Request.Context(), claims.UserID, sessionID); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Session revoked",
	})
}

// Request and response types

type LoginResponse struct {
	Success      bool         `json:"success"`
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
}

type RefreshTokenResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type SessionsResponse struct {
	Success  bool            `json:"success"`
	Sessions []*auth.Session `json:"sessions"`
}
