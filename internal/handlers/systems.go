package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/service"
)

// RequireSystemAccess lets the request through only when the authenticated
// user may open the system named by the given path parameter. Admins and
// auditors always pass. It must run after AuthMiddleware.
func (h *Handlers) RequireSystemAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := currentClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Success: false,
				Error:   "Not authenticated",
			})
			return
		}

		systemID, ok := h.parseIDParam(c, param)
		if !ok {
			c.Abort()
			return
		}

		if err := h.systemService.CheckAccess(c.Request.Context(), claims, systemID); err != nil {
			h.handleError(c, err)
			c.Abort()
			return
		}

		c.Next()
	}
}

// ListSystems handles GET /api/systems
func (h *Handlers) ListSystems(c *gin.Context) {
	systems, err := h.systemService.ListSystems(c.Request.Context(), currentClaims(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListSystemsResponse{
		Success: true,
		Data:    systems,
	})
}

// GetSystem handles GET /api/systems/:id
func (h *Handlers) GetSystem(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	system, err := h.systemService.GetSystem(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SystemResponse{
		Success: true,
		Data:    system,
	})
}

// CreateSystem handles POST /api/systems
func (h *Handlers) CreateSystem(c *gin.Context) {
	var req models.SystemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	h.logger.Info("CreateSystem called", logging.Fields{"name": req.Name})

	system, err := h.systemService.CreateSystem(c.Request.Context(), currentClaims(c), &req, requestInfo(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SystemResponse{
		Success: true,
		Data:    system,
	})
}

// UpdateSystem handles PUT /api/systems/:id
func (h *Handlers) UpdateSystem(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req models.SystemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	system, err := h.systemService.UpdateSystem(c.Request.Context(), currentClaims(c), id, &req, requestInfo(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SystemResponse{
		Success: true,
		Data:    system,
	})
}

// DeleteSystem handles DELETE /api/systems/:id
func (h *Handlers) DeleteSystem(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.systemService.DeleteSystem(c.Request.Context(), currentClaims(c), id, requestInfo(c)); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "System deleted successfully",
	})
}

// RunHealthCheck handles POST /api/systems/health-check
func (h *Handlers) RunHealthCheck(c *gin.Context) {
	results, err := h.systemService.RunHealthCheck(c.Request.Context(), currentClaims(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, HealthCheckResponse{
		Success: true,
		Data:    results,
	})
}

// GetUserSystems handles GET /api/users/:id/systems
func (h *Handlers) GetUserSystems(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	resp, err := h.systemService.GetUserSystems(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, UserSystemsResponse{
		Success: true,
		Data:    resp,
	})
}

// GrantSystemAccess handles POST /api/users/:id/systems
func (h *Handlers) GrantSystemAccess(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req service.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	if err := h.systemService.GrantAccess(c.Request.Context(), currentClaims(c), id, &req, requestInfo(c)); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Access granted",
	})
}

// RevokeSystemAccess handles DELETE /api/users/:id/systems/:systemId
func (h *Handlers) RevokeSystemAccess(c *gin.Context) {
	userID, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}
	systemID, ok := h.parseIDParam(c, "systemId")
	if !ok {
		return
	}

	if err := h.systemService.RevokeAccess(c.Request.Context(), currentClaims(c), userID, systemID, requestInfo(c)); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Access revoked",
	})
}

type SystemResponse struct {
	Success bool           `json:"success"`
	Data    *models.System `json:"data"`
}

type ListSystemsResponse struct {
	Success bool             `json:"success"`
	Data    []*models.System `json:"data"`
}

type HealthCheckResponse struct {
	Success bool                   `json:"success"`
	Data    []*models.HealthResult `json:"data"`
}

type UserSystemsResponse struct {
	Success bool                         `json:"success"`
	Data    *service.UserSystemsResponse `json:"data"`
}
