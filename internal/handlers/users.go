package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/service"
)

// GetUser handles GET /api/users/:id
func (h *Handlers) GetUser(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	user, err := h.userService.GetUser(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		Success: true,
		Data:    user,
	})
}

// CreateUser handles POST /api/users
func (h *Handlers) CreateUser(c *gin.Context) {
	var req service.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	h.logger.Info("CreateUser called", logging.Fields{
		"username": req.Username,
	})

	user, err := h.userService.CreateUser(c.Request.Context(), currentClaims(c), &req, requestInfo(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, UserResponse{
		Success: true,
		Data:    user,
	})
}

// UpdateUser handles PUT /api/users/:id
func (h *Handlers) UpdateUser(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	h.logger.Info("UpdateUser called", logging.Fields{"user_id": id})

	user, err := h.userService.UpdateUser(c.Request.Context(), currentClaims(c), id, &req, requestInfo(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		Success: true,
		Data:    user,
	})
}

// DeleteUser handles DELETE /api/users/:id
func (h *Handlers) DeleteUser(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	h.logger.Info("DeleteUser called", logging.Fields{"user_id": id})

	if err := h.userService.DeleteUser(c.Request.Context(), currentClaims(c), id, requestInfo(c)); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "User deleted successfully",
	})
}

// ListUsers handles GET /api/users
func (h *Handlers) ListUsers(c *gin.Context) {
	filter := h.parseUserListFilter(c)

	response, err := h.userService.ListUsers(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListUsersResponse{
		Success: true,
		Data:    response.Users,
		Meta: PaginationMeta{
			Total:  response.Total,
			Limit:  response.Limit,
			Offset: response.Offset,
		},
	})
}

func (h *Handlers) parseUserListFilter(c *gin.Context) *models.UserListFilter {
	filter := &models.UserListFilter{
		Limit:  h.parseIntQuery(c, "limit", 0),
		Offset: h.parseIntQuery(c, "offset", 0),
		Search: c.Query("search"),
	}

	if role := c.Query("role"); role != "" {
		r := models.UserRole(role)
		filter.Role = &r
	}

	if status := c.Query("status"); status != "" {
		s := models.UserStatus(status)
		filter.Status = &s
	}

	return filter
}

// Request and response types

type UserResponse struct {
	Success bool         `json:"success"`
	Data    *models.User `json:"data"`
}

type ListUsersResponse struct {
	Success bool           `json:"success"`
	Data    []*models.User `json:"data"`
	Meta    PaginationMeta `json:"meta"`
}
