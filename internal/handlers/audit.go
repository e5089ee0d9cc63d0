package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

// ListAuditLogs handles GET /api/audit-logs
func (h *Handlers) ListAuditLogs(c *gin.Context) {
	filter := &models.AuditLogFilter{
		Limit:  h.parseIntQuery(c, "limit", 0),
		Offset: h.parseIntQuery(c, "offset", 0),
		Action: c.Query("action"),
	}

	h.listAuditLogs(c, filter)
}

// ListUserAuditLogs handles GET /api/users/:id/audit-logs
func (h *Handlers) ListUserAuditLogs(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	h.listAuditLogs(c, &models.AuditLogFilter{
		Limit:  h.parseIntQuery(c, "limit", 0),
		Offset: h.parseIntQuery(c, "offset", 0),
		UserID: &id,
	})
}

func (h *Handlers) listAuditLogs(c *gin.Context, filter *models.AuditLogFilter) {
	response, err := h.auditService.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListAuditLogsResponse{
		Success: true,
		Data:    response.Logs,
		Meta: PaginationMeta{
			Total:  response.Total,
			Limit:  response.Limit,
			Offset: response.Offset,
		},
	})
}

type ListAuditLogsResponse struct {
	Success bool               `json:"success"`
	Data    []*models.AuditLog `json:"data"`
	Meta    PaginationMeta     `json:"meta"`
}
