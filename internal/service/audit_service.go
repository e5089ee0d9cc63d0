package service

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository"
)

// Audit actions.
const (
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionCreate         = "create"
	ActionUpdate         = "update"
	ActionDelete         = "delete"
	ActionGenerateSSOURL = "generate_sso_url"
	ActionSSOLoginFailed = "sso_login_failed"
	ActionGrantAccess    = "grant_access"
	ActionRevokeAccess   = "revoke_access"
)

// Audit resource types.
const (
	ResourceUser             = "user"
	ResourceSSO              = "sso"
	ResourceSystem           = "system"
	ResourceUserSystemAccess = "user_system_access"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// RequestInfo describes the client behind a request, for audit entries and
// sessions.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Referer   string
}

// AuditEntry is one action to record. UserID is nil for anonymous actions.
type AuditEntry struct {
	UserID       *int64
	Username     string
	Action       string
	ResourceType string
	ResourceID   int64
	Details      interface{}
}

// AuditService records and lists the audit trail.
type AuditService struct {
	store  repository.AuditStore
	logger *logging.LoggerV2
}

// NewAuditService creates a new audit service.
func NewAuditService(store repository.AuditStore) *AuditService {
	return &AuditService{
		store:  store,
		logger: logging.NewLoggerV2("audit-service"),
	}
}

// Record writes an audit entry. Failures are logged and never returned: a
// missing audit row must not undo the action it describes.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry, info RequestInfo) {
	log := &models.AuditLog{
		UserID:       entry.UserID,
		Username:     entry.Username,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		IPAddress:    info.IPAddress,
		UserAgent:    info.UserAgent,
	}
	if entry.ResourceID != 0 {
		log.ResourceID = strconv.FormatInt(entry.ResourceID, 10)
	}

	if entry.Details != nil {
		details, err := json.Marshal(entry.Details)
		if err != nil {
			s.logger.Warn("failed to encode audit details", logging.Fields{
				"action": entry.Action,
				"error":  err.Error(),
			})
		} else {
			log.Details = details
		}
	}

	if err := s.store.Record(ctx, log); err != nil {
		s.logger.WithContext(ctx).Error("failed to record audit log", logging.Fields{
			"action":   entry.Action,
			"username": entry.Username,
			"error":    err.Error(),
		})
	}
}

// List returns audit entries newest first.
func (s *AuditService) List(ctx context.Context, filter *models.AuditLogFilter) (*ListAuditLogsResponse, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	s.logger.Debug("listing audit logs", logging.Fields{
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})

	logs, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &ListAuditLogsResponse{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// ListAuditLogsResponse represents the response from listing audit logs.
type ListAuditLogsResponse struct {
	Logs   []*models.AuditLog `json:"logs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func userRef(id int64) *int64 {
	return &id
}
