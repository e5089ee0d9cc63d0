package service

import (
	"context"
	"fmt"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository"
)

// ErrGrantNotNeeded is returned when access is granted to an admin or
// auditor, who can already open every system.
var ErrGrantNotNeeded = fmt.Errorf("%w: admins and auditors can access every system without a grant", errors.ErrValidation)

// HealthChecker checks every active system and stores the results.
type HealthChecker interface {
	CheckAll(ctx context.Context) ([]*models.HealthResult, error)
}

// SystemService manages the systems registry and who may open each system.
type SystemService struct {
	systems repository.SystemStore
	users   repository.UserStore
	checker HealthChecker
	audit   *AuditService
	logger  *logging.LoggerV2
}

// NewSystemService creates a new system service.
func NewSystemService(
	systems repository.SystemStore,
	users repository.UserStore,
	checker HealthChecker,
	audit *AuditService,
) *SystemService {
	return &SystemService{
		systems: systems,
		users:   users,
		checker: checker,
		audit:   audit,
		logger:  logging.NewLoggerV2("system-service"),
	}
}

// HasAllAccess reports whether role can open every system without a grant.
func HasAllAccess(role models.UserRole) bool {
	return role == models.RoleAdmin || role == models.RoleAuditor
}

// ListSystems returns the systems viewer may open, in display order.
func (s *SystemService) ListSystems(ctx context.Context, viewer *auth.JWTClaims) ([]*models.System, error) {
	if HasAllAccess(viewer.Role) {
		return s.systems.List(ctx)
	}
	return s.systems.ListForUser(ctx, viewer.UserID)
}

// GetSystem retrieves a system by ID.
func (s *SystemService) GetSystem(ctx context.Context, id int64) (*models.System, error) {
	return s.systems.GetByID(ctx, id)
}

// CheckAccess returns ErrForbidden unless viewer may open systemID.
func (s *SystemService) CheckAccess(ctx context.Context, viewer *auth.JWTClaims, systemID int64) error {
	if HasAllAccess(viewer.Role) {
		return nil
	}

	ok, err := s.systems.HasAccess(ctx, viewer.UserID, systemID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("system access denied", logging.Fields{
			"user_id":   viewer.UserID,
			"system_id": systemID,
		})
		return errors.ErrForbidden
	}
	return nil
}

// CreateSystem registers a system.
func (s *SystemService) CreateSystem(ctx context.Context, actor *auth.JWTClaims, req *models.SystemRequest, info RequestInfo) (*models.System, error) {
	if err := ValidateSystemRequest(req); err != nil {
		return nil, err
	}

	system, err := s.systems.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionCreate,
		ResourceType: ResourceSystem,
		ResourceID:   system.ID,
		Details: map[string]interface{}{
			"name": system.Name,
			"url":  system.URL,
		},
	}, info)

	s.logger.Info("system created", logging.Fields{
		"system_id": system.ID,
		"name":      system.Name,
	})
	return system, nil
}

// UpdateSystem replaces every editable field of a system.
func (s *SystemService) UpdateSystem(ctx context.Context, actor *auth.JWTClaims, id int64, req *models.SystemRequest, info RequestInfo) (*models.System, error) {
	if err := ValidateSystemRequest(req); err != nil {
		return nil, err
	}

	system, err := s.systems.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionUpdate,
		ResourceType: ResourceSystem,
		ResourceID:   id,
		Details: map[string]interface{}{
			"name":   system.Name,
			"url":    system.URL,
			"status": system.Status,
		},
	}, info)
	return system, nil
}

// DeleteSystem removes a system along with its grants.
func (s *SystemService) DeleteSystem(ctx context.Context, actor *auth.JWTClaims, id int64, info RequestInfo) error {
	system, err := s.systems.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.systems.Delete(ctx, id); err != nil {
		return err
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionDelete,
		ResourceType: ResourceSystem,
		ResourceID:   id,
		Details:      map[string]interface{}{"name": system.Name},
	}, info)
	return nil
}

// RunHealthCheck checks every active system now instead of waiting for the
// next scheduled run.
func (s *SystemService) RunHealthCheck(ctx context.Context, actor *auth.JWTClaims) ([]*models.HealthResult, error) {
	s.logger.Info("manual health check requested", logging.Fields{"user_id": actor.UserID})

	results, err := s.checker.CheckAll(ctx)
	if err != nil && results == nil {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("health check stored partial results", logging.Fields{"error": err.Error()})
	}
	return results, nil
}

// GetUserSystems lists what userID may open. Admins and auditors get every
// system with HasAllAccess set; everyone else gets their grants.
func (s *SystemService) GetUserSystems(ctx context.Context, userID int64) (*UserSystemsResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := &UserSystemsResponse{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}

	if HasAllAccess(user.Role) {
		systems, err := s.systems.List(ctx)
		if err != nil {
			return nil, err
		}
		resp.HasAllAccess = true
		resp.Systems = make([]*models.SystemGrant, 0, len(systems))
		for _, system := range systems {
			resp.Systems = append(resp.Systems, &models.SystemGrant{SystemID: system.ID, Name: system.Name})
		}
		return resp, nil
	}

	resp.Systems, err = s.systems.ListGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GrantAccess lets userID open every system in req. Grants that already exist
// are kept unchanged.
func (s *SystemService) GrantAccess(ctx context.Context, actor *auth.JWTClaims, userID int64, req *GrantAccessRequest, info RequestInfo) error {
	if err := ValidateGrantAccessRequest(req); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if HasAllAccess(user.Role) {
		return ErrGrantNotNeeded
	}

	if err := s.systems.Grant(ctx, userID, req.SystemIDs, actor.UserID); err != nil {
		return err
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionGrantAccess,
		ResourceType: ResourceUserSystemAccess,
		ResourceID:   userID,
		Details:      map[string]interface{}{"system_ids": req.SystemIDs},
	}, info)

	s.logger.Info("system access granted", logging.Fields{
		"user_id":    userID,
		"system_ids": req.SystemIDs,
	})
	return nil
}

// RevokeAccess removes one grant. A missing grant is ErrNotFound.
func (s *SystemService) RevokeAccess(ctx context.Context, actor *auth.JWTClaims, userID, systemID int64, info RequestInfo) error {
	if err := s.systems.Revoke(ctx, userID, systemID); err != nil {
		return err
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionRevokeAccess,
		ResourceType: ResourceUserSystemAccess,
		ResourceID:   userID,
		Details:      map[string]interface{}{"system_id": systemID},
	}, info)
	return nil
}

// GrantAccessRequest is the body of POST /api/users/:id/systems.
type GrantAccessRequest struct {
	SystemIDs []int64 `json:"system_ids"`
}

// UserSystemsResponse describes what one user may open.
type UserSystemsResponse struct {
	UserID       int64                 `json:"user_id"`
	Username     string                `json:"username"`
	Role         models.UserRole       `json:"role"`
	HasAllAccess bool                  `json:"has_all_access"`
	Systems      []*models.SystemGrant `json:"systems"`
}
