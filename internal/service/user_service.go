package service

import (
	"context"
	"fmt"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/config"
	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository"
)

const (
	defaultUserLimit = 100
	maxUserLimit     = 500
)

// ErrCannotDeleteSelf is returned when an admin tries to delete the account
// they are logged in with.
var ErrCannotDeleteSelf = fmt.Errorf("%w: cannot delete own account", errors.ErrValidation)

// UserService provides user management operations.
type UserService struct {
	repo            repository.UserStore
	passwordService *auth.PasswordService
	sessionService  *auth.SessionService
	audit           *AuditService
	logger          *logging.LoggerV2
}

// NewUserService creates a new user service. repo is usually a
// CachedUserStore.
func NewUserService(
	repo repository.UserStore,
	passwordService *auth.PasswordService,
	sessionService *auth.SessionService,
	audit *AuditService,
) *UserService {
	return &UserService{
		repo:            repo,
		passwordService: passwordService,
		sessionService:  sessionService,
		audit:           audit,
		logger:          logging.NewLoggerV2("user-service"),
	}
}

// GetUser retrieves a user by ID.
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.logger.Debug("getting user", logging.Fields{"user_id": id})

	return s.repo.GetByID(ctx, id)
}

// CreateUser creates a new account.
func (s *UserService) CreateUser(ctx context.Context, actor *auth.JWTClaims, req *CreateUserRequest, info RequestInfo) (*models.User, error) {
	if err := ValidateCreateUserRequest(req); err != nil {
		return nil, err
	}

	s.logger.Info("creating user", logging.Fields{
		"username": req.Username,
		"role":     req.Role,
	})

	hashedPassword, err := s.passwordService.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.Create(ctx, &models.CreateUserRequest{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Password: hashedPassword,
		Role:     req.Role,
		Status:   req.Status,
	})
	if err != nil {
		s.logger.Error("failed to create user", logging.Fields{
			"username": req.Username,
			"error":    err.Error(),
		})
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionCreate,
		ResourceType: ResourceUser,
		ResourceID:   user.ID,
		Details: map[string]interface{}{
			"username": user.Username,
			"role":     user.Role,
		},
	}, info)

	s.logger.Info("user created", logging.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	})

	return user, nil
}

// UpdateUser applies the fields present in req. Disabling an account also
// ends its sessions.
func (s *UserService) UpdateUser(ctx context.Context, actor *auth.JWTClaims, id int64, req *models.UpdateUserRequest, info RequestInfo) (*models.User, error) {
	if err := ValidateUpdateUserRequest(req); err != nil {
		return nil, err
	}

	s.logger.Info("updating user", logging.Fields{"user_id": id})

	update := *req
	if req.Password != nil {
		hash, err := s.passwordService.HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		update.Password = &hash
	}

	user, err := s.repo.Update(ctx, id, &update)
	if err != nil {
		return nil, err
	}

	if !user.IsActive() || req.Password != nil {
		s.endSessions(ctx, id)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionUpdate,
		ResourceType: ResourceUser,
		ResourceID:   user.ID,
		Details: map[string]interface{}{
			"username": user.Username,
			"role":     user.Role,
			"status":   user.Status,
		},
	}, info)

	return user, nil
}

// DeleteUser removes an account. An admin cannot delete themselves.
func (s *UserService) DeleteUser(ctx context.Context, actor *auth.JWTClaims, id int64, info RequestInfo) error {
	if id == actor.UserID {
		return ErrCannotDeleteSelf
	}

	s.logger.Info("deleting user", logging.Fields{"user_id": id})

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.endSessions(ctx, id)

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionDelete,
		ResourceType: ResourceUser,
		ResourceID:   id,
		Details:      map[string]interface{}{"username": user.Username},
	}, info)

	return nil
}

// ListUsers retrieves users based on filter criteria, newest first.
func (s *UserService) ListUsers(ctx context.Context, filter *models.UserListFilter) (*ListUsersResponse, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultUserLimit
	}
	if filter.Limit > maxUserLimit {
		filter.Limit = maxUserLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	s.logger.Debug("listing users", logging.Fields{
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &ListUsersResponse{
		Users:  users,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// EnsureAdmin creates the bootstrap administrator when no account with that
// username exists yet. It reports whether an account was created.
func (s *UserService) EnsureAdmin(ctx context.Context, cfg config.BootstrapConfig) (bool, error) {
	if cfg.AdminUsername == "" {
		return false, nil
	}

	_, err := s.repo.GetByUsername(ctx, cfg.AdminUsername)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return false, err
	}

	hash, err := s.passwordService.HashPassword(cfg.AdminPassword)
	if err != nil {
		return false, err
	}

	user, err := s.repo.Create(ctx, &models.CreateUserRequest{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		FullName: "Administrator",
		Password: hash,
		Role:     models.RoleAdmin,
		Status:   models.StatusActive,
	})
	if err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	s.logger.Warn("bootstrap administrator created, change its password", logging.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	})
	return true, nil
}

func (s *UserService) endSessions(ctx context.Context, userID int64) {
	if err := s.sessionService.DeleteAllForUser(ctx, userID); err != nil {
		s.logger.Warn("failed to end sessions", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

// CreateUserRequest represents a request to create a user.
type CreateUserRequest struct {
	Username string            `json:"username"`
	Password string            `json:"password"`
	Email    string            `json:"email"`
	FullName string            `json:"full_name"`
	Role     models.UserRole   `json:"role"`
	Status   models.UserStatus `json:"status"`
}

// ListUsersResponse represents the response from listing users.
type ListUsersResponse struct {
	Users  []*models.User `json:"users"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}
