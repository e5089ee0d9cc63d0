package service

import (
	"context"
	"time"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository"
)

// Login methods recorded on sessions and in audit details.
const (
	MethodPassword = "password"
	MethodSSO      = "sso"
)

// AuthService provides authentication operations.
type AuthService struct {
	repo            repository.UserStore
	passwordService *auth.PasswordService
	jwtService      *auth.JWTService
	sessionService  *auth.SessionService
	audit           *AuditService
	now             func() time.Time
	logger          *logging.LoggerV2
}

// NewAuthService creates a new authentication service.
func NewAuthService(
	repo repository.UserStore,
	passwordService *auth.PasswordService,
	jwtService *auth.JWTService,
	sessionService *auth.SessionService,
	audit *AuditService,
) *AuthService {
	return &AuthService{
		repo:            repo,
		passwordService: passwordService,
		jwtService:      jwtService,
		sessionService:  sessionService,
		audit:           audit,
		now:             time.Now,
		logger:          logging.NewLoggerV2("auth-service"),
	}
}

// Login authenticates a user by username and password. Disabled accounts are
// rejected before the password is checked.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if err := ValidateLoginRequest(req); err != nil {
		return nil, err
	}

	s.logger.Info("login attempt", logging.Fields{
		"username": req.Username,
	})

	user, err := s.repo.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			s.logger.Warn("login failed - user not found", logging.Fields{
				"username": req.Username,
			})
			return nil, errors.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive() {
		s.logger.Warn("login failed - user inactive", logging.Fields{
			"user_id": user.ID,
		})
		return nil, errors.ErrUserInactive
	}

	hash, err := s.repo.GetPasswordHash(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if !s.passwordService.CheckPassword(req.Password, hash) {
		s.logger.Warn("login failed - invalid password", logging.Fields{
			"user_id": user.ID,
		})
		return nil, errors.ErrInvalidCredentials
	}

	return s.StartSession(ctx, user, MethodPassword, RequestInfo{
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	}, nil)
}

// StartSession opens a session for an already authenticated user, issues its
// token pair, stamps the last login time and writes the login audit entry.
// extra is merged into the audit details next to the method.
func (s *AuthService) StartSession(ctx context.Context, user *models.User, method string, info RequestInfo, extra map[string]interface{}) (*LoginResponse, error) {
	session, err := s.sessionService.Create(ctx, auth.NewSession{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      string(user.Role),
		Method:    method,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := s.jwtService.GeneratePair(user, session.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", logging.Fields{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	} else {
		user.LastLoginAt = &now
	}

	details := map[string]interface{}{"method": method}
	for k, v := range extra {
		details[k] = v
	}
	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(user.ID),
		Username:     user.Username,
		Action:       ActionLogin,
		ResourceType: ResourceUser,
		ResourceID:   user.ID,
		Details:      details,
	}, info)

	s.logger.Info("login successful", logging.Fields{
		"user_id":    user.ID,
		"session_id": session.ID,
		"method":     method,
	})

	return &LoginResponse{
		User:         user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
		SessionID:    session.ID,
	}, nil
}

// Logout invalidates the session behind claims.
func (s *AuthService) Logout(ctx context.Context, claims *auth.JWTClaims, info RequestInfo) error {
	s.logger.Info("logout", logging.Fields{"session_id": claims.SessionID})

	if claims.SessionID != "" {
		if err := s.sessionService.Delete(ctx, claims.SessionID); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
			return err
		}
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(claims.UserID),
		Username:     claims.Username,
		Action:       ActionLogout,
		ResourceType: ResourceUser,
		ResourceID:   claims.UserID,
	}, info)

	return nil
}

// LogoutAll invalidates all sessions for a user.
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) error {
	s.logger.Info("logout all", logging.Fields{"user_id": userID})

	return s.sessionService.DeleteAllForUser(ctx, userID)
}

// ValidateToken validates an access token and checks that its session is
// still active.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*auth.JWTClaims, error) {
	claims, err := s.jwtService.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	if claims.SessionID != "" {
		if _, err := s.sessionService.Get(ctx, claims.SessionID); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

// Refresh exchanges a refresh token for a new access token. The session must
// still exist and the account must still be active.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshTokenResponse, error) {
	if refreshToken == "" {
		return nil, invalid("refresh_token is required")
	}

	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionService.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, auth.ErrSessionInvalid
		}
		return nil, err
	}
	if !user.IsActive() {
		return nil, errors.ErrUserInactive
	}

	token, err := s.jwtService.GenerateToken(user, session.ID)
	if err != nil {
		return nil, err
	}

	return &RefreshTokenResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.jwtService.AccessTTL() / time.Second),
	}, nil
}

// Profile returns the current user's account.
func (s *AuthService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	return s.repo.GetByID(ctx, userID)
}

// GetSessions returns all active sessions for a user.
func (s *AuthService) GetSessions(ctx context.Context, userID int64) ([]*auth.Session, error) {
	return s.sessionService.ListForUser(ctx, userID)
}

// RevokeSession revokes one of the user's own sessions.
func (s *AuthService) RevokeSession(ctx context.Context, userID int64, sessionID string) error {
	session, err := s.sessionService.Get(ctx, sessionID)
	if errors.Is(err, auth.ErrSessionNotFound) {
		return errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return errors.ErrNotFound
	}
	return s.sessionService.Revoke(ctx, sessionID)
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse represents a login response.
type LoginResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	SessionID    string       `json:"-"`
}

// RefreshTokenRequest represents a token refresh request.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokenResponse represents a token refresh response.
type RefreshTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
