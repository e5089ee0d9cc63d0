package service

import (
	"context"
	"fmt"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository"
	"github.com/tm-acme-shop/acme-ops-portal/internal/sso"
)

var (
	// ErrSSOAuthFailed is returned when an inbound syn_login link does not
	// verify. The specific reason travels in an *SSOError.
	ErrSSOAuthFailed = errors.New("sso authentication failed")

	ErrSSOInvalidOp     = fmt.Errorf("%w: unsupported op", errors.ErrValidation)
	ErrSSOMissingParams = fmt.Errorf("%w: auth and u are required", errors.ErrValidation)
)

// SSOError wraps a failed parse with the reason reported by the codec.
type SSOError struct {
	Reason string
	Err    error
}

func (e *SSOError) Error() string {
	return fmt.Sprintf("sso: %s: %v", e.Reason, e.Err)
}

func (e *SSOError) Unwrap() []error {
	return []error{ErrSSOAuthFailed, e.Err}
}

// SSOService issues outbound syn_login links and completes inbound ones.
type SSOService struct {
	codec   *sso.Codec
	repo    repository.UserStore
	auth    *AuthService
	audit   *AuditService
	peerURL string
	logger  *logging.LoggerV2
}

// NewSSOService creates a new SSO service. peerURL is the link target used by
// TestLink.
func NewSSOService(codec *sso.Codec, repo repository.UserStore, authService *AuthService, audit *AuditService, peerURL string) *SSOService {
	return &SSOService{
		codec:   codec,
		repo:    repo,
		auth:    authService,
		audit:   audit,
		peerURL: peerURL,
		logger:  logging.NewLoggerV2("sso-service").WithField("sign_mode", string(codec.Mode())),
	}
}

// GenerateURL builds a syn_login link that logs username into the peer at
// req.TargetURL. The account must exist and be active.
func (s *SSOService) GenerateURL(ctx context.Context, actor *auth.JWTClaims, req *GenerateSSOURLRequest, info RequestInfo) (*GenerateSSOURLResponse, error) {
	if err := ValidateGenerateSSOURLRequest(req); err != nil {
		return nil, err
	}

	user, err := s.repo.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, errors.ErrUserInactive
	}

	ssoURL, err := s.codec.GenerateSSOURL(req.TargetURL, user.Username, info.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:       userRef(actor.UserID),
		Username:     actor.Username,
		Action:       ActionGenerateSSOURL,
		ResourceType: ResourceSSO,
		ResourceID:   user.ID,
		Details: map[string]interface{}{
			"target_username": user.Username,
			"target_url":      req.TargetURL,
		},
	}, info)

	s.logger.Info("sso url generated", logging.Fields{
		"actor":    actor.Username,
		"username": user.Username,
	})

	return &GenerateSSOURLResponse{
		SSOURL:    ssoURL,
		Username:  user.Username,
		TargetURL: req.TargetURL,
	}, nil
}

// CompleteLogin verifies an inbound syn_login request and opens a portal
// session for the user it names.
func (s *SSOService) CompleteLogin(ctx context.Context, req *SSOLoginRequest, info RequestInfo) (*LoginResponse, error) {
	if req.Op != sso.OpSynLogin {
		return nil, ErrSSOInvalidOp
	}
	if req.Auth == "" || req.U == "" {
		return nil, ErrSSOMissingParams
	}

	result := s.codec.ParseSSORequest(req.Auth, req.U, info.UserAgent)
	if !result.OK {
		s.logger.Warn("sso login rejected", logging.Fields{
			"reason":     result.Reason,
			"error":      result.Err.Error(),
			"ip_address": info.IPAddress,
		})
		s.audit.Record(ctx, AuditEntry{
			Action:       ActionSSOLoginFailed,
			ResourceType: ResourceSSO,
			Details:      map[string]interface{}{"reason": result.Reason},
		}, info)
		return nil, &SSOError{Reason: result.Reason, Err: result.Err}
	}

	user, err := s.repo.GetByUsername(ctx, result.Username)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			s.logger.Warn("sso login for unknown user", logging.Fields{"username": result.Username})
		}
		return nil, err
	}
	if !user.IsActive() {
		s.logger.Warn("sso login for disabled user", logging.Fields{"user_id": user.ID})
		return nil, errors.ErrUserInactive
	}

	var extra map[string]interface{}
	if info.Referer != "" {
		extra = map[string]interface{}{"source": info.Referer}
	}
	return s.auth.StartSession(ctx, user, MethodSSO, info, extra)
}

// TestLink generates a link for username against the configured peer without
// checking that the account exists. Development only.
func (s *SSOService) TestLink(username, userAgent string) (*TestLinkResponse, error) {
	username = SanitizeUsername(username)
	if username == "" {
		return nil, invalid("username is required")
	}
	if userAgent == "" {
		userAgent = sso.DefaultUserAgent
	}

	ssoURL, err := s.codec.GenerateSSOURL(s.peerURL, username, userAgent)
	if err != nil {
		return nil, err
	}

	return &TestLinkResponse{
		Username:  username,
		SSOURL:    ssoURL,
		UserAgent: userAgent,
	}, nil
}

// GenerateSSOURLRequest represents a request for an outbound link.
type GenerateSSOURLRequest struct {
	TargetURL string `json:"target_url"`
	Username  string `json:"username"`
}

// GenerateSSOURLResponse represents a generated outbound link.
type GenerateSSOURLResponse struct {
	SSOURL    string `json:"sso_url"`
	Username  string `json:"username"`
	TargetURL string `json:"target_url"`
}

// SSOLoginRequest carries the query of an inbound syn_login link.
type SSOLoginRequest struct {
	Op   string `form:"op"`
	Auth string `form:"auth"`
	U    string `form:"u"`
}

// TestLinkResponse is returned by the development test endpoint.
type TestLinkResponse struct {
	Username  string `json:"username"`
	SSOURL    string `json:"sso_url"`
	UserAgent string `json:"user_agent"`
}
