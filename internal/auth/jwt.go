package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tm-acme-shop/acme-ops-portal/internal/config"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

// TokenType distinguishes access tokens from refresh tokens signed with the
// same key.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// JWTClaims represents the claims in a JWT token.
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID    int64           `json:"user_id"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	Role      models.UserRole `json:"role"`
	SessionID string          `json:"session_id,omitempty"`
	TokenType TokenType       `json:"token_type"`
}

// TokenPair is issued on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
	logger     *logging.LoggerV2
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessExpires,
		refreshTTL: cfg.RefreshExpires,
		issuer:     cfg.Issuer,
		now:        time.Now,
		logger:     logging.NewLoggerV2("jwt-service"),
	}
}

// AccessTTL is the lifetime of access tokens.
func (s *JWTService) AccessTTL() time.Duration {
	return s.accessTTL
}

// GenerateToken generates an access token for a user.
func (s *JWTService) GenerateToken(user *models.User, sessionID string) (string, error) {
	return s.sign(user, sessionID, TokenTypeAccess, s.accessTTL)
}

// GenerateRefreshToken generates a refresh token bound to the same session.
func (s *JWTService) GenerateRefreshToken(user *models.User, sessionID string) (string, error) {
	return s.sign(user, sessionID, TokenTypeRefresh, s.refreshTTL)
}

// GeneratePair issues an access and a refresh token for one session.
func (s *JWTService) GeneratePair(user *models.User, sessionID string) (*TokenPair, error) {
	access, err := s.GenerateToken(user, sessionID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.GenerateRefreshToken(user, sessionID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

func (s *JWTService) sign(user *models.User, sessionID string, typ TokenType, ttl time.Duration) (string, error) {
	s.logger.Debug("generating JWT token", logging.Fields{
		"user_id":    user.ID,
		"session_id": sessionID,
		"token_type": typ,
	})

	now := s.now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		SessionID: sessionID,
		TokenType: typ,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.Error("failed to sign JWT token", logging.Fields{
			"error": err.Error(),
		})
		return "", err
	}

	return signedToken, nil
}

// ValidateToken validates an access token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*JWTClaims, error) {
	return s.validate(tokenString, TokenTypeAccess)
}

// ValidateRefreshToken validates a refresh token and returns the claims.
func (s *JWTService) ValidateRefreshToken(tokenString string) (*JWTClaims, error) {
	return s.validate(tokenString, TokenTypeRefresh)
}

func (s *JWTService) validate(tokenString string, want TokenType) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		s.logger.Warn("token validation failed", logging.Fields{
			"error": err.Error(),
		})
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidClaims
	}
	if claims.TokenType != want {
		return nil, ErrWrongTokenType
	}

	return claims, nil
}

// ExtractUserID extracts the user ID from a token without verifying it.
// Only for logging.
func (s *JWTService) ExtractUserID(tokenString string) int64 {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &JWTClaims{})
	if err != nil {
		return 0
	}

	if claims, ok := token.Claims.(*JWTClaims); ok {
		return claims.UserID
	}

	return 0
}
