package auth

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
)

const (
	sessionPrefix     = "session:"
	userSessionPrefix = "user_sessions:"
)

// Session represents a login session. Access and refresh tokens carry its ID;
// deleting it invalidates both.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Active    bool      `json:"active"`
}

// NewSession describes a session to create.
type NewSession struct {
	UserID    int64
	Username  string
	Role      string
	Method    string
	IPAddress string
	UserAgent string
}

// SessionService stores sessions in Redis.
type SessionService struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *logging.LoggerV2
}

// NewSessionService creates a session service. ttl should match the refresh
// token lifetime so a valid refresh token always finds its session.
func NewSessionService(client *redis.Client, ttl time.Duration) *SessionService {
	return &SessionService{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		logger: logging.NewLoggerV2("session-service"),
	}
}

func userSessionsKey(userID int64) string {
	return userSessionPrefix + strconv.FormatInt(userID, 10)
}

// Create creates a new session for a user.
func (s *SessionService) Create(ctx context.Context, req NewSession) (*Session, error) {
	now := s.now()
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Username:  req.Username,
		Role:      req.Role,
		Method:    req.Method,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Active:    true,
	}

	s.logger.Info("creating session", logging.Fields{
		"session_id": session.ID,
		"user_id":    session.UserID,
		"method":     session.Method,
	})

	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionPrefix+session.ID, data, s.ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
	pipe.Expire(ctx, userSessionsKey(session.UserID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to create session", logging.Fields{
			"error": err.Error(),
		})
		return nil, err
	}

	return session, nil
}

// Get retrieves an active session by ID.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		logging.Errorf("failed to get session %s: %v", sessionID, err)
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, ErrSessionInvalid
	}

	if s.now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	if !session.Active {
		return nil, ErrSessionInvalid
	}

	return &session, nil
}

// Delete deletes a session (logout).
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	s.logger.Info("deleting session", logging.Fields{"session_id": sessionID})

	session, err := s.Get(ctx, sessionID)
	if err != nil && err != ErrSessionExpired && err != ErrSessionInvalid {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionPrefix+sessionID)
	if session != nil {
		pipe.SRem(ctx, userSessionsKey(session.UserID), sessionID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteAllForUser deletes all sessions for a user.
func (s *SessionService) DeleteAllForUser(ctx context.Context, userID int64) error {
	s.logger.Info("deleting all sessions for user", logging.Fields{"user_id": userID})

	key := userSessionsKey(userID)
	sessionIDs, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		keys = append(keys, sessionPrefix+id)
	}
	keys = append(keys, key)

	return s.client.Del(ctx, keys...).Err()
}

// ListForUser lists all active sessions for a user, pruning stale IDs.
func (s *SessionService) ListForUser(ctx context.Context, userID int64) ([]*Session, error) {
	key := userSessionsKey(userID)
	sessionIDs, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	sessions := []*Session{}
	for _, sessionID := range sessionIDs {
		session, err := s.Get(ctx, sessionID)
		if err != nil {
			s.client.SRem(ctx, key, sessionID)
			continue
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// Revoke marks a session as inactive without deleting it, so it still shows
// up in Redis until it would have expired.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	session.Active = false

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	ttl := session.ExpiresAt.Sub(s.now())
	return s.client.Set(ctx, sessionPrefix+sessionID, data, ttl).Err()
}

// Ping checks if the session store is accessible.
func (s *SessionService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
