package sso

import "errors"

// Failure taxonomy of the legacy bridge. None of these are fatal; callers map
// them to 400/401 responses.
var (
	ErrSignatureMismatch = errors.New("sso: signature mismatch")
	ErrIntegrity         = errors.New("sso: payload integrity check failed")
	ErrExpired           = errors.New("sso: payload expired")
	ErrMalformedInput    = errors.New("sso: malformed input")
	ErrEmptySecret       = errors.New("sso: shared key must not be empty")
	ErrInvalidTargetURL  = errors.New("sso: invalid target url")
)

// Human-readable reasons returned by ParseSSORequest. The peer system and the
// portal's operators both know these strings.
const (
	ReasonSignature = "auth认证失败"
	ReasonDecode    = "用户解码失败"
)
