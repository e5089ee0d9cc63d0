package sso

import (
	"fmt"
	"net/url"
)

// Query parameters of a syn_login link.
const (
	ParamOp       = "op"
	ParamAuth     = "auth"
	ParamUsername = "u"
	OpSynLogin    = "syn_login"
)

// ParseResult is the outcome of validating an inbound syn_login request.
// Either OK is set with Username, or Reason and Err describe the failure.
type ParseResult struct {
	OK       bool
	Username string
	Reason   string
	Err      error
}

// GenerateSSOURL encodes username without expiry, signs it for userAgent and
// merges op, auth and u into targetURL's query. An empty userAgent is replaced
// by the configured default.
func (c *Codec) GenerateSSOURL(targetURL, username, userAgent string) (string, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTargetURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidTargetURL, targetURL)
	}
	if userAgent == "" {
		userAgent = c.defaultUA
	}

	encoded := c.Encode(username, 0)
	auth := c.Sign(c.signedIdentifier(username, encoded), userAgent)

	q := target.Query()
	q.Set(ParamOp, OpSynLogin)
	q.Set(ParamAuth, auth)
	q.Set(ParamUsername, encoded)
	target.RawQuery = q.Encode()

	return target.String(), nil
}

// ParseSSORequest validates the auth signature and decodes the username. Both
// must succeed; there is no partial result. Spaces in encodedUsername are read
// back as '+' before either step, since the peer signs the unescaped value.
func (c *Codec) ParseSSORequest(auth, encodedUsername, userAgent string) ParseResult {
	encodedUsername = restorePlus(encodedUsername)

	if c.mode == SignPlain {
		// The identifier is the plaintext, so decoding has to come first.
		username, err := c.Decode(encodedUsername)
		if err != nil || username == "" {
			return decodeFailure(err)
		}
		if !c.Verify(auth, username, userAgent) {
			return signatureFailure()
		}
		return ParseResult{OK: true, Username: username}
	}

	if !c.Verify(auth, encodedUsername, userAgent) {
		return signatureFailure()
	}
	username, err := c.Decode(encodedUsername)
	if err != nil || username == "" {
		return decodeFailure(err)
	}
	return ParseResult{OK: true, Username: username}
}

func (c *Codec) signedIdentifier(username, encoded string) string {
	if c.mode == SignPlain {
		return username
	}
	return encoded
}

func signatureFailure() ParseResult {
	return ParseResult{Reason: ReasonSignature, Err: ErrSignatureMismatch}
}

func decodeFailure(err error) ParseResult {
	if err == nil {
		err = ErrMalformedInput
	}
	return ParseResult{Reason: ReasonDecode, Err: err}
}
