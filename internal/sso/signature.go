package sso

import "crypto/subtle"

// Sign computes md5(md5(SALT + identifier + SYS_KEY) + userAgent) as lowercase
// hex. It is deterministic: no clock, no randomness.
func (c *Codec) Sign(identifier, userAgent string) string {
	inner := md5Hex(c.secret.Salt + identifier + c.secret.SysKey)
	return md5Hex(inner + userAgent)
}

// Verify recomputes the signature and compares it in constant time. A
// signature of the wrong length never matches.
func (c *Codec) Verify(signature, identifier, userAgent string) bool {
	expected := c.Sign(identifier, userAgent)
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}
