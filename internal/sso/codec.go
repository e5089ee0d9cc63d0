// Package sso implements the legacy single sign-on bridge shared with the
// PHP back office: the sys_auth_old symmetric codec, the MD5 auth signature and
// the syn_login link format built from both.
//
// Every byte of the wire format is fixed by the peer. Do not "clean up" the key
// derivation or the substring arithmetic below without a capture from the peer
// to test against.
package sso

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxDeadline is the largest unix deadline the ten-digit expiry field holds.
	MaxDeadline int64 = 9999999999

	runtimeKeyLen   = 4
	expiryFieldLen  = 10
	integrityLen    = 16
	headerLen       = expiryFieldLen + integrityLen
	neverExpires    = "0000000000"
	digestHexLength = 32
)

// SharedSecret is the (SYS_KEY, SALT) pair configured identically on the
// portal and on the peer. It is loaded once and never mutated.
type SharedSecret struct {
	SysKey string
	Salt   string
}

// SignatureMode selects which identifier the auth signature is computed over.
type SignatureMode string

const (
	// SignEncoded signs the encoded username exactly as it travels in the u
	// parameter. This is what the peer's syn_login handler verifies.
	SignEncoded SignatureMode = "encoded"
	// SignPlain signs the raw username.
	SignPlain SignatureMode = "plain"
)

// ParseSignatureMode maps a configuration value to a SignatureMode.
func ParseSignatureMode(s string) (SignatureMode, bool) {
	switch SignatureMode(strings.ToLower(strings.TrimSpace(s))) {
	case SignEncoded, "":
		return SignEncoded, true
	case SignPlain:
		return SignPlain, true
	}
	return "", false
}

// DefaultUserAgent is signed into outbound links when the caller has none.
const DefaultUserAgent = "Mozilla/5.0"

// Codec holds the key material derived from a SharedSecret. It is immutable
// after construction and safe for concurrent use.
type Codec struct {
	secret        SharedSecret
	fixedKey      string
	integritySeed string
	mode          SignatureMode
	defaultUA     string
	now           func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock replaces the wall clock used for runtime keys and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithSignatureMode selects the signature variant. The default is SignEncoded.
func WithSignatureMode(mode SignatureMode) Option {
	return func(c *Codec) { c.mode = mode }
}

// WithDefaultUserAgent overrides DefaultUserAgent for outbound links.
func WithDefaultUserAgent(ua string) Option {
	return func(c *Codec) {
		if ua != "" {
			c.defaultUA = ua
		}
	}
}

// NewCodec derives the fixed key material from secret.
func NewCodec(secret SharedSecret, opts ...Option) (*Codec, error) {
	if secret.SysKey == "" {
		return nil, ErrEmptySecret
	}

	// fixedKey hashes the hex text of the first digest, not its raw bytes.
	fixedKey := md5Hex(md5Hex(secret.SysKey))

	c := &Codec{
		secret:        secret,
		fixedKey:      fixedKey,
		integritySeed: md5Hex(fixedKey[16:32]),
		mode:          SignEncoded,
		defaultUA:     DefaultUserAgent,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mode returns the configured signature variant.
func (c *Codec) Mode() SignatureMode {
	return c.mode
}

// Encode produces runtimeKey || base64(xor(expiry || integrity || plaintext))
// with padding stripped. expirySeconds of zero means the payload never expires;
// negative values produce an already-expired payload. Deadlines past
// MaxDeadline are clamped to it so the expiry field stays ten digits wide.
func (c *Codec) Encode(plaintext string, expirySeconds int64) string {
	now := c.now()
	runtimeKey := c.encodeRuntimeKey(now)

	var deadline int64
	if expirySeconds != 0 {
		deadline = clampDeadline(expirySeconds, now.Unix())
	}

	integrity := md5Hex(plaintext + c.integritySeed)[:integrityLen]

	body := make([]byte, 0, headerLen+len(plaintext))
	body = append(body, padExpiry(deadline)...)
	body = append(body, integrity...)
	body = append(body, plaintext...)

	xorStream(body, c.streamKey(runtimeKey))

	return runtimeKey + base64.RawStdEncoding.EncodeToString(body)
}

// Decode reverses Encode. It never panics: short input, bad base64, a non-numeric
// expiry field, a hash mismatch or an elapsed deadline all return an error and
// an empty string.
func (c *Codec) Decode(encoded string) (string, error) {
	if len(encoded) < runtimeKeyLen {
		return "", ErrMalformedInput
	}
	runtimeKey := encoded[:runtimeKeyLen]

	raw, err := decodeBase64(encoded[runtimeKeyLen:])
	if err != nil || len(raw) < headerLen {
		return "", ErrMalformedInput
	}

	xorStream(raw, c.streamKey(runtimeKey))

	deadline, ok := parseExpiry(raw[:expiryFieldLen])
	if !ok {
		return "", ErrMalformedInput
	}

	payload := raw[headerLen:]
	expected := md5Hex(string(payload) + c.integritySeed)[:integrityLen]
	if subtle.ConstantTimeCompare(raw[expiryFieldLen:headerLen], []byte(expected)) != 1 {
		return "", ErrIntegrity
	}

	if deadline != 0 && deadline <= c.now().Unix() {
		return "", ErrExpired
	}

	// The peer treats payloads as opaque bytes; callers get valid UTF-8.
	return strings.ToValidUTF8(string(payload), "\uFFFD"), nil
}

// encodeRuntimeKey takes the last four hex chars of MD5 over the current time
// rendered as fractional seconds ("1700000000.123").
func (c *Codec) encodeRuntimeKey(now time.Time) string {
	seconds := float64(now.UnixMilli()) / 1000
	digest := md5Hex(strconv.FormatFloat(seconds, 'f', -1, 64))
	return digest[digestHexLength-runtimeKeyLen:]
}

// streamKey is MD5(rk[0:16] + fixed[0:16] + rk[16:] + fixed[16:]). With a
// four-char runtime key the rk slices clamp to "rk" and "".
func (c *Codec) streamKey(runtimeKey string) []byte {
	material := substr(runtimeKey, 0, 16) +
		substr(c.fixedKey, 0, 16) +
		substr(runtimeKey, 16, len(runtimeKey)) +
		substr(c.fixedKey, 16, len(c.fixedKey))
	return []byte(md5Hex(material))
}

func xorStream(buf, key []byte) {
	for i := range buf {
		buf[i] ^= key[i%digestHexLength]
	}
}

// substr returns s[start:end] with both bounds clamped to len(s).
func substr(s string, start, end int) string {
	if start > len(s) {
		start = len(s)
	}
	if end > len(s) {
		end = len(s)
	}
	if end < start {
		return ""
	}
	return s[start:end]
}

// clampDeadline returns now+expirySeconds bounded to [1, MaxDeadline]. A
// deadline of zero would read back as "never expires".
func clampDeadline(expirySeconds, now int64) int64 {
	if expirySeconds > MaxDeadline-now {
		return MaxDeadline
	}
	deadline := now + expirySeconds
	if deadline < 1 {
		return 1
	}
	return deadline
}

func padExpiry(deadline int64) string {
	s := strconv.FormatInt(deadline, 10)
	if len(s) >= expiryFieldLen {
		return s
	}
	return strings.Repeat("0", expiryFieldLen-len(s)) + s
}

// parseExpiry accepts exactly ten ASCII digits. Encoders always emit that, so
// anything else is corruption.
func parseExpiry(field []byte) (int64, bool) {
	if string(field) == neverExpires {
		return 0, true
	}
	for _, b := range field {
		if b < '0' || b > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// decodeBase64 accepts the unpadded standard alphabet the peer emits. Spaces
// are read as '+', which is what form decoding does to an unescaped plus.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(restorePlus(s), "=")
	return base64.RawStdEncoding.DecodeString(s)
}

func restorePlus(s string) string {
	return strings.ReplaceAll(s, " ", "+")
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
