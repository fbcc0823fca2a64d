// Package token issues and verifies the bearer tokens handed out by /unlock.
//
// A token is two base64url segments joined by a dot: the JSON payload
// {"sub": subject, "exp": expiry in epoch milliseconds} and an HMAC-SHA256 tag
// computed over the encoded payload. Tokens are never revoked; they expire.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MinSecretLength is the shortest signing secret NewCodec accepts
const MinSecretLength = 16

var b64 = base64.RawURLEncoding

// Claims is the verified content of a token
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Issued is the result of a successful Issue call
type Issued struct {
	Token     string
	Subject   string
	ExpiresAt time.Time
}

type payload struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"`
}

// Codec signs and verifies tokens with a single server secret
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Codec
type Option func(*Codec)

// WithClock overrides the clock used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec. A missing or short secret is a configuration error.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrServerMisconfig, MinSecretLength)
	}

	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject valid for ttl from now
func (c *Codec) Issue(subject string, ttl time.Duration) (Issued, error) {
	if subject == "" {
		return Issued{}, fmt.Errorf("subject is required")
	}

	// Millisecond precision is all the payload carries
	exp := c.now().Add(ttl).Truncate(time.Millisecond)

	raw, err := json.Marshal(payload{Sub: subject, Exp: exp.UnixMilli()})
	if err != nil {
		return Issued{}, fmt.Errorf("failed to marshal token payload: %w", err)
	}

	encoded := b64.EncodeToString(raw)
	return Issued{
		Token:     encoded + "." + c.sign(encoded),
		Subject:   subject,
		ExpiresAt: exp.UTC(),
	}, nil
}

// Verify checks the tag and expiry and returns the claims.
// Errors are ErrBadToken or ErrTokenExpired.
func (c *Codec) Verify(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrBadToken
	}
	encoded, tag := parts[0], parts[1]

	// Compare the encoded form so every character of the tag is significant
	if !hmac.Equal([]byte(c.sign(encoded)), []byte(tag)) {
		return Claims{}, ErrBadToken
	}

	raw, err := b64.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrBadToken
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Claims{}, ErrBadToken
	}
	if p.Sub == "" || p.Exp == 0 {
		return Claims{}, ErrBadToken
	}

	if c.now().UnixMilli() > p.Exp {
		return Claims{}, ErrTokenExpired
	}

	return Claims{
		Subject:   p.Sub,
		ExpiresAt: time.UnixMilli(p.Exp).UTC(),
	}, nil
}

func (c *Codec) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedPayload))
	return b64.EncodeToString(mac.Sum(nil))
}

// DeriveSubject maps a passphrase, and optionally a device id, to an opaque subject.
// Distinct devices sharing a passphrase get distinct subjects and quotas.
func DeriveSubject(passphrase, deviceID string) string {
	input := passphrase
	if deviceID != "" {
		input += "\x00" + deviceID
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:32]
}

// TTLFromDays converts a configured day count to a token lifetime, never less than a day
func TTLFromDays(days int) time.Duration {
	if days < 1 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}
