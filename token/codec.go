/*
Package token encodes and decodes the two presentation formats used for
in-person point redemption: a three-part pseudo-signed token rendered as a
QR code, and a 13-digit checksummed numeric code rendered as an EAN-13
barcode.

PURPOSE:
  Pure encoding/decoding. No storage dependencies: barcode *resolution*
  requires store lookups and lives with the resolver, not here.

QR WIRE FORMAT:
  base64url(header_json).base64url(payload_json).base64url(signature)
  ASCII, no embedded newlines. The payload carries
  {userId, iat, exp, purpose} with Unix-second timestamps.

SECURITY MODEL (read this):
  The "signature" is a deterministic digest of the first two segments plus
  the user id. It is obfuscation, NOT authentication: anyone who knows a
  userId can forge a token. Upgrading to a keyed MAC changes the wire
  format that staff scanners already accept, so it is deliberately left
  as-is. Do not rely on these tokens for anything beyond the in-store
  trust model.

EXPIRY:
  Tokens expire TTL (default 15 minutes) after issuance. Expiry is enforced
  at decode/validation time; nothing sweeps old tokens.
*/
package token

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is the stock token lifetime.
const DefaultTTL = 15 * time.Minute

var (
	// ErrMalformed is returned when a token cannot be decoded at all.
	// Scanning UX error: prompt a rescan.
	ErrMalformed = errors.New("token malformed")

	// ErrExpired is returned when a structurally valid token is past its
	// expiry.
	ErrExpired = errors.New("token expired")
)

// Purpose identifies what an issued token may be used for.
const PurposeRedemption = "points_redemption"

// Codec issues and decodes redemption tokens. The zero value is not usable;
// construct with NewCodec.
type Codec struct {
	ttl time.Duration
	now func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) { c.ttl = ttl }
}

// WithClock injects a clock, for tests exercising expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec builds a Codec with the default TTL and wall clock.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// QR TOKEN
// =============================================================================

type qrHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type qrPayload struct {
	UserID  string `json:"userId"`
	Iat     int64  `json:"iat"`
	Exp     int64  `json:"exp"`
	Purpose string `json:"purpose"`
}

// IssueQR builds a header/payload/signature triple for a user. The result
// is ASCII with no newlines, suitable for direct QR rendering.
func (c *Codec) IssueQR(userID string) string {
	issued := c.now()

	header, _ := json.Marshal(qrHeader{Alg: "B64-DIGEST", Typ: "LOYALTY"})
	payload, _ := json.Marshal(qrPayload{
		UserID:  userID,
		Iat:     issued.Unix(),
		Exp:     issued.Add(c.ttl).Unix(),
		Purpose: PurposeRedemption,
	})

	h := base64.RawURLEncoding.EncodeToString(header)
	p := base64.RawURLEncoding.EncodeToString(payload)
	return h + "." + p + "." + c.sign(h, p, userID)
}

// DecodeQR recovers the user id from a QR token. Returns ErrMalformed for
// structural problems and ErrExpired once the payload's exp has passed.
func (c *Codec) DecodeQR(s string) (string, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: payload segment: %v", ErrMalformed, err)
	}
	var payload qrPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: payload json: %v", ErrMalformed, err)
	}
	if payload.UserID == "" {
		return "", fmt.Errorf("%w: empty userId", ErrMalformed)
	}
	if !c.now().Before(time.Unix(payload.Exp, 0)) {
		return "", fmt.Errorf("%w: exp %d", ErrExpired, payload.Exp)
	}
	return payload.UserID, nil
}

// sign produces the pseudo-signature segment. Deterministic and key-less;
// see the package comment for why this is not real signing.
func (c *Codec) sign(headerB64, payloadB64, userID string) string {
	sum := sha256.Sum256([]byte(headerB64 + "." + payloadB64 + "." + userID))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ExpiresAt returns the expiry a token issued now would carry. The
// Transactor stores this next to the issued code.
func (c *Codec) ExpiresAt() time.Time {
	return c.now().Add(c.ttl)
}

// Now exposes the codec's clock so callers share its notion of time.
func (c *Codec) Now() time.Time { return c.now() }
