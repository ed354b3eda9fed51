package domain

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Claims is the decoded view of an access token. Valid is false when the
// token is absent, malformed, or carries no usable exp claim.
type Claims struct {
	Valid  bool
	Expiry time.Time
	// IssuedAt is zero when the token carries no iat claim.
	IssuedAt time.Time
}

// maxClaimSeconds is the last second of year 9999. Larger exp values do not
// convert to a time and are treated as garbage.
const maxClaimSeconds = 253402300799

type tokenClaims struct {
	Exp json.Number `json:"exp"`
	Iat json.Number `json:"iat"`
}

func DecodeClaims(token string) Claims {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return Claims{}
	}

	decoded, err := decodeSegment(parts[1])
	if err != nil {
		return Claims{}
	}

	var claims tokenClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}
	}
	if claims.Exp == "" {
		return Claims{}
	}

	exp, err := claims.Exp.Float64()
	if err != nil || exp <= 0 || exp > maxClaimSeconds {
		return Claims{}
	}

	result := Claims{Valid: true, Expiry: time.Unix(int64(exp), 0).UTC()}
	if iat, err := claims.Iat.Float64(); err == nil && iat > 0 && iat < exp {
		result.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}

	return result
}

// decodeSegment accepts both raw and padded base64url as well as standard
// base64, since issuers are not consistent about which one they emit.
func decodeSegment(segment string) ([]byte, error) {
	trimmed := strings.TrimRight(segment, "=")
	decoded, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err == nil {
		return decoded, nil
	}

	return base64.RawStdEncoding.DecodeString(trimmed)
}

func (c Claims) Remaining(now time.Time) time.Duration {
	if !c.Valid {
		return 0
	}
	return c.Expiry.Sub(now)
}

// LifetimeLeft is the share of the token lifetime still ahead of now, in
// [0, 1]. ok is false without an issued-at time.
func (c Claims) LifetimeLeft(now time.Time) (float64, bool) {
	if !c.Valid || c.IssuedAt.IsZero() {
		return 0, false
	}

	lifetime := c.Expiry.Sub(c.IssuedAt)
	left := float64(c.Expiry.Sub(now)) / float64(lifetime)
	return min(max(left, 0), 1), true
}
