package token

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryFromJWT extracts the "exp" claim of a JWT credential as epoch milliseconds.
// The signature is NOT verified: the value is only used as a fallback expiry hint
// for payloads that omit expirationTime, never for authorization.
func ExpiryFromJWT(raw string) (int64, bool) {
	if strings.Count(raw, ".") != 2 {
		return 0, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return 0, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.UnixMilli(), true
}

// Mask hides all but the tail of a credential for logs and API views.
func Mask(t string) string {
	if len(t) <= 12 {
		return "***"
	}
	return "..." + t[len(t)-6:]
}
