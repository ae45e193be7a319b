package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pysugar/session-nexus/internal/auth/token"
)

// Field names of the backend login payload.
const (
	fieldJWTToken        = "jwtToken"
	fieldToken           = "token"
	fieldEmail           = "email"
	fieldUsername        = "username"
	fieldImageURL        = "imageUrl"
	fieldAuthProvider    = "authProvider"
	fieldExpiration      = "expirationTime"
	fieldDriveFolderID   = "driveFolderId"
	fieldStorageUsage    = "currentStorageUsageMb"
	fieldDriveQuota      = "userDriveQuotaMb"
	fieldMaxStorageQuota = "maxStorageQuotaMb"
)

var whitespace = regexp.MustCompile(`\s+`)

// DecodePayload decodes an untrusted JSON login payload. Numbers are kept as
// json.Number so epoch values survive without float rounding.
func DecodePayload(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", ErrInvalidAccount, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidAccount)
	}
	return raw, nil
}

// ParseAccount builds an Account from a backend login payload and validates it.
// It does not check expiry against the clock; see Manager.Login.
func ParseAccount(raw map[string]any) (Account, error) {
	credential := stringField(raw, fieldJWTToken)
	if credential == "" {
		credential = stringField(raw, fieldToken)
	}

	email := stringField(raw, fieldEmail)

	usernameSource := stringField(raw, fieldUsername)
	if usernameSource == "" {
		usernameSource = email
	}

	provider := strings.ToUpper(stringField(raw, fieldAuthProvider))

	var (
		expMillis int64
		expOK     bool
	)
	if v, present := raw[fieldExpiration]; present && v != nil {
		expMillis, expOK = token.NormalizeExpiration(v)
	} else {
		expMillis, expOK = token.ExpiryFromJWT(credential)
	}

	acc := Account{
		Token:                 credential,
		Email:                 email,
		Username:              DeriveUsername(usernameSource),
		ImageURL:              stringField(raw, fieldImageURL),
		AuthProvider:          AuthProvider(provider),
		LoginMethod:           strings.ToLower(provider),
		CurrentStorageUsageMb: numberField(raw, DefaultStorageUsageMb, fieldStorageUsage),
		MaxStorageQuotaMb:     numberField(raw, DefaultStorageQuotaMb, fieldDriveQuota, fieldMaxStorageQuota),
		DriveFolderID:         stringField(raw, fieldDriveFolderID),
		ExpirationTimeMillis:  expMillis,
	}

	var missing []string
	if acc.Token == "" {
		missing = append(missing, fieldToken)
	}
	if acc.Email == "" {
		missing = append(missing, fieldEmail)
	}
	if acc.Username == "" {
		missing = append(missing, fieldUsername)
	}
	if acc.AuthProvider == "" {
		missing = append(missing, fieldAuthProvider)
	}
	if !expOK {
		missing = append(missing, fieldExpiration)
	}
	if len(missing) > 0 {
		return Account{}, fmt.Errorf("%w: missing or invalid %s", ErrInvalidAccount, strings.Join(missing, ", "))
	}
	return acc, nil
}

// DeriveUsername turns a backend username into a routing handle. A value that
// looks like an email (contains both "@" and ".") is cut at the "@"; the result
// is lower-cased and stripped of whitespace. Dots are kept.
func DeriveUsername(src string) string {
	if strings.Contains(src, "@") && strings.Contains(src, ".") {
		src = src[:strings.Index(src, "@")]
	}
	return whitespace.ReplaceAllString(strings.ToLower(src), "")
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// numberField returns the first usable number among keys, or def.
func numberField(raw map[string]any, def float64, keys ...string) float64 {
	for _, key := range keys {
		switch n := raw[key].(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
	}
	return def
}
