package session

import "errors"

var (
	// ErrInvalidAccount means a login payload lacked a required field or had an
	// unreadable expiry. The session is left untouched.
	ErrInvalidAccount = errors.New("invalid account data")

	// ErrTokenExpired means the credential offered at login is already dead and
	// the user must authenticate again.
	ErrTokenExpired = errors.New("token has expired")
)
