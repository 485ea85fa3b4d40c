package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for every failed login. The message
	// is the same whether the email is unknown or the password is wrong.
	ErrInvalidCredentials      = errors.New("auth: invalid email or password")
	ErrWeakPassword            = errors.New("auth: password does not meet the strength policy")
	ErrCurrentPasswordMismatch = errors.New("auth: current password is incorrect")
	ErrUnauthenticated         = errors.New("auth: unauthenticated")
	ErrNotFound                = errors.New("auth: not found")
	ErrConflict                = errors.New("auth: conflict")
)
