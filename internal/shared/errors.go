package shared

import "errors"

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("shared: not found")
	// ErrInvalidCredentials rejects a bearer token or an inactive user.
	ErrInvalidCredentials = errors.New("shared: invalid credentials")
)
