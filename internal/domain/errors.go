package domain

import "errors"

var (
	// ErrNotConnected is returned when an operation requires a live,
	// connected transport handle and none exists.
	ErrNotConnected = errors.New("session not connected")

	// ErrNotFound is returned for unknown sessions, chats or credentials.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the caller presents no valid identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the assignment ACL denies access to a
	// named resource.
	ErrForbidden = errors.New("forbidden")
)
