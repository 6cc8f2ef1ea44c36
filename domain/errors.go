package domain

import "errors"

var (
	ErrMissingCredential = errors.New("no token provided")
	ErrInvalidCredential = errors.New("invalid token")
	ErrNoAccess          = errors.New("no access to project")
	ErrNotInRoom         = errors.New("not joined to project room")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrNotFound          = errors.New("not found")
	ErrConnClosed        = errors.New("connection closed")
)
