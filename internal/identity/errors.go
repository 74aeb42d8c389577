package identity

import "errors"

var (
	ErrNotFound        = errors.New("identity: not found")
	ErrConflict        = errors.New("identity: conflict")
	ErrInvalidArgument = errors.New("identity: invalid argument")
	ErrUnauthorized    = errors.New("identity: unauthorized")
)
