package oauth

import "errors"

var (
	// ErrInvalidArgument indicates contradictory or missing caller arguments,
	// e.g. both user and org owners, or neither.
	ErrInvalidArgument = errors.New("oauth: invalid argument")
	// ErrInvalidGrant covers authorization-code failures: unknown code, code
	// already used, redirect mismatch or wrong client.
	ErrInvalidGrant = errors.New("oauth: invalid grant")
	ErrNotFound     = errors.New("oauth: not found")
	ErrConflict     = errors.New("oauth: conflict")
	ErrUnauthorized = errors.New("oauth: unauthorized")
	// ErrConsistency reports a broken construction invariant (such as a
	// client with no owner). It is an internal fault, never user error.
	ErrConsistency = errors.New("oauth: internal consistency fault")
)
