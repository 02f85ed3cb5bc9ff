package session

import "errors"

var (
	// ErrUnknownRole is returned when a connection registers with a role
	// string other than "admin" or "visitor".
	ErrUnknownRole = errors.New("unknown role")

	// ErrRoleConflict is returned when an already-registered connection
	// attempts to register again with a different role.
	ErrRoleConflict = errors.New("connection already registered with a different role")
)
