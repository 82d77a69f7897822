package rbac

import "errors"

// Custom errors
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("resource not found")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStore marks failures of the backing store. A check that returns it
	// could not be decided, which is different from a denial.
	ErrStore = errors.New("rbac store failure")

	ErrRoleCycle       = errors.New("role hierarchy cycle")
	ErrSystemRole      = errors.New("system roles cannot be modified")
	ErrPermissionInUse = errors.New("permission is still referenced")
	ErrAlreadyExists   = errors.New("resource already exists")
)
