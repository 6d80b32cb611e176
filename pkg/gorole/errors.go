package gorole

import "errors"

var (
	// ErrAssignmentNotFound is returned when a user has no stored role
	ErrAssignmentNotFound = errors.New("role assignment not found")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidAssignment is returned for empty user ids or negative role ids
	ErrInvalidAssignment = errors.New("invalid role assignment")
)
