package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidRecord is returned when a record is missing its ID.
	ErrInvalidRecord = errors.New("device: invalid record")

	// ErrGroupNotFound is returned when a group name does not exist.
	ErrGroupNotFound = errors.New("device: group not found")

	// ErrGroupExists is returned when creating a group whose name is taken.
	ErrGroupExists = errors.New("device: group already exists")
)
