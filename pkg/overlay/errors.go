package overlay

import "errors"

// Expected, recoverable conditions reported synchronously to callers.
// None of these are fatal to the process.
var (
	// ErrNotConnected is returned for operations on an identity that has no
	// active presence record (no open connections).
	ErrNotConnected = errors.New("identity is not connected")

	// ErrInvalidStatus is returned when a presence update carries a status
	// outside the recognized set.
	ErrInvalidStatus = errors.New("invalid presence status")

	// ErrMissingTargetID is returned for user/experience targets without an id.
	ErrMissingTargetID = errors.New("target requires an id")

	// ErrUnknownTargetType is returned for an unrecognized target type tag.
	ErrUnknownTargetType = errors.New("unknown target type")

	// ErrAuthMissingIdentity is returned in production mode when an identify
	// event carries no credential.
	ErrAuthMissingIdentity = errors.New("identify event missing identity credential")

	// ErrAuthInvalid is returned when a presented credential fails verification.
	ErrAuthInvalid = errors.New("identity credential invalid")
)
