package session

import (
	"encoding/json"
	"errors"

	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
)

// clientEvent is the inbound message shape on the overlay socket.
type clientEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event names the session router handles.
const (
	eventIdentify        = "identify"
	eventPresenceUpdate  = "presenceUpdate"
	eventJoinExperience  = "joinExperience"
	eventLeaveExperience = "leaveExperience"
)

// reply is the transport-level response envelope for acks and errors, distinct
// from the overlay message kinds pushed by the hub.
type reply struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ackPayload struct {
	Event    string `json:"event"`
	Identity string `json:"identity,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Wire error codes reported back to clients.
const (
	codeBadRequest          = "bad_request"
	codeUnknownEvent        = "unknown_event"
	codeAuthRequired        = "auth_required"
	codeAuthMissingIdentity = "auth_missing_identity"
	codeAuthInvalid         = "auth_invalid"
	codeNotConnected        = "not_connected"
	codeInvalidStatus       = "invalid_status"
	codeMissingTargetID     = "missing_target_id"
)

// errorCode maps overlay sentinel errors onto wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, overlay.ErrAuthMissingIdentity):
		return codeAuthMissingIdentity
	case errors.Is(err, overlay.ErrAuthInvalid):
		return codeAuthInvalid
	case errors.Is(err, overlay.ErrNotConnected):
		return codeNotConnected
	case errors.Is(err, overlay.ErrInvalidStatus):
		return codeInvalidStatus
	case errors.Is(err, overlay.ErrMissingTargetID):
		return codeMissingTargetID
	}
	return codeBadRequest
}
