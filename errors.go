package parlor

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error Taxonomy
// ============================================================================

// Validation errors are local and synchronous: when one is returned no
// network call was attempted.
var (
	ErrInvalidRoom    = errors.New("invalid group selected")
	ErrEmptyMessage   = errors.New("message content is empty")
	ErrNoRoomSelected = errors.New("no room selected")
	ErrNotConnected   = errors.New("not connected")
)

// Conflict variants of remote operations, matchable with errors.Is.
var (
	ErrGroupNameExists = errors.New("group name already exists")
	ErrGroupNotFound   = errors.New("group does not exist")
	ErrJoinTimeout     = errors.New("join response timed out")
)

// UnknownUser is the display sentinel for a failed directory resolution.
// Resolution failures are downgraded to this value, never surfaced as a
// user-facing error, and never cached.
const UnknownUser = "Unknown User"

// Op identifies the remote operation an error originated from. Each
// category is independently displayable and dismissible by the consumer.
type Op string

const (
	OpFetchGroups          Op = "fetch-groups"
	OpCreateGroup          Op = "create-group"
	OpJoinGroup            Op = "join-group"
	OpLeaveGroup           Op = "leave-group"
	OpSendMessage          Op = "send-message"
	OpFetchMessages        Op = "fetch-messages"
	OpFetchUserData        Op = "fetch-user-data"
	OpUpdateProfilePicture Op = "update-profile-picture"
	OpUpdateGroupPicture   Op = "update-group-picture"
	OpSetGroupPrivacy      Op = "set-group-privacy"
	OpDeleteAccount        Op = "delete-account"
)

// OpError tags a remote failure with its operation category. Remote errors
// are caught at the operation boundary and never propagate untagged.
type OpError struct {
	Op  Op
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op Op, err error) *OpError {
	return &OpError{Op: op, Err: err}
}

// ConnectionError reports a failed transport handshake. The manager does
// not retry: re-entry requires a fresh explicit Connect.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to the server: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
