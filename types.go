package parlor

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error body returned by the gateway.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// ============================================================================
// Data Model
// ============================================================================

// Group is a named chat room with a membership set.
type Group struct {
	ID        string   `json:"_id"`
	Name      string   `json:"name"`
	MemberIDs []string `json:"members"`
	Picture   string   `json:"groupPicture,omitempty"`
	IsPrivate bool     `json:"isPrivate"`
}

// Message is immutable once created. Ordering within a room is arrival
// order as assigned by the server, not necessarily timestamp order.
type Message struct {
	ID        string `json:"_id"`
	GroupID   string `json:"groupId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// User is the gateway's view of an account.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Picture  string `json:"profilePictureUrl,omitempty"`
}

// Identity is a resolved display identity for a user id.
type Identity struct {
	DisplayName string `json:"displayName"`
	Picture     string `json:"picture,omitempty"`
}

// RoomSnapshot is the reconciler's current view of the selected room.
// Members and Messages always belong to SelectedGroupID; switching rooms
// replaces both atomically.
type RoomSnapshot struct {
	SelectedGroupID string
	Members         []string
	Messages        []Message
}

// Selected reports whether a room is currently open.
func (s RoomSnapshot) Selected() bool {
	return s.SelectedGroupID != ""
}

// ============================================================================
// Gateway Payloads
// ============================================================================

// LoginOptions carries credentials for login and registration.
type LoginOptions struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginData is the response to a successful login or registration.
type LoginData struct {
	UserID  string `json:"userId"`
	Picture string `json:"profilePictureUrl,omitempty"`
}

// UsernameData is the response to GET /users/{id}.
type UsernameData struct {
	Username string `json:"username"`
}

// ProfilePictureData is the response to profile picture reads and updates.
type ProfilePictureData struct {
	ProfilePicture string `json:"profilePicture"`
}

// GroupPictureData is the response to a group picture update.
type GroupPictureData struct {
	GroupPicture string `json:"groupPicture"`
}

// ============================================================================
// Realtime Payloads
// ============================================================================

// Envelope is the wire format for all realtime events in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound event names.
const (
	EventJoin        = "join"
	EventLeaveGroup  = "leaveGroup"
	EventSendMessage = "sendMessage"
)

// Inbound event names.
const (
	EventMessage      = "message"
	EventMemberUpdate = "memberUpdate"
	EventMemberLeft   = "memberLeft"
	EventLeftGroup    = "leftGroup"
	EventGroupDeleted = "groupDeleted"
	EventJoinSuccess  = "joinSuccess"
)

// JoinPayload is the outbound body of a join event.
type JoinPayload struct {
	UserID string `json:"userId"`
	Room   string `json:"room"`
}

// LeavePayload is the outbound body of a leaveGroup event and the inbound
// body of memberLeft and leftGroup events.
type LeavePayload struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
}

// SendPayload is the outbound body of a sendMessage event.
type SendPayload struct {
	UserID  string `json:"userId"`
	Room    string `json:"room"`
	Content string `json:"content"`
}

// JoinSuccessPayload is the one-shot response to a join event.
type JoinSuccessPayload struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

// GroupDeletedPayload is the inbound body of a groupDeleted event.
type GroupDeletedPayload struct {
	GroupID string `json:"groupId"`
}
