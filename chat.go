package parlor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNoSession is returned by Start when the session store holds no user;
// the caller should run the authentication flow first.
var ErrNoSession = errors.New("no active session")

// Session item keys for cached attributes.
const (
	itemUsername       = "username"
	itemProfilePicture = "profilePicture"
	itemGroups         = "groups"
)

// bufferedEvent holds an inbound event that arrived for a room whose join
// is still in progress. It is replayed once the snapshot is installed.
type bufferedEvent struct {
	event   string
	message Message
	members []string
	left    LeavePayload
}

// ============================================================================
// ChatSession
// ============================================================================

// ChatSession is the reconciliation core: it owns the authoritative
// RoomSnapshot and the group collection, and merges inbound realtime events
// with user-initiated actions. All mutation is serialized through a single
// mutex; inbound events are additionally delivered one at a time in arrival
// order by the realtime read loop.
type ChatSession struct {
	client *Client
	rt     *Realtime
	store  *SessionStore
	dir    *Directory
	log    *zap.Logger

	mu             sync.Mutex
	userID         string
	username       string
	profilePicture string
	groups         []Group
	room           RoomSnapshot

	// joining is the room id of an in-progress SelectRoom. Events for that
	// room arriving before the snapshot install are buffered rather than
	// dropped.
	joining  string
	buffered []bufferedEvent

	onMessage func(Message)
}

// NewChatSession creates a reconciler over the given client and session
// store. Call Start to connect and load initial state.
func NewChatSession(client *Client, store *SessionStore) *ChatSession {
	return &ChatSession{
		client: client,
		rt:     client.Realtime(),
		store:  store,
		dir:    NewDirectory(client),
		log:    client.log,
	}
}

// Directory returns the session's identity resolver.
func (s *ChatSession) Directory() *Directory { return s.dir }

// OnMessage registers a callback invoked after a message is appended to the
// current room. Last writer wins.
func (s *ChatSession) OnMessage(h func(Message)) {
	s.mu.Lock()
	s.onMessage = h
	s.mu.Unlock()
}

// UserID returns the authenticated user id.
func (s *ChatSession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Username returns the authenticated user's display name, if loaded.
func (s *ChatSession) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// ProfilePicture returns the stored profile picture path, or "".
func (s *ChatSession) ProfilePicture() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profilePicture
}

// Snapshot returns a copy of the current room view.
func (s *ChatSession) Snapshot() RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RoomSnapshot{
		SelectedGroupID: s.room.SelectedGroupID,
		Members:         append([]string(nil), s.room.Members...),
		Messages:        append([]Message(nil), s.room.Messages...),
	}
}

// Groups returns a copy of the group collection. Membership slices are
// copied too, so later inbound events cannot mutate a returned value.
func (s *ChatSession) Groups() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := make([]Group, len(s.groups))
	for i, g := range s.groups {
		g.MemberIDs = append([]string(nil), g.MemberIDs...)
		groups[i] = g
	}
	return groups
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start connects the realtime channel, wires the inbound event handlers,
// and loads the group collection and profile from the gateway.
func (s *ChatSession) Start(ctx context.Context) error {
	userID := s.store.UserID()
	if userID == "" {
		return ErrNoSession
	}
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	if err := s.rt.Connect(ctx, userID); err != nil {
		return err
	}
	s.subscribeEvents()

	groups, err := s.client.Groups().ForUser(ctx, userID)
	if err != nil {
		return opErr(OpFetchGroups, err)
	}
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
	if err := s.store.SetItem(itemGroups, groups); err != nil {
		s.log.Warn("failed to cache groups", zap.Error(err))
	}

	// Username and picture loads are best-effort: the session is usable
	// without them.
	if user, err := s.client.Users().Get(ctx, userID); err == nil {
		s.mu.Lock()
		s.username = user.Username
		s.mu.Unlock()
		s.dir.Seed(userID, Identity{DisplayName: user.Username})
		_ = s.store.SetItem(itemUsername, user.Username)
	} else {
		s.log.Warn("failed to fetch own username", zap.Error(opErr(OpFetchUserData, err)))
	}
	if pic, err := s.client.Users().ProfilePicture(ctx, userID); err == nil && pic != "" {
		s.mu.Lock()
		s.profilePicture = pic
		s.mu.Unlock()
		_ = s.store.SetItem(itemProfilePicture, pic)
	}

	return nil
}

// Logout disconnects the realtime channel and clears the session scope.
func (s *ChatSession) Logout() error {
	s.rt.Disconnect()
	return s.store.Clear()
}

func (s *ChatSession) subscribeEvents() {
	s.rt.Subscribe(EventMessage, func(payload json.RawMessage) {
		var msg Message
		if json.Unmarshal(payload, &msg) != nil {
			return
		}
		s.ReceiveMessage(msg)
	})
	s.rt.Subscribe(EventMemberUpdate, func(payload json.RawMessage) {
		var members []string
		if json.Unmarshal(payload, &members) != nil {
			return
		}
		s.ReceiveMemberUpdate(members)
	})
	s.rt.Subscribe(EventMemberLeft, func(payload json.RawMessage) {
		var left LeavePayload
		if json.Unmarshal(payload, &left) != nil {
			return
		}
		s.ReceiveMemberLeft(left)
	})
	s.rt.Subscribe(EventLeftGroup, func(payload json.RawMessage) {
		var left LeavePayload
		if json.Unmarshal(payload, &left) != nil {
			return
		}
		s.ReceiveLeftGroup(left)
	})
	s.rt.Subscribe(EventGroupDeleted, func(payload json.RawMessage) {
		var deleted GroupDeletedPayload
		if json.Unmarshal(payload, &deleted) != nil {
			return
		}
		s.ReceiveGroupDeleted(deleted)
	})
}

// ============================================================================
// User-Initiated Operations
// ============================================================================

// SelectRoom joins groupID and atomically replaces the room snapshot with
// the server-provided member list and message history. An empty id fails
// locally without a network round-trip. If the user switches rooms while
// the history fetch is in flight, the stale response is discarded.
func (s *ChatSession) SelectRoom(ctx context.Context, groupID string) error {
	if groupID == "" {
		return ErrInvalidRoom
	}

	s.mu.Lock()
	userID := s.userID
	s.joining = groupID
	s.buffered = nil
	s.mu.Unlock()

	joined, err := s.rt.JoinRoom(ctx, userID, groupID)
	if err != nil {
		s.abortJoin(groupID)
		return opErr(OpJoinGroup, err)
	}

	messages, err := s.client.Messages().Room(ctx, joined.Room)
	if err != nil {
		s.abortJoin(groupID)
		return opErr(OpFetchMessages, err)
	}

	s.mu.Lock()
	if s.joining != groupID {
		// A later SelectRoom superseded this one while the history fetch
		// was in flight.
		s.mu.Unlock()
		s.log.Debug("discarding stale room history", zap.String("room", groupID))
		return nil
	}
	s.room = RoomSnapshot{
		SelectedGroupID: joined.Room,
		Members:         append([]string(nil), joined.Members...),
		Messages:        messages,
	}
	replay := s.buffered
	s.joining = ""
	s.buffered = nil
	s.mu.Unlock()

	for _, ev := range replay {
		switch ev.event {
		case EventMessage:
			s.ReceiveMessage(ev.message)
		case EventMemberUpdate:
			s.ReceiveMemberUpdate(ev.members)
		case EventMemberLeft:
			s.ReceiveMemberLeft(ev.left)
		}
	}

	s.resolveMembers(joined.Members)
	return nil
}

func (s *ChatSession) abortJoin(groupID string) {
	s.mu.Lock()
	if s.joining == groupID {
		s.joining = ""
		s.buffered = nil
	}
	s.mu.Unlock()
}

// SendMessage validates and emits a message for the selected room. The
// message is not appended locally: the inbound broadcast is the single
// append path, so the sender sees it only after the round trip.
func (s *ChatSession) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	userID := s.userID
	room := s.room.SelectedGroupID
	s.mu.Unlock()
	if room == "" {
		return ErrNoRoomSelected
	}

	if err := s.rt.Emit(ctx, EventSendMessage, SendPayload{UserID: userID, Room: room, Content: content}); err != nil {
		return opErr(OpSendMessage, err)
	}
	return nil
}

// LeaveGroup emits a leave request and removes the group locally without
// awaiting the server's acknowledgment. This favors responsiveness over
// consistency; the leftGroup event reconciles if the server disagrees on
// timing.
func (s *ChatSession) LeaveGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	userID := s.userID
	known := s.hasGroupLocked(groupID)
	s.mu.Unlock()
	if groupID == "" || !known {
		return ErrInvalidRoom
	}

	if err := s.rt.Emit(ctx, EventLeaveGroup, LeavePayload{UserID: userID, GroupID: groupID}); err != nil {
		return opErr(OpLeaveGroup, err)
	}

	s.mu.Lock()
	s.removeGroupLocked(groupID)
	s.mu.Unlock()
	s.persistGroups()
	return nil
}

// CreateGroup creates a group on the gateway and adds it to the local
// collection. A duplicate name leaves the collection unchanged and returns
// an OpCreateGroup error wrapping ErrGroupNameExists.
func (s *ChatSession) CreateGroup(ctx context.Context, name string) (*Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidRoom
	}
	group, err := s.client.Groups().Create(ctx, name, s.UserID())
	if err != nil {
		return nil, opErr(OpCreateGroup, err)
	}

	s.mu.Lock()
	s.groups = append(s.groups, *group)
	s.mu.Unlock()
	s.persistGroups()
	return group, nil
}

// JoinGroupByName joins an existing group by name and adds it to the local
// collection. An unknown name returns an OpJoinGroup error wrapping
// ErrGroupNotFound.
func (s *ChatSession) JoinGroupByName(ctx context.Context, name string) (*Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidRoom
	}
	group, err := s.client.Groups().JoinByName(ctx, s.UserID(), name)
	if err != nil {
		return nil, opErr(OpJoinGroup, err)
	}

	s.mu.Lock()
	s.groups = append(s.groups, *group)
	s.mu.Unlock()
	s.persistGroups()
	return group, nil
}

// UpdateProfilePicture uploads a new profile picture and caches its path.
func (s *ChatSession) UpdateProfilePicture(ctx context.Context, fileName string, file []byte) (string, error) {
	pic, err := s.client.Users().UpdateProfilePicture(ctx, s.UserID(), fileName, file)
	if err != nil {
		return "", opErr(OpUpdateProfilePicture, err)
	}
	s.mu.Lock()
	s.profilePicture = pic
	s.mu.Unlock()
	_ = s.store.SetItem(itemProfilePicture, pic)
	return pic, nil
}

// UpdateGroupPicture uploads a new picture for the selected room.
func (s *ChatSession) UpdateGroupPicture(ctx context.Context, fileName string, file []byte) (string, error) {
	s.mu.Lock()
	room := s.room.SelectedGroupID
	s.mu.Unlock()
	if room == "" {
		return "", ErrNoRoomSelected
	}

	pic, err := s.client.Groups().UpdatePicture(ctx, room, fileName, file)
	if err != nil {
		return "", opErr(OpUpdateGroupPicture, err)
	}

	s.mu.Lock()
	for i := range s.groups {
		if s.groups[i].ID == room {
			s.groups[i].Picture = pic
		}
	}
	s.mu.Unlock()
	s.persistGroups()
	return pic, nil
}

// SetGroupPrivacy toggles a group between private and public.
func (s *ChatSession) SetGroupPrivacy(ctx context.Context, groupID string, private bool) error {
	var (
		updated *Group
		err     error
	)
	if private {
		updated, err = s.client.Groups().MakePrivate(ctx, groupID)
	} else {
		updated, err = s.client.Groups().MakePublic(ctx, groupID)
	}
	if err != nil {
		return opErr(OpSetGroupPrivacy, err)
	}

	s.mu.Lock()
	for i := range s.groups {
		if s.groups[i].ID == updated.ID {
			s.groups[i] = *updated
		}
	}
	s.mu.Unlock()
	s.persistGroups()
	return nil
}

// DeleteAccount removes the account on the gateway, then logs out.
func (s *ChatSession) DeleteAccount(ctx context.Context) error {
	if err := s.client.Users().Delete(ctx, s.UserID()); err != nil {
		return opErr(OpDeleteAccount, err)
	}
	return s.Logout()
}

// ============================================================================
// Inbound Event Handlers
// ============================================================================

// ReceiveMessage appends a message iff it belongs to the currently selected
// room; messages for other rooms are dropped, not queued. During an
// in-progress join of the message's room it is buffered instead.
func (s *ChatSession) ReceiveMessage(msg Message) {
	s.mu.Lock()
	if s.joining != "" && msg.GroupID == s.joining {
		s.buffered = append(s.buffered, bufferedEvent{event: EventMessage, message: msg})
		s.mu.Unlock()
		return
	}
	if !s.room.Selected() || msg.GroupID != s.room.SelectedGroupID {
		s.mu.Unlock()
		s.log.Debug("dropping message for unselected room",
			zap.String("room", msg.GroupID), zap.String("messageId", msg.ID))
		return
	}
	s.room.Messages = append(s.room.Messages, msg)
	userID := s.userID
	notify := s.onMessage
	s.mu.Unlock()

	if msg.SenderID != "" && msg.SenderID != userID {
		if _, known := s.dir.Lookup(msg.SenderID); !known {
			go s.dir.Resolve(context.Background(), msg.SenderID)
		}
	}
	if notify != nil {
		notify(msg)
	}
}

// ReceiveMemberUpdate replaces the member list wholesale: the server is the
// source of truth for the membership set.
func (s *ChatSession) ReceiveMemberUpdate(members []string) {
	s.mu.Lock()
	if s.joining != "" {
		s.buffered = append(s.buffered, bufferedEvent{event: EventMemberUpdate, members: members})
		s.mu.Unlock()
		return
	}
	s.room.Members = append([]string(nil), members...)
	s.mu.Unlock()

	s.resolveMembers(members)
}

// ReceiveMemberLeft removes the user from the visible member list when the
// event's room is selected, and always from the stored group's membership.
// These are separate data structures with separate mutation paths. If the
// departing user is this session's own user, the room deselects.
func (s *ChatSession) ReceiveMemberLeft(left LeavePayload) {
	s.mu.Lock()
	if s.joining != "" && left.GroupID == s.joining {
		s.buffered = append(s.buffered, bufferedEvent{event: EventMemberLeft, left: left})
		s.mu.Unlock()
		return
	}

	if s.room.SelectedGroupID == left.GroupID {
		members := make([]string, 0, len(s.room.Members))
		for _, id := range s.room.Members {
			if id != left.UserID {
				members = append(members, id)
			}
		}
		s.room.Members = members
	}

	for i := range s.groups {
		if s.groups[i].ID != left.GroupID {
			continue
		}
		ids := make([]string, 0, len(s.groups[i].MemberIDs))
		for _, id := range s.groups[i].MemberIDs {
			if id != left.UserID {
				ids = append(ids, id)
			}
		}
		s.groups[i].MemberIDs = ids
	}

	if left.UserID == s.userID {
		s.room = RoomSnapshot{}
	}
	s.mu.Unlock()
	s.persistGroups()
}

// ReceiveLeftGroup reconciles the server's confirmation of this session's
// own optimistic leave; removing an already-removed group is a no-op.
func (s *ChatSession) ReceiveLeftGroup(left LeavePayload) {
	s.mu.Lock()
	if left.UserID != s.userID || !s.hasGroupLocked(left.GroupID) {
		s.mu.Unlock()
		return
	}
	s.removeGroupLocked(left.GroupID)
	s.mu.Unlock()
	s.persistGroups()
}

// ReceiveGroupDeleted removes the group from the collection; if it was the
// selected room, the room becomes unselected, equivalent to initial state.
func (s *ChatSession) ReceiveGroupDeleted(deleted GroupDeletedPayload) {
	s.mu.Lock()
	if s.joining == deleted.GroupID {
		// The room vanished mid-join; the pending snapshot will never
		// install.
		s.joining = ""
		s.buffered = nil
	}
	s.removeGroupLocked(deleted.GroupID)
	s.mu.Unlock()
	s.persistGroups()
}

// ============================================================================
// Internal helpers
// ============================================================================

func (s *ChatSession) hasGroupLocked(groupID string) bool {
	for i := range s.groups {
		if s.groups[i].ID == groupID {
			return true
		}
	}
	return false
}

// removeGroupLocked drops the group from the collection and clears the
// snapshot when the group was the selected room.
func (s *ChatSession) removeGroupLocked(groupID string) {
	groups := s.groups[:0]
	for _, g := range s.groups {
		if g.ID != groupID {
			groups = append(groups, g)
		}
	}
	s.groups = groups

	if s.room.SelectedGroupID == groupID {
		s.room = RoomSnapshot{}
	}
}

func (s *ChatSession) persistGroups() {
	if err := s.store.SetItem(itemGroups, s.Groups()); err != nil {
		s.log.Warn("failed to cache groups", zap.Error(err))
	}
}

// resolveMembers eagerly fills the directory for unknown member ids,
// fire-and-forget.
func (s *ChatSession) resolveMembers(members []string) {
	userID := s.UserID()
	for _, id := range members {
		if id == "" || id == userID {
			continue
		}
		if _, known := s.dir.Lookup(id); known {
			continue
		}
		go s.dir.Resolve(context.Background(), id)
	}
}
