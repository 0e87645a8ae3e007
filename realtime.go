package parlor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState represents the realtime connection state. There is no
// reconnecting state: on transport failure the manager surfaces the error
// and stays disconnected until an explicit Connect.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// DefaultJoinTimeout bounds how long JoinRoom waits for the server's
// joinSuccess response.
const DefaultJoinTimeout = 10 * time.Second

// EventHandler is the callback type for inbound realtime events. Handlers
// run on the read loop goroutine, one at a time, in arrival order.
type EventHandler func(payload json.RawMessage)

// ============================================================================
// Realtime
// ============================================================================

// Realtime owns the single live connection to the realtime server. Only one
// connection exists at a time: Connect tears down any prior one first.
type Realtime struct {
	baseURL     string
	joinTimeout time.Duration
	log         *zap.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc

	subMu          sync.RWMutex
	handlers       map[string]EventHandler
	onConnected    func()
	onDisconnected func(reason string)

	pendingMu    sync.Mutex
	pendingJoins map[string]chan JoinSuccessPayload
}

func newRealtime(baseURL string, joinTimeout time.Duration, log *zap.Logger) *Realtime {
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &Realtime{
		baseURL:      baseURL,
		joinTimeout:  joinTimeout,
		log:          log,
		state:        StateDisconnected,
		handlers:     make(map[string]EventHandler),
		pendingJoins: make(map[string]chan JoinSuccessPayload),
	}
}

// State returns the current connection state.
func (rt *Realtime) State() ConnState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// OnConnected registers the handler invoked after a successful handshake.
// Last writer wins.
func (rt *Realtime) OnConnected(h func()) {
	rt.subMu.Lock()
	rt.onConnected = h
	rt.subMu.Unlock()
}

// OnDisconnected registers the handler invoked when the transport drops
// outside an explicit Disconnect. Last writer wins.
func (rt *Realtime) OnDisconnected(h func(reason string)) {
	rt.subMu.Lock()
	rt.onDisconnected = h
	rt.subMu.Unlock()
}

// Subscribe registers a handler for a named inbound event. Re-subscribing
// the same event name replaces the previous handler rather than stacking,
// so room switches cannot leak duplicate handlers.
func (rt *Realtime) Subscribe(event string, h EventHandler) {
	rt.subMu.Lock()
	rt.handlers[event] = h
	rt.subMu.Unlock()
}

// Unsubscribe removes the handler for a named event, if any.
func (rt *Realtime) Unsubscribe(event string) {
	rt.subMu.Lock()
	delete(rt.handlers, event)
	rt.subMu.Unlock()
}

// Connect opens the bidirectional channel authenticated by userID. A prior
// live connection is disconnected first. Handshake failures are reported as
// *ConnectionError and never retried automatically.
func (rt *Realtime) Connect(ctx context.Context, userID string) error {
	rt.mu.Lock()
	if rt.state != StateDisconnected {
		rt.mu.Unlock()
		rt.Disconnect()
		rt.mu.Lock()
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?userId=" + userID

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return &ConnectionError{Err: err}
	}

	connCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.cancelFn = cancel
	rt.mu.Unlock()

	rt.log.Debug("realtime connected", zap.String("userId", userID))

	rt.subMu.RLock()
	connected := rt.onConnected
	rt.subMu.RUnlock()
	if connected != nil {
		connected()
	}

	go rt.readLoop(connCtx, conn)
	return nil
}

// Disconnect tears down the channel and unregisters all event
// subscriptions. Safe to call when no connection exists.
func (rt *Realtime) Disconnect() {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	rt.subMu.Lock()
	rt.handlers = make(map[string]EventHandler)
	rt.subMu.Unlock()

	rt.clearPendingJoins()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		rt.log.Debug("realtime disconnected")
	}
}

// Emit is a fire-and-forget send: no delivery acknowledgment is awaited.
func (rt *Realtime) Emit(ctx context.Context, event string, payload any) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// JoinRoom emits a join event and waits for the matching one-shot
// joinSuccess response, keyed by room id. The pending entry auto-deregisters
// on first fire, timeout, or disconnect.
func (rt *Realtime) JoinRoom(ctx context.Context, userID, groupID string) (*JoinSuccessPayload, error) {
	ch := make(chan JoinSuccessPayload, 1)
	rt.pendingMu.Lock()
	rt.pendingJoins[groupID] = ch
	rt.pendingMu.Unlock()

	drop := func() {
		rt.pendingMu.Lock()
		delete(rt.pendingJoins, groupID)
		rt.pendingMu.Unlock()
	}

	if err := rt.Emit(ctx, EventJoin, JoinPayload{UserID: userID, Room: groupID}); err != nil {
		drop()
		return nil, err
	}

	select {
	case joined, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		return &joined, nil
	case <-time.After(rt.joinTimeout):
		drop()
		return nil, ErrJoinTimeout
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

func (rt *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			if rt.intentionalClose || rt.conn != conn {
				// Explicit disconnect, or a newer Connect owns the state
				// by now.
				rt.mu.Unlock()
				return
			}
			rt.state = StateDisconnected
			rt.conn = nil
			rt.mu.Unlock()

			rt.clearPendingJoins()
			rt.log.Warn("realtime transport closed", zap.Error(err))

			rt.subMu.RLock()
			disconnected := rt.onDisconnected
			rt.subMu.RUnlock()
			if disconnected != nil {
				disconnected(err.Error())
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		if env.Event == EventJoinSuccess {
			rt.resolveJoin(env.Payload)
			continue
		}

		rt.subMu.RLock()
		handler := rt.handlers[env.Event]
		rt.subMu.RUnlock()
		if handler != nil {
			handler(env.Payload)
		} else {
			rt.log.Debug("unhandled realtime event", zap.String("event", env.Event))
		}
	}
}

func (rt *Realtime) resolveJoin(payload json.RawMessage) {
	var joined JoinSuccessPayload
	if json.Unmarshal(payload, &joined) != nil {
		return
	}

	rt.pendingMu.Lock()
	ch, ok := rt.pendingJoins[joined.Room]
	if ok {
		delete(rt.pendingJoins, joined.Room)
	}
	rt.pendingMu.Unlock()

	if ok {
		ch <- joined
	} else {
		rt.log.Debug("joinSuccess without pending join", zap.String("room", joined.Room))
	}
}

func (rt *Realtime) clearPendingJoins() {
	rt.pendingMu.Lock()
	for room, ch := range rt.pendingJoins {
		close(ch)
		delete(rt.pendingJoins, room)
	}
	rt.pendingMu.Unlock()
}
