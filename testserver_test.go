package parlor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeServer emulates the gateway and the realtime endpoint for tests. It
// answers join events with joinSuccess (unless silentJoin) and records
// every envelope the client emits.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	conn         *websocket.Conn
	connReady    chan struct{}
	silentJoin   bool
	groups       map[string]Group
	groupOrder   map[string][]string // userID -> group ids
	usernames    map[string]string
	messages     map[string][]Message
	messageDelay map[string]time.Duration

	received chan Envelope
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		t:            t,
		connReady:    make(chan struct{}),
		groups:       make(map[string]Group),
		groupOrder:   make(map[string][]string),
		usernames:    make(map[string]string),
		messages:     make(map[string][]Message),
		messageDelay: make(map[string]time.Duration),
		received:     make(chan Envelope, 32),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	// The /ws handler blocks in Read until the peer goes away; close the
	// server side first so srv.Close does not wait on it.
	t.Cleanup(func() {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "server shutdown")
		}
	})
	return f
}

// closeConn drops the server side of the websocket, simulating transport
// loss.
func (f *fakeServer) closeConn() {
	select {
	case <-f.connReady:
	case <-time.After(5 * time.Second):
		f.t.Fatal("no websocket connection to close")
	}
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "dropped")
}

func (f *fakeServer) setSilentJoin(silent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silentJoin = silent
}

func (f *fakeServer) URL() string { return f.srv.URL }

func (f *fakeServer) addGroup(g Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[g.ID] = g
	for _, uid := range g.MemberIDs {
		f.groupOrder[uid] = append(f.groupOrder[uid], g.ID)
	}
}

func (f *fakeServer) setMessages(roomID string, msgs []Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[roomID] = msgs
}

func (f *fakeServer) delayMessages(roomID string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageDelay[roomID] = d
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/ws":
		f.acceptWS(w, r)

	case strings.HasPrefix(path, "/users/") && strings.HasSuffix(path, "/groups"):
		userID := strings.TrimSuffix(strings.TrimPrefix(path, "/users/"), "/groups")
		f.mu.Lock()
		ids := append([]string(nil), f.groupOrder[userID]...)
		f.mu.Unlock()
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, ids)

	case strings.HasPrefix(path, "/users/") && strings.HasSuffix(path, "/profile-picture"):
		writeJSON(w, ProfilePictureData{})

	case strings.HasPrefix(path, "/users/"):
		userID := strings.TrimPrefix(path, "/users/")
		f.mu.Lock()
		name, ok := f.usernames[userID]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"message":"user not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, UsernameData{Username: name})

	case path == "/groups/create":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		for _, g := range f.groups {
			if g.Name == body["name"] {
				f.mu.Unlock()
				http.Error(w, `{"message":"group name taken"}`, http.StatusConflict)
				return
			}
		}
		g := Group{ID: "g-" + body["name"], Name: body["name"], MemberIDs: []string{body["creatorId"]}}
		f.groups[g.ID] = g
		f.groupOrder[body["creatorId"]] = append(f.groupOrder[body["creatorId"]], g.ID)
		f.mu.Unlock()
		writeJSON(w, g)

	case path == "/groups/join":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		for id, g := range f.groups {
			if g.Name == body["groupName"] {
				g.MemberIDs = append(g.MemberIDs, body["userId"])
				f.groups[id] = g
				f.groupOrder[body["userId"]] = append(f.groupOrder[body["userId"]], id)
				f.mu.Unlock()
				writeJSON(w, g)
				return
			}
		}
		f.mu.Unlock()
		http.Error(w, `{"message":"no such group"}`, http.StatusNotFound)

	case strings.HasPrefix(path, "/groups/"):
		groupID := strings.TrimPrefix(path, "/groups/")
		f.mu.Lock()
		g, ok := f.groups[groupID]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"message":"group not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, g)

	case strings.HasPrefix(path, "/messages/room/"):
		roomID := strings.TrimPrefix(path, "/messages/room/")
		f.mu.Lock()
		msgs := append([]Message(nil), f.messages[roomID]...)
		delay := f.messageDelay[roomID]
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if msgs == nil {
			msgs = []Message{}
		}
		writeJSON(w, msgs)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) acceptWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	select {
	case <-f.connReady:
		// A reconnect; the gate is already open.
	default:
		close(f.connReady)
	}
	f.mu.Unlock()

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		f.received <- env

		if env.Event == EventJoin {
			f.mu.Lock()
			silent := f.silentJoin
			f.mu.Unlock()
			if silent {
				continue
			}
			var join JoinPayload
			if json.Unmarshal(env.Payload, &join) != nil {
				continue
			}
			f.mu.Lock()
			members := append([]string(nil), f.groups[join.Room].MemberIDs...)
			f.mu.Unlock()
			f.push(EventJoinSuccess, JoinSuccessPayload{Room: join.Room, Members: members})
		}
	}
}

// push writes an inbound event to the connected client.
func (f *fakeServer) push(event string, payload any) {
	select {
	case <-f.connReady:
	case <-time.After(5 * time.Second):
		f.t.Fatal("no websocket connection to push to")
	}
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		f.t.Fatalf("marshal push payload: %v", err)
	}
	data, _ := json.Marshal(Envelope{Event: event, Payload: raw})
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		f.t.Fatalf("push %s: %v", event, err)
	}
}

// nextEmitted waits for the next envelope the client sent.
func (f *fakeServer) nextEmitted(timeout time.Duration) (Envelope, bool) {
	select {
	case env := <-f.received:
		return env, true
	case <-time.After(timeout):
		return Envelope{}, false
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
