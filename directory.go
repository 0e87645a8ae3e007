package parlor

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Directory
// ============================================================================

// Directory resolves opaque user ids to display identities. Entries are
// populated lazily and never invalidated for the session's lifetime. At
// most one resolution per id is in flight at a time: concurrent callers for
// the same unknown id share the outcome of a single gateway fetch.
type Directory struct {
	client *Client
	log    *zap.Logger

	mu      sync.Mutex
	cache   map[string]Identity
	pending map[string]chan struct{}
}

// NewDirectory creates a directory backed by the client's users gateway.
func NewDirectory(client *Client) *Directory {
	return &Directory{
		client:  client,
		log:     client.log,
		cache:   make(map[string]Identity),
		pending: make(map[string]chan struct{}),
	}
}

// Seed pre-populates the cache, typically with the user's own identity.
func (d *Directory) Seed(userID string, identity Identity) {
	if userID == "" {
		return
	}
	d.mu.Lock()
	d.cache[userID] = identity
	d.mu.Unlock()
}

// Lookup returns the cached identity without triggering a resolution.
func (d *Directory) Lookup(userID string) (Identity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.cache[userID]
	return id, ok
}

// Resolve returns the display name for userID, fetching it from the
// gateway on a cache miss. A failed resolution yields the UnknownUser
// sentinel and is not cached, so a later call retries.
func (d *Directory) Resolve(ctx context.Context, userID string) string {
	if userID == "" {
		return UnknownUser
	}

	var flight chan struct{}
	for flight == nil {
		d.mu.Lock()
		if id, ok := d.cache[userID]; ok {
			d.mu.Unlock()
			return id.DisplayName
		}
		shared, inFlight := d.pending[userID]
		if !inFlight {
			flight = make(chan struct{})
			d.pending[userID] = flight
			d.mu.Unlock()
			break
		}
		d.mu.Unlock()

		// Another caller owns the fetch; share its outcome.
		select {
		case <-shared:
		case <-ctx.Done():
			return UnknownUser
		}

		d.mu.Lock()
		id, ok := d.cache[userID]
		d.mu.Unlock()
		if ok {
			return id.DisplayName
		}
		// The shared flight failed; do not retry on its behalf.
		return UnknownUser
	}

	user, err := d.client.Users().Get(ctx, userID)

	d.mu.Lock()
	if err == nil && user.Username != "" {
		d.cache[userID] = Identity{DisplayName: user.Username}
	}
	delete(d.pending, userID)
	d.mu.Unlock()
	close(flight)

	if err != nil || user.Username == "" {
		if err != nil {
			err = opErr(OpFetchUserData, err)
		}
		d.log.Debug("directory resolution failed", zap.String("userId", userID), zap.Error(err))
		return UnknownUser
	}
	return user.Username
}
