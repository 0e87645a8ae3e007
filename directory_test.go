package parlor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryResolve(t *testing.T) {
	t.Run("caches a successful resolution", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			writeJSON(w, UsernameData{Username: "grace"})
		}))
		defer srv.Close()

		dir := NewDirectory(NewClient(WithBaseURL(srv.URL)))

		assert.Equal(t, "grace", dir.Resolve(context.Background(), "user-2"))
		assert.Equal(t, "grace", dir.Resolve(context.Background(), "user-2"))
		assert.Equal(t, int32(1), requests.Load(), "second call must hit the cache")

		id, ok := dir.Lookup("user-2")
		require.True(t, ok)
		assert.Equal(t, "grace", id.DisplayName)
	})

	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		var requests atomic.Int32
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			<-release
			writeJSON(w, UsernameData{Username: "grace"})
		}))
		defer srv.Close()

		dir := NewDirectory(NewClient(WithBaseURL(srv.URL)))

		results := make(chan string, 5)
		go func() { results <- dir.Resolve(context.Background(), "user-2") }()

		// Wait for the owner's fetch to be in flight, then pile on.
		require.Eventually(t, func() bool { return requests.Load() == 1 }, time.Second, 5*time.Millisecond)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- dir.Resolve(context.Background(), "user-2")
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		for i := 0; i < 5; i++ {
			assert.Equal(t, "grace", <-results)
		}
		assert.Equal(t, int32(1), requests.Load(), "all callers must share a single fetch")
	})

	t.Run("failure yields the sentinel and is not cached", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) == 1 {
				http.Error(w, `{"message":"user not found"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, UsernameData{Username: "grace"})
		}))
		defer srv.Close()

		dir := NewDirectory(NewClient(WithBaseURL(srv.URL)))

		assert.Equal(t, UnknownUser, dir.Resolve(context.Background(), "user-2"))
		_, ok := dir.Lookup("user-2")
		assert.False(t, ok, "failed resolution must not be cached")

		// A later call retries and succeeds.
		assert.Equal(t, "grace", dir.Resolve(context.Background(), "user-2"))
	})

	t.Run("empty id resolves to the sentinel", func(t *testing.T) {
		dir := NewDirectory(NewClient())
		assert.Equal(t, UnknownUser, dir.Resolve(context.Background(), ""))
	})
}

func TestDirectorySeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("seeded entries must not trigger a fetch")
	}))
	defer srv.Close()

	dir := NewDirectory(NewClient(WithBaseURL(srv.URL)))
	dir.Seed("user-1", Identity{DisplayName: "ada"})

	assert.Equal(t, "ada", dir.Resolve(context.Background(), "user-1"))
}
