package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatique/internal/domain"
	"chatique/internal/relay"
)

// fakeRelay is a minimal in-process stand-in for the relay server: append on
// POST, cursor-paged feed on GET with the requester's own events filtered
// out.
type fakeRelay struct {
	mu     sync.Mutex
	events []domain.Envelope
}

func (f *fakeRelay) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var env domain.Envelope
			if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.events = append(f.events, env)
			f.mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			user, _ := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
			cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)

			f.mu.Lock()
			page := struct {
				Cursor int64             `json:"cursor"`
				Events []domain.Envelope `json:"events"`
			}{Cursor: int64(len(f.events))}
			for _, env := range f.events[cursor:] {
				if env.SenderID == domain.UserID(user) {
					continue
				}
				page.Events = append(page.Events, env)
			}
			f.mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(page)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func TestSend_PostsEnvelope(t *testing.T) {
	fake := &fakeRelay{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := relay.NewClient(srv.URL, 1, srv.Client(), zap.NewNop())
	env := domain.NewEnvelope(domain.TargetUser(2), "chat", domain.HandshakeRequest, "payload", 1)
	require.NoError(t, client.Send(context.Background(), env))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.events, 1)
	require.Equal(t, env, fake.events[0])
}

func TestSend_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := relay.NewClient(srv.URL, 1, srv.Client(), zap.NewNop())
	err := client.Send(context.Background(), domain.NewEnvelope("", "chat", domain.HandshakeRequest, "x", 1))
	require.Error(t, err)
}

func TestSubscribe_YieldsOthersEventsInOrder(t *testing.T) {
	fake := &fakeRelay{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := relay.NewClient(srv.URL, 1, srv.Client(), zap.NewNop())
	receiver := relay.NewClient(srv.URL, 2, srv.Client(), zap.NewNop())

	events, err := receiver.Subscribe(ctx)
	require.NoError(t, err)

	first := domain.NewEnvelope("", "chat", domain.HandshakeRequest, "one", 1)
	second := domain.NewEnvelope("", "chat", domain.HandshakeResponse, "two", 1)
	// An event from the receiver itself must be filtered out of its feed.
	own := domain.NewEnvelope("", "chat", domain.HandshakeRequest, "mine", 2)
	require.NoError(t, sender.Send(ctx, first))
	require.NoError(t, receiver.Send(ctx, own))
	require.NoError(t, sender.Send(ctx, second))

	got := make([]domain.Envelope, 0, 2)
	for len(got) < 2 {
		select {
		case env := <-events:
			got = append(got, env)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	require.Equal(t, first, got[0])
	require.Equal(t, second, got[1])

	select {
	case env := <-events:
		t.Fatalf("unexpected extra event: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_RecoversAfterServerErrors(t *testing.T) {
	fake := &fakeRelay{}
	var failing sync.Map
	failing.Store("on", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if on, _ := failing.Load("on"); on == true && r.Method == http.MethodGet {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		fake.handler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := relay.NewClient(srv.URL, 1, srv.Client(), zap.NewNop())
	receiver := relay.NewClient(srv.URL, 2, srv.Client(), zap.NewNop())

	events, err := receiver.Subscribe(ctx)
	require.NoError(t, err)

	env := domain.NewEnvelope("", "chat", domain.HandshakeRequest, "late", 1)
	require.NoError(t, sender.Send(ctx, env))

	// Let the poll loop hit the failure path at least once, then recover.
	time.Sleep(200 * time.Millisecond)
	failing.Store("on", false)

	select {
	case got := <-events:
		require.Equal(t, env, got)
	case <-time.After(10 * time.Second):
		t.Fatal("subscription never recovered")
	}
}

func TestSubscribe_ClosesOnCancel(t *testing.T) {
	fake := &fakeRelay{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := relay.NewClient(srv.URL, 1, srv.Client(), zap.NewNop())
	events, err := client.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-events:
		require.False(t, open)
	case <-time.After(3 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
