package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatique/internal/domain"
)

// longPollWait bounds how long a subscriber request parks before an empty
// response.
const longPollWait = 25 * time.Second

// feed is the append-only event log. wake is replaced on every append so
// parked long-poll requests can be released in one shot.
type feed struct {
	mu     sync.Mutex
	events []domain.Envelope
	wake   chan struct{}
}

func newFeed() *feed { return &feed{wake: make(chan struct{})} }

func (f *feed) append(env domain.Envelope) {
	f.mu.Lock()
	f.events = append(f.events, env)
	close(f.wake)
	f.wake = make(chan struct{})
	f.mu.Unlock()
}

// since returns events past cursor, or a wake channel to wait on when the
// cursor is at the tip.
func (f *feed) since(cursor int64) ([]domain.Envelope, int64, <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cursor < int64(len(f.events)) {
		out := make([]domain.Envelope, int64(len(f.events))-cursor)
		copy(out, f.events[cursor:])
		return out, int64(len(f.events)), nil
	}
	return nil, cursor, f.wake
}

type page struct {
	Cursor int64             `json:"cursor"`
	Events []domain.Envelope `json:"events"`
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	f := newFeed()
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			defer r.Body.Close()
			var env domain.Envelope
			if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if env.ID == "" {
				env.ID = uuid.NewString()
			}
			f.append(env)
			logger.Info("relayed event",
				zap.String("type", string(env.Type)),
				zap.String("channel", env.ChannelID.String()),
				zap.Int64("sender", int64(env.SenderID)))
			w.WriteHeader(http.StatusOK)

		case http.MethodGet:
			user, err := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
			if err != nil {
				http.Error(w, "bad user", http.StatusBadRequest)
				return
			}
			cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)

			deadline := time.After(longPollWait)
			for {
				events, next, wake := f.since(cursor)
				if wake == nil {
					writePage(w, page{Cursor: next, Events: dropOwn(events, domain.UserID(user))})
					return
				}
				select {
				case <-wake:
				case <-deadline:
					writePage(w, page{Cursor: cursor})
					return
				case <-r.Context().Done():
					return
				}
			}

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	server := &http.Server{Addr: *addr, Handler: mux}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", zap.String("addr", *addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("relay stopped", zap.Error(err))
	}
}

// dropOwn filters out a subscriber's own events; the relay never echoes.
func dropOwn(events []domain.Envelope, user domain.UserID) []domain.Envelope {
	out := events[:0]
	for _, env := range events {
		if env.SenderID != user {
			out = append(out, env)
		}
	}
	return out
}

func writePage(w http.ResponseWriter, p page) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}
