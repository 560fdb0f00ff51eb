package app

import (
	"go.uber.org/zap"

	"chatique/internal/domain"
	"chatique/internal/keystore"
	"chatique/internal/protocol/dh"
	"chatique/internal/relay"
	"chatique/internal/services/e2e"
	"chatique/internal/services/group"
	"chatique/internal/store"
)

// Wire bundles the constructed dependency graph.
type Wire struct {
	Prefs   domain.PreferenceStore
	Keys    *keystore.Store
	Stream  domain.EventStream
	Engine  *dh.Engine
	Groups  *group.Coordinator
	Session *e2e.Controller
	Logger  *zap.Logger
}

// NewWire constructs the dependency graph from cfg. The engine and the
// group coordinator reference each other (completions drive fan-out
// tracking), so the listener is attached after both exist.
func NewWire(cfg Config) (*Wire, error) {
	cfg = cfg.withDefaults()

	prefs := store.NewFileStore(cfg.Home, cfg.Passphrase)
	keys := keystore.New(prefs, cfg.Logger)
	stream := relay.NewClient(cfg.RelayURL, cfg.UserID, cfg.HTTP, cfg.Logger)

	engine := dh.New(stream, keys, cfg.UserID, cfg.DHBits, cfg.Logger)
	groups := group.New(stream, keys, engine, cfg.UserID, cfg.FanoutTimeout, cfg.ShareWindow, cfg.Logger)
	engine.SetListener(groups)

	session := e2e.New(stream, keys, engine, groups, cfg.UserID, cfg.Logger)

	return &Wire{
		Prefs:   prefs,
		Keys:    keys,
		Stream:  stream,
		Engine:  engine,
		Groups:  groups,
		Session: session,
		Logger:  cfg.Logger,
	}, nil
}
