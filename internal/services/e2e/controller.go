package e2e

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chatique/internal/domain"
	"chatique/internal/keystore"
	"chatique/internal/protocol/dh"
	"chatique/internal/services/group"
)

// availableBuffer bounds the key-availability signal; a slow consumer loses
// notifications, never progress.
const availableBuffer = 16

// Controller owns the session lifecycle and routes inbound events.
type Controller struct {
	stream domain.EventStream
	keys   *keystore.Store
	engine *dh.Engine
	groups *group.Coordinator
	self   domain.UserID
	log    *zap.Logger

	available chan domain.ChannelID

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the controller over an already-connected dependency graph and
// registers the key-availability hook.
func New(stream domain.EventStream, keys *keystore.Store, engine *dh.Engine,
	groups *group.Coordinator, self domain.UserID, log *zap.Logger) *Controller {

	c := &Controller{
		stream:    stream,
		keys:      keys,
		engine:    engine,
		groups:    groups,
		self:      self,
		log:       log,
		available: make(chan domain.ChannelID, availableBuffer),
	}
	keys.OnKeyInstalled(func(channel domain.ChannelID) {
		select {
		case c.available <- channel:
		default:
		}
	})
	return c
}

// Init restores persisted keys. Must run before any other operation.
func (c *Controller) Init() error { return c.keys.Restore() }

// Start subscribes to the relay stream and routes inbound events for the
// lifetime of the session. Events are processed inline in arrival order.
func (c *Controller) Start(ctx context.Context) error {
	events, err := c.stream.Subscribe(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-events:
				if !ok {
					return
				}
				c.dispatch(ctx, env)
			}
		}
	}()
	return nil
}

// dispatch routes one inbound event. Dual handshake events are always
// routed; group handshake events only when broadcast or addressed to this
// user; sharing events only when addressed to this user. Anything else is
// ignored without error.
func (c *Controller) dispatch(ctx context.Context, env domain.Envelope) {
	var err error
	switch env.Type {
	case domain.HandshakeRequest:
		err = c.engine.HandleRequest(ctx, env)
	case domain.HandshakeResponse:
		err = c.engine.HandleResponse(ctx, env)
	case domain.GroupHandshakeRequest:
		if env.Broadcast() || env.AddressedTo(c.self) {
			err = c.engine.HandleRequest(ctx, env)
		}
	case domain.GroupHandshakeResponse:
		if env.Broadcast() || env.AddressedTo(c.self) {
			err = c.engine.HandleResponse(ctx, env)
		}
	case domain.KeySharingRequest:
		if env.AddressedTo(c.self) {
			err = c.groups.HandleSharingRequest(ctx, env)
		}
	case domain.KeySharingPayload:
		if env.AddressedTo(c.self) {
			err = c.groups.HandleSharingPayload(ctx, env)
		}
	default:
		return
	}
	if err != nil {
		// Failures never propagate past this loop; the exchange simply did
		// not make progress.
		c.log.Warn("e2e: event handling failed",
			zap.String("type", string(env.Type)),
			zap.String("channel", env.ChannelID.String()),
			zap.Error(err))
	}
}

// StartClientFlow begins key agreement for a new chat. More than one target
// member means a group: the base pairwise handshake is broadcast and the
// admin fan-out flow starts alongside it.
func (c *Controller) StartClientFlow(ctx context.Context, channel domain.ChannelID, online, targets []domain.UserID) {
	isGroup := len(targets) > 1
	if err := c.engine.Initiate(ctx, channel, isGroup, domain.NoUser); err != nil {
		c.log.Warn("e2e: initiating handshake", zap.String("channel", channel.String()), zap.Error(err))
	}
	if isGroup {
		if err := c.groups.StartAdminFlow(channel, online, targets); err != nil {
			c.log.Warn("e2e: starting admin flow", zap.String("channel", channel.String()), zap.Error(err))
		}
	}
}

// RemoteKey returns the channel's key at its current version. Callers must
// tolerate a miss while negotiation is still in flight.
func (c *Controller) RemoteKey(channel domain.ChannelID) (domain.SymmetricKey, bool) {
	return c.keys.Get(channel, c.keys.CurrentVersion(channel))
}

// RemoteKeyAt returns the key stored at an explicit version.
func (c *Controller) RemoteKeyAt(channel domain.ChannelID, version domain.KeyVersion) (domain.SymmetricKey, bool) {
	return c.keys.Get(channel, version)
}

// KeyVersion returns the channel's current key version.
func (c *Controller) KeyVersion(channel domain.ChannelID) domain.KeyVersion {
	return c.keys.CurrentVersion(channel)
}

// RequestKeySharing starts the sequential key-request loop against the
// given members. Returns immediately; watch Available for the result.
func (c *Controller) RequestKeySharing(channel domain.ChannelID, members []domain.UserID) {
	c.groups.RequestKey(channel, members)
}

// Available signals channels whose key material just changed.
func (c *Controller) Available() <-chan domain.ChannelID { return c.available }

// Shutdown cancels the routing loop and every coordination task. Cancelling
// never corrupts the store: keys already persisted stay persisted.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.groups.Shutdown()
}

// Logout wipes all key material, in memory and persisted.
func (c *Controller) Logout() error { return c.keys.Clear() }
