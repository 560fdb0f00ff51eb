package group

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatique/internal/crypto"
	"chatique/internal/domain"
)

// Default bounds for the two waiting loops. Overridable through the app
// config; tests shrink them.
const (
	DefaultFanoutTimeout = 3 * time.Second
	DefaultShareWindow   = 4 * time.Second
)

// Initiator triggers a pairwise handshake; implemented by the DH engine.
type Initiator interface {
	Initiate(ctx context.Context, channel domain.ChannelID, group bool, target domain.UserID) error
}

// Keys is the slice of the key store the coordinator needs.
type Keys interface {
	Get(domain.ChannelID, domain.KeyVersion) (domain.SymmetricKey, bool)
	Put(domain.ChannelID, domain.KeyVersion, domain.SymmetricKey) error
	MemberKey(domain.ChannelID, domain.UserID) (domain.SymmetricKey, bool)
}

// adminTask tracks fan-out progress for a group this user created.
// completed is always a subset of initialOnline.
type adminTask struct {
	initialOnline map[domain.UserID]struct{}
	targets       map[domain.UserID]struct{}
	completed     map[domain.UserID]struct{}
}

// Coordinator owns the admin fan-out and key-requesting state machines.
type Coordinator struct {
	stream domain.EventStream
	keys   Keys
	engine Initiator
	self   domain.UserID
	log    *zap.Logger

	fanoutTimeout time.Duration
	shareWindow   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	admin   map[domain.ChannelID]*adminTask
	sharing map[domain.ChannelID]domain.UserID // channel -> engaged candidate
	timers  map[domain.ChannelID]*time.Timer
	closed  bool
}

// New builds a coordinator. Zero durations fall back to the defaults.
func New(stream domain.EventStream, keys Keys, engine Initiator, self domain.UserID,
	fanoutTimeout, shareWindow time.Duration, log *zap.Logger) *Coordinator {

	if fanoutTimeout <= 0 {
		fanoutTimeout = DefaultFanoutTimeout
	}
	if shareWindow <= 0 {
		shareWindow = DefaultShareWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		stream:        stream,
		keys:          keys,
		engine:        engine,
		self:          self,
		log:           log,
		fanoutTimeout: fanoutTimeout,
		shareWindow:   shareWindow,
		ctx:           ctx,
		cancel:        cancel,
		admin:         make(map[domain.ChannelID]*adminTask),
		sharing:       make(map[domain.ChannelID]domain.UserID),
		timers:        make(map[domain.ChannelID]*time.Timer),
	}
}

// StartAdminFlow runs on the creator of a new group channel: generate the
// shared secret, store it at the group slot and wait for pairwise
// handshakes, bounded by the fan-out timeout.
func (c *Coordinator) StartAdminFlow(channel domain.ChannelID, online, targets []domain.UserID) error {
	secret := make([]byte, domain.AESKeySize)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("group: generate shared key: %w", err)
	}
	if err := c.keys.Put(channel, domain.GroupKeyVersion, domain.NewAESKey(secret)); err != nil {
		c.log.Warn("group: storing shared key", zap.String("channel", channel.String()), zap.Error(err))
	}

	task := &adminTask{
		initialOnline: userSet(online),
		targets:       userSet(targets),
		completed:     make(map[domain.UserID]struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.admin[channel] = task
	c.timers[channel] = time.AfterFunc(c.fanoutTimeout, func() {
		c.log.Debug("group: fan-out timeout fired", zap.String("channel", channel.String()))
		c.finishFanout(channel)
	})
	return nil
}

// PairwiseEstablished implements the engine's completion listener: advance
// whichever task was waiting on a handshake with this peer. Dual
// completions carry no peer and no group bookkeeping.
func (c *Coordinator) PairwiseEstablished(channel domain.ChannelID, peer domain.UserID) {
	if peer == domain.NoUser {
		return
	}
	c.checkAdminTask(channel, peer)
	c.checkSharingTask(channel, peer)
}

func (c *Coordinator) checkAdminTask(channel domain.ChannelID, peer domain.UserID) {
	c.mu.Lock()
	task, ok := c.admin[channel]
	if !ok {
		c.mu.Unlock()
		return
	}
	if _, expected := task.initialOnline[peer]; expected {
		task.completed[peer] = struct{}{}
	}
	done := len(task.completed) == len(task.initialOnline)
	if done {
		if t := c.timers[channel]; t != nil {
			t.Stop()
			delete(c.timers, channel)
		}
	}
	c.mu.Unlock()

	if done {
		c.log.Debug("group: all online members completed before timeout",
			zap.String("channel", channel.String()))
		c.finishFanout(channel)
	}
}

// finishFanout encrypts the shared secret under each member's pairwise key
// and emits one payload per member that answered in time. Early completion
// and the timeout both funnel here; whichever fires first removes the task
// so the other path is a no-op.
func (c *Coordinator) finishFanout(channel domain.ChannelID) {
	c.mu.Lock()
	task, ok := c.admin[channel]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.admin, channel)
	if t := c.timers[channel]; t != nil {
		t.Stop()
		delete(c.timers, channel)
	}
	members := make([]domain.UserID, 0, len(task.initialOnline))
	for u := range task.initialOnline {
		members = append(members, u)
	}
	c.mu.Unlock()

	shared, ok := c.keys.Get(channel, domain.GroupKeyVersion)
	if !ok {
		c.log.Warn("group: no shared key to fan out", zap.String("channel", channel.String()))
		return
	}
	for _, member := range members {
		memberKey, ok := c.keys.MemberKey(channel, member)
		if !ok {
			// Handshake never completed with this member; they will ask
			// for the key later via the sharing path.
			continue
		}
		sealed, err := crypto.Encrypt(shared.Material, memberKey)
		if err != nil {
			c.log.Warn("group: sealing shared key",
				zap.String("channel", channel.String()), zap.Int64("member", int64(member)), zap.Error(err))
			continue
		}
		env := domain.NewEnvelope(domain.TargetUser(member), channel, domain.KeySharingPayload, sealed, c.self)
		if err := c.stream.Send(c.ctx, env); err != nil {
			c.log.Warn("group: sending shared key",
				zap.String("channel", channel.String()), zap.Int64("member", int64(member)), zap.Error(err))
		}
	}
}

func (c *Coordinator) checkSharingTask(channel domain.ChannelID, peer domain.UserID) {
	c.mu.Lock()
	target, ok := c.sharing[channel]
	c.mu.Unlock()
	if !ok || target != peer {
		return
	}
	if _, ok := c.keys.MemberKey(channel, peer); !ok {
		return
	}
	env := domain.NewEnvelope(domain.TargetUser(peer), channel, domain.KeySharingRequest, "", c.self)
	if err := c.stream.Send(c.ctx, env); err != nil {
		c.log.Warn("group: requesting shared key",
			zap.String("channel", channel.String()), zap.Int64("member", int64(peer)), zap.Error(err))
	}
}

// RequestKey runs the member-side loop: engage one candidate at a time with
// a targeted handshake, wait out the engagement window, move on. The loop
// ends as soon as the group key lands, on exhaustion, or on Shutdown.
func (c *Coordinator) RequestKey(channel domain.ChannelID, members []domain.UserID) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		for _, candidate := range members {
			if candidate == c.self {
				continue
			}
			if _, ok := c.keys.Get(channel, domain.GroupKeyVersion); ok {
				return // fulfilled
			}
			c.mu.Lock()
			c.sharing[channel] = candidate
			c.mu.Unlock()

			c.log.Debug("group: engaging candidate for key sharing",
				zap.String("channel", channel.String()), zap.Int64("candidate", int64(candidate)))
			if err := c.engine.Initiate(c.ctx, channel, true, candidate); err != nil {
				c.log.Warn("group: initiating targeted handshake",
					zap.String("channel", channel.String()), zap.Int64("candidate", int64(candidate)), zap.Error(err))
			}

			select {
			case <-time.After(c.shareWindow):
			case <-c.ctx.Done():
			}
			c.mu.Lock()
			delete(c.sharing, channel)
			c.mu.Unlock()
			if c.ctx.Err() != nil {
				return
			}
		}
		// Candidates exhausted; callers polling for the key simply never
		// see it.
	}()
}

// HandleSharingRequest answers a peer asking for the group key, provided we
// hold both the key and a pairwise key with them. Otherwise the request is
// silently ignored.
func (c *Coordinator) HandleSharingRequest(ctx context.Context, env domain.Envelope) error {
	shared, ok := c.keys.Get(env.ChannelID, domain.GroupKeyVersion)
	if !ok {
		return nil
	}
	memberKey, ok := c.keys.MemberKey(env.ChannelID, env.SenderID)
	if !ok {
		return nil
	}
	sealed, err := crypto.Encrypt(shared.Material, memberKey)
	if err != nil {
		return fmt.Errorf("group: sealing shared key: %w", err)
	}
	resp := domain.NewEnvelope(domain.TargetUser(env.SenderID), env.ChannelID, domain.KeySharingPayload, sealed, c.self)
	return c.stream.Send(ctx, resp)
}

// HandleSharingPayload installs a group key received from a peer,
// overwriting any previous value at the group slot. Undecryptable payloads
// and payloads from peers we hold no pairwise key for are dropped.
func (c *Coordinator) HandleSharingPayload(_ context.Context, env domain.Envelope) error {
	memberKey, ok := c.keys.MemberKey(env.ChannelID, env.SenderID)
	if !ok {
		return nil
	}
	secret, err := crypto.Decrypt(env.Value, memberKey)
	if err != nil {
		c.log.Debug("group: undecryptable shared key payload",
			zap.String("channel", env.ChannelID.String()), zap.Int64("sender", int64(env.SenderID)))
		return nil
	}
	return c.keys.Put(env.ChannelID, domain.GroupKeyVersion, domain.NewAESKey(secret))
}

// Shutdown cancels every pending timer and requester loop and waits for
// them to stop. Keys already persisted stay persisted.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	c.closed = true
	for ch, t := range c.timers {
		t.Stop()
		delete(c.timers, ch)
	}
	c.admin = make(map[domain.ChannelID]*adminTask)
	c.sharing = make(map[domain.ChannelID]domain.UserID)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func userSet(ids []domain.UserID) map[domain.UserID]struct{} {
	out := make(map[domain.UserID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
