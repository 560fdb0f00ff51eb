package group_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatique/internal/crypto"
	"chatique/internal/domain"
	"chatique/internal/services/group"
)

type captureStream struct {
	mu   sync.Mutex
	sent []domain.Envelope
}

func (s *captureStream) Send(_ context.Context, env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *captureStream) Subscribe(context.Context) (<-chan domain.Envelope, error) {
	return make(chan domain.Envelope), nil
}

func (s *captureStream) snapshot() []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Envelope, len(s.sent))
	copy(out, s.sent)
	return out
}

type initiateCall struct {
	Channel domain.ChannelID
	Group   bool
	Target  domain.UserID
}

type fakeInitiator struct {
	mu       sync.Mutex
	calls    []initiateCall
	onCalled func(initiateCall)
}

func (f *fakeInitiator) Initiate(_ context.Context, channel domain.ChannelID, group bool, target domain.UserID) error {
	call := initiateCall{channel, group, target}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.onCalled
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return nil
}

func (f *fakeInitiator) snapshot() []initiateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]initiateCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type dualIndex struct {
	Channel domain.ChannelID
	Version domain.KeyVersion
}

type memberIndex struct {
	Channel domain.ChannelID
	User    domain.UserID
}

type mapKeys struct {
	mu      sync.Mutex
	dual    map[dualIndex]domain.SymmetricKey
	members map[memberIndex]domain.SymmetricKey
}

func newMapKeys() *mapKeys {
	return &mapKeys{
		dual:    make(map[dualIndex]domain.SymmetricKey),
		members: make(map[memberIndex]domain.SymmetricKey),
	}
}

func (m *mapKeys) Get(ch domain.ChannelID, v domain.KeyVersion) (domain.SymmetricKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.dual[dualIndex{ch, v}]
	return k, ok
}

func (m *mapKeys) Put(ch domain.ChannelID, v domain.KeyVersion, k domain.SymmetricKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dual[dualIndex{ch, v}] = k
	return nil
}

func (m *mapKeys) MemberKey(ch domain.ChannelID, u domain.UserID) (domain.SymmetricKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.members[memberIndex{ch, u}]
	return k, ok
}

func (m *mapKeys) putMember(ch domain.ChannelID, u domain.UserID, k domain.SymmetricKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[memberIndex{ch, u}] = k
}

func testKey(b byte) domain.SymmetricKey {
	material := make([]byte, domain.AESKeySize)
	for i := range material {
		material[i] = b
	}
	return domain.NewAESKey(material)
}

func TestAdminFlow_EarlyCompletion(t *testing.T) {
	stream := &captureStream{}
	keys := newMapKeys()
	members := []domain.UserID{2, 3, 4}
	for _, m := range members {
		keys.putMember("g", m, testKey(byte(m)))
	}

	c := group.New(stream, keys, &fakeInitiator{}, 1, 200*time.Millisecond, 0, zap.NewNop())
	defer c.Shutdown()

	require.NoError(t, c.StartAdminFlow("g", members, members))
	shared, ok := keys.Get("g", domain.GroupKeyVersion)
	require.True(t, ok)
	require.Len(t, shared.Material, domain.AESKeySize)

	for _, m := range members {
		c.PairwiseEstablished("g", m)
	}

	sent := stream.snapshot()
	require.Len(t, sent, len(members))
	targets := make(map[string]bool)
	for _, env := range sent {
		require.Equal(t, domain.KeySharingPayload, env.Type)
		require.Equal(t, domain.ChannelID("g"), env.ChannelID)
		targets[env.ObjectID] = true
	}
	for _, m := range members {
		require.True(t, targets[domain.TargetUser(m)], "no payload for member %d", m)
		memberKey, _ := keys.MemberKey("g", m)
		for _, env := range sent {
			if env.ObjectID != domain.TargetUser(m) {
				continue
			}
			secret, err := crypto.Decrypt(env.Value, memberKey)
			require.NoError(t, err)
			require.Equal(t, shared.Material, secret)
		}
	}

	// The timer path must not fan out a second time.
	time.Sleep(300 * time.Millisecond)
	require.Len(t, stream.snapshot(), len(members))
}

func TestAdminFlow_TimeoutFansOutToSubset(t *testing.T) {
	stream := &captureStream{}
	keys := newMapKeys()
	keys.putMember("g", 2, testKey(0x02))
	keys.putMember("g", 3, testKey(0x03))

	c := group.New(stream, keys, &fakeInitiator{}, 1, 100*time.Millisecond, 0, zap.NewNop())
	defer c.Shutdown()

	require.NoError(t, c.StartAdminFlow("g", []domain.UserID{2, 3, 4}, []domain.UserID{2, 3, 4}))
	c.PairwiseEstablished("g", 2)
	c.PairwiseEstablished("g", 3) // 4 never answers

	require.Eventually(t, func() bool {
		return len(stream.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)

	targets := make(map[string]bool)
	for _, env := range stream.snapshot() {
		require.Equal(t, domain.KeySharingPayload, env.Type)
		targets[env.ObjectID] = true
	}
	require.True(t, targets[domain.TargetUser(2)])
	require.True(t, targets[domain.TargetUser(3)])
	require.False(t, targets[domain.TargetUser(4)])

	// A straggler finishing after the timeout finds no task left.
	keys.putMember("g", 4, testKey(0x04))
	c.PairwiseEstablished("g", 4)
	require.Len(t, stream.snapshot(), 2)
}

func TestAdminFlow_DualCompletionDoesNotCount(t *testing.T) {
	stream := &captureStream{}
	keys := newMapKeys()
	keys.putMember("g", 2, testKey(0x02))

	c := group.New(stream, keys, &fakeInitiator{}, 1, time.Hour, 0, zap.NewNop())
	defer c.Shutdown()

	require.NoError(t, c.StartAdminFlow("g", []domain.UserID{2}, []domain.UserID{2}))
	c.PairwiseEstablished("g", domain.NoUser)
	require.Empty(t, stream.snapshot())
}

func TestRequestKey_WalksCandidatesInOrder(t *testing.T) {
	stream := &captureStream{}
	keys := newMapKeys()
	init := &fakeInitiator{}
	c := group.New(stream, keys, init, 1, 0, 30*time.Millisecond, zap.NewNop())
	defer c.Shutdown()

	c.RequestKey("g", []domain.UserID{1, 2, 3})

	require.Eventually(t, func() bool {
		return len(init.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)

	calls := init.snapshot()
	require.Equal(t, []initiateCall{
		{"g", true, 2},
		{"g", true, 3},
	}, calls)

	// Both windows elapsed with no answer: nothing installed.
	time.Sleep(50 * time.Millisecond)
	_, ok := keys.Get("g", domain.GroupKeyVersion)
	require.False(t, ok)
	require.Len(t, init.snapshot(), 2)
}

func TestRequestKey_StopsOnceFulfilled(t *testing.T) {
	stream := &captureStream{}
	keys := newMapKeys()
	init := &fakeInitiator{}
	// Simulate the key landing during the first engagement window.
	init.onCalled = func(initiateCall) {
		_ = keys.Put("g", domain.GroupKeyVersion, testKey(0xAA))
	}
	c := group.New(stream, keys, init, 1, 0, 20*time.Millisecond, zap.NewNop())
	defer c.Shutdown()

	c.RequestKey("g", []domain.UserID{2, 3})

	time.Sleep(150 * time.Millisecond)
	require.Len(t, init.snapshot(), 1)
}

func TestRequestKey_AlreadyFulfilledDoesNothing(t *testing.T) {
	init := &fakeInitiator{}
	keys := newMapKeys()
	require.NoError(t, keys.Put("g", domain.GroupKeyVersion, testKey(0xAA)))
	c := group.New(&captureStream{}, keys, init, 1, 0, 20*time.Millisecond, zap.NewNop())
	defer c.Shutdown()

	c.RequestKey("g", []domain.UserID{2})
	time.Sleep(80 * time.Millisecond)
	require.Empty(t, init.snapshot())
}

func TestCompletion_SendsSharingRequestToEngagedCandidate(t *testing.T) {
	stream := &captureStream{}
	keys := newMapKeys()
	init := &fakeInitiator{}
	c := group.New(stream, keys, init, 1, 0, time.Second, zap.NewNop())
	defer c.Shutdown()

	c.RequestKey("g", []domain.UserID{2})
	require.Eventually(t, func() bool {
		return len(init.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	// The handshake with the candidate completes.
	keys.putMember("g", 2, testKey(0x02))
	c.PairwiseEstablished("g", 2)

	sent := stream.snapshot()
	require.Len(t, sent, 1)
	require.Equal(t, domain.KeySharingRequest, sent[0].Type)
	require.Equal(t, domain.TargetUser(2), sent[0].ObjectID)

	// A completion with someone we are not engaged with sends nothing.
	keys.putMember("g", 5, testKey(0x05))
	c.PairwiseEstablished("g", 5)
	require.Len(t, stream.snapshot(), 1)
}

func TestHandleSharingRequest(t *testing.T) {
	ctx := context.Background()
	stream := &captureStream{}
	keys := newMapKeys()
	c := group.New(stream, keys, &fakeInitiator{}, 1, 0, 0, zap.NewNop())
	defer c.Shutdown()

	req := domain.NewEnvelope(domain.TargetUser(1), "g", domain.KeySharingRequest, "", 7)

	// No group key yet: silently ignored.
	require.NoError(t, c.HandleSharingRequest(ctx, req))
	require.Empty(t, stream.snapshot())

	// Group key but no pairwise key with the sender: still ignored.
	require.NoError(t, keys.Put("g", domain.GroupKeyVersion, testKey(0xAA)))
	require.NoError(t, c.HandleSharingRequest(ctx, req))
	require.Empty(t, stream.snapshot())

	keys.putMember("g", 7, testKey(0x07))
	require.NoError(t, c.HandleSharingRequest(ctx, req))

	sent := stream.snapshot()
	require.Len(t, sent, 1)
	require.Equal(t, domain.KeySharingPayload, sent[0].Type)
	require.Equal(t, domain.TargetUser(7), sent[0].ObjectID)

	secret, err := crypto.Decrypt(sent[0].Value, testKey(0x07))
	require.NoError(t, err)
	require.Equal(t, testKey(0xAA).Material, secret)
}

func TestHandleSharingPayload(t *testing.T) {
	ctx := context.Background()
	keys := newMapKeys()
	c := group.New(&captureStream{}, keys, &fakeInitiator{}, 1, 0, 0, zap.NewNop())
	defer c.Shutdown()

	secret := testKey(0xAA).Material
	sealed, err := crypto.Encrypt(secret, testKey(0x09))
	require.NoError(t, err)

	// Unknown sender: dropped.
	env := domain.NewEnvelope(domain.TargetUser(1), "g", domain.KeySharingPayload, sealed, 9)
	require.NoError(t, c.HandleSharingPayload(ctx, env))
	_, ok := keys.Get("g", domain.GroupKeyVersion)
	require.False(t, ok)

	keys.putMember("g", 9, testKey(0x09))
	require.NoError(t, c.HandleSharingPayload(ctx, env))
	got, ok := keys.Get("g", domain.GroupKeyVersion)
	require.True(t, ok)
	require.Equal(t, secret, got.Material)

	// An undecryptable payload leaves the installed key alone.
	bad := domain.NewEnvelope(domain.TargetUser(1), "g", domain.KeySharingPayload, "!!! not base64", 9)
	require.NoError(t, c.HandleSharingPayload(ctx, bad))
	got, _ = keys.Get("g", domain.GroupKeyVersion)
	require.Equal(t, secret, got.Material)
}

func TestShutdown_StopsRequesterLoop(t *testing.T) {
	init := &fakeInitiator{}
	c := group.New(&captureStream{}, newMapKeys(), init, 1, 0, time.Hour, zap.NewNop())

	c.RequestKey("g", []domain.UserID{2, 3})
	require.Eventually(t, func() bool {
		return len(init.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not interrupt the requester loop")
	}
	// No further candidates engaged after shutdown.
	require.Len(t, init.snapshot(), 1)
}
