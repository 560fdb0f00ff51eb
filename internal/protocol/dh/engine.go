package dh

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"chatique/internal/crypto"
	"chatique/internal/domain"
	"chatique/internal/util/memzero"
)

// KeyWriter is the slice of the key store the engine needs.
type KeyWriter interface {
	NextVersion(domain.ChannelID) domain.KeyVersion
	Put(domain.ChannelID, domain.KeyVersion, domain.SymmetricKey) error
	PutMemberKey(domain.ChannelID, domain.UserID, domain.SymmetricKey) error
}

// CompletionListener is notified when an exchange finalizes on the
// initiating side. Dual completions carry domain.NoUser; group completions
// carry the peer whose pairwise key was just established.
type CompletionListener interface {
	PairwiseEstablished(channel domain.ChannelID, peer domain.UserID)
}

// pending holds engine-private material between Initiate and the matching
// response. Never persisted.
type pending struct {
	params crypto.Params
	priv   *big.Int
}

// Engine drives DH exchanges over the event stream. Stateless with respect
// to storage: established keys go straight to the KeyWriter.
type Engine struct {
	stream   domain.EventStream
	keys     KeyWriter
	listener CompletionListener
	self     domain.UserID
	bits     int
	log      *zap.Logger

	mu       sync.Mutex
	pendings map[domain.ChannelID]pending
}

// New builds an engine generating groups of the given modulus size. The
// completion listener is attached separately via SetListener so the engine
// and coordinator can be wired to each other.
func New(stream domain.EventStream, keys KeyWriter, self domain.UserID, bits int, log *zap.Logger) *Engine {
	return &Engine{
		stream:   stream,
		keys:     keys,
		self:     self,
		bits:     bits,
		log:      log,
		pendings: make(map[domain.ChannelID]pending),
	}
}

// SetListener attaches the completion listener. Must be called before the
// engine starts receiving events.
func (e *Engine) SetListener(l CompletionListener) { e.listener = l }

// Initiate is step 1: generate an ephemeral key pair, park the private half
// and publish the public half. A stale pending agreement on the channel is
// overwritten. An empty target broadcasts to the whole channel.
func (e *Engine) Initiate(ctx context.Context, channel domain.ChannelID, group bool, target domain.UserID) error {
	params, err := crypto.GenerateParams(e.bits)
	if err != nil {
		return fmt.Errorf("dh: generate params: %w", err)
	}
	kp, err := params.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("dh: generate key pair: %w", err)
	}
	der, err := crypto.MarshalPublicKey(params, kp.Y)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.pendings[channel] = pending{params: params, priv: kp.X}
	e.mu.Unlock()

	typ := domain.HandshakeRequest
	if group {
		typ = domain.GroupHandshakeRequest
	}
	objectID := ""
	if target != domain.NoUser {
		objectID = domain.TargetUser(target)
	}
	env := domain.NewEnvelope(objectID, channel, typ, crypto.B64(der), e.self)
	return e.stream.Send(ctx, env)
}

// HandleRequest is step 2, the responder branch: mirror the peer's group
// parameters, derive the shared key immediately, answer with our public
// value and store the key under the flavor the request carried.
func (e *Engine) HandleRequest(ctx context.Context, env domain.Envelope) error {
	der, err := crypto.FromB64(env.Value)
	if err != nil {
		return fmt.Errorf("dh: request payload: %w", err)
	}
	params, peerPub, err := crypto.ParsePublicKey(der)
	if err != nil {
		return err
	}
	kp, err := params.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("dh: generate key pair: %w", err)
	}
	secret, err := params.SharedSecret(kp.X, peerPub)
	if err != nil {
		return err
	}
	key := domain.NewAESKey(secret)
	memzero.Zero(secret)

	ourDER, err := crypto.MarshalPublicKey(params, kp.Y)
	if err != nil {
		return err
	}

	respType := domain.HandshakeResponse
	if env.Type == domain.GroupHandshakeRequest {
		respType = domain.GroupHandshakeResponse
	}
	// A targeted request gets a reply targeted back at the sender; a
	// broadcast request gets a broadcast reply.
	objectID := ""
	if !env.Broadcast() {
		objectID = domain.TargetUser(env.SenderID)
	}
	resp := domain.NewEnvelope(objectID, env.ChannelID, respType, crypto.B64(ourDER), e.self)
	if err := e.stream.Send(ctx, resp); err != nil {
		return err
	}

	if env.Type == domain.HandshakeRequest {
		version := e.keys.NextVersion(env.ChannelID)
		if err := e.keys.Put(env.ChannelID, version, key); err != nil {
			e.log.Warn("dh: storing dual key", zap.String("channel", env.ChannelID.String()), zap.Error(err))
		}
		e.log.Debug("dh: responder stored dual key",
			zap.String("channel", env.ChannelID.String()), zap.Int64("version", int64(version)))
	} else {
		if err := e.keys.PutMemberKey(env.ChannelID, env.SenderID, key); err != nil {
			e.log.Warn("dh: storing member key", zap.String("channel", env.ChannelID.String()), zap.Error(err))
		}
		e.log.Debug("dh: responder stored member key",
			zap.String("channel", env.ChannelID.String()), zap.Int64("peer", int64(env.SenderID)))
	}
	return nil
}

// HandleResponse is step 3: finalize with the parked private key. A
// response for a channel with no pending agreement is stale or duplicate
// and is dropped without any state change or emitted event.
//
// The dual flavor consumes the pending agreement. The group flavor keeps
// it: an admin's broadcast handshake finalizes once per responding member
// against the same ephemeral private key.
func (e *Engine) HandleResponse(ctx context.Context, env domain.Envelope) error {
	dual := env.Type == domain.HandshakeResponse

	e.mu.Lock()
	agr, ok := e.pendings[env.ChannelID]
	if ok && dual {
		delete(e.pendings, env.ChannelID)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Debug("dh: response without pending agreement",
			zap.String("channel", env.ChannelID.String()), zap.Int64("peer", int64(env.SenderID)))
		return nil
	}

	der, err := crypto.FromB64(env.Value)
	if err != nil {
		return fmt.Errorf("dh: response payload: %w", err)
	}
	_, peerPub, err := crypto.ParsePublicKey(der)
	if err != nil {
		return err
	}
	secret, err := agr.params.SharedSecret(agr.priv, peerPub)
	if err != nil {
		return err
	}
	key := domain.NewAESKey(secret)
	memzero.Zero(secret)

	if dual {
		version := e.keys.NextVersion(env.ChannelID)
		if err := e.keys.Put(env.ChannelID, version, key); err != nil {
			e.log.Warn("dh: storing dual key", zap.String("channel", env.ChannelID.String()), zap.Error(err))
		}
		e.log.Debug("dh: initiator stored dual key",
			zap.String("channel", env.ChannelID.String()), zap.Int64("version", int64(version)))
		if e.listener != nil {
			e.listener.PairwiseEstablished(env.ChannelID, domain.NoUser)
		}
		return nil
	}

	if err := e.keys.PutMemberKey(env.ChannelID, env.SenderID, key); err != nil {
		e.log.Warn("dh: storing member key", zap.String("channel", env.ChannelID.String()), zap.Error(err))
	}
	e.log.Debug("dh: initiator stored member key",
		zap.String("channel", env.ChannelID.String()), zap.Int64("peer", int64(env.SenderID)))
	if e.listener != nil {
		e.listener.PairwiseEstablished(env.ChannelID, env.SenderID)
	}
	return nil
}
