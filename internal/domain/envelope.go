package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType tags the meta events exchanged during key agreement. The relay
// also carries unrelated event types; they are routed elsewhere and never
// reach this subsystem.
type EventType string

const (
	HandshakeRequest       EventType = "HANDSHAKE_REQUEST"
	HandshakeResponse      EventType = "HANDSHAKE_RESPONSE"
	GroupHandshakeRequest  EventType = "GROUP_HANDSHAKE_REQUEST"
	GroupHandshakeResponse EventType = "GROUP_HANDSHAKE_RESPONSE"
	KeySharingRequest      EventType = "KEY_SHARING_REQUEST"
	KeySharingPayload      EventType = "KEY_SHARING_PAYLOAD"
)

// Envelope is the opaque event record relayed between clients. The relay
// never inspects Value; handshake types carry base64 DER public key
// material, KeySharingPayload carries the base64 encrypted group secret and
// a bare KeySharingRequest carries nothing.
type Envelope struct {
	ID        string    `json:"id"`
	ObjectID  string    `json:"objectId"`
	ChannelID ChannelID `json:"channelId"`
	Type      EventType `json:"type"`
	Value     string    `json:"value"`
	Timestamp int64     `json:"timestamp"`
	SenderID  UserID    `json:"senderUserId"`
}

// NewEnvelope stamps a fresh envelope with a unique id and the current time.
// An empty objectID means "first/any recipient".
func NewEnvelope(objectID string, channel ChannelID, typ EventType, value string, sender UserID) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		ObjectID:  objectID,
		ChannelID: channel,
		Type:      typ,
		Value:     value,
		Timestamp: time.Now().Unix(),
		SenderID:  sender,
	}
}

// TargetUser formats a user id for the ObjectID field.
func TargetUser(u UserID) string { return strconv.FormatInt(int64(u), 10) }

// AddressedTo reports whether the envelope targets the given user.
func (e Envelope) AddressedTo(u UserID) bool { return e.ObjectID == TargetUser(u) }

// Broadcast reports whether the envelope has no specific target.
func (e Envelope) Broadcast() bool { return e.ObjectID == "" }
