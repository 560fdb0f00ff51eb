package domain

// ChannelID identifies a chat, 1:1 or group. Opaque and stable for the
// lifetime of the chat.
type ChannelID string

// String returns the string form of the channel identifier.
func (c ChannelID) String() string { return string(c) }

// UserID is the relay-assigned numeric user identity.
type UserID int64

// NoUser marks the absence of a peer, e.g. a broadcast handshake or a dual
// exchange completion that carries no group bookkeeping.
const NoUser UserID = -1

// KeyVersion is the per-channel key counter. Dual keys are stored under a
// monotonically increasing version; group shared keys always live at
// GroupKeyVersion and are replaced in place.
type KeyVersion int64

// GroupKeyVersion is the fixed version slot holding a channel's group
// shared secret.
const GroupKeyVersion KeyVersion = 0

// AESKeySize is the effective symmetric key length (AES-128).
const AESKeySize = 16

// SymmetricKey is immutable raw key material plus its algorithm tag.
type SymmetricKey struct {
	Algorithm string
	Material  []byte
}

// NewAESKey builds an AES-128 key from the leading AESKeySize bytes of
// secret. The material is copied so callers may wipe their buffer.
func NewAESKey(secret []byte) SymmetricKey {
	n := len(secret)
	if n > AESKeySize {
		n = AESKeySize
	}
	material := make([]byte, n)
	copy(material, secret[:n])
	return SymmetricKey{Algorithm: "AES", Material: material}
}

// IsZero reports whether the key holds no material.
func (k SymmetricKey) IsZero() bool { return len(k.Material) == 0 }
