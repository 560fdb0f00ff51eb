package crypto

import (
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"math/big"
)

// publicKeyDER is the DER structure a handshake event carries: the group
// parameters travel with the public value so the responder can mirror them.
type publicKeyDER struct {
	P *big.Int
	G *big.Int
	Y *big.Int
}

// MarshalPublicKey encodes a public value with its group parameters.
func MarshalPublicKey(params Params, y *big.Int) ([]byte, error) {
	if params.P == nil || params.G == nil || y == nil {
		return nil, fmt.Errorf("dh: cannot encode incomplete public key")
	}
	return asn1.Marshal(publicKeyDER{P: params.P, G: params.G, Y: y})
}

// ParsePublicKey decodes a peer's public key and validates it against its
// own advertised group.
func ParsePublicKey(der []byte) (Params, *big.Int, error) {
	var pk publicKeyDER
	rest, err := asn1.Unmarshal(der, &pk)
	if err != nil {
		return Params{}, nil, fmt.Errorf("dh: malformed public key: %w", err)
	}
	if len(rest) != 0 {
		return Params{}, nil, fmt.Errorf("dh: trailing bytes after public key")
	}
	params := Params{P: pk.P, G: pk.G}
	if pk.P == nil || pk.P.BitLen() < MinDHBits {
		return Params{}, nil, fmt.Errorf("dh: modulus too small")
	}
	if pk.G == nil || pk.G.Cmp(two) < 0 {
		return Params{}, nil, fmt.Errorf("dh: invalid generator")
	}
	if err := params.checkPublic(pk.Y); err != nil {
		return Params{}, nil, err
	}
	return params, pk.Y, nil
}

// B64 returns standard base64 encoding without newlines.
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// FromB64 decodes standard base64.
func FromB64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
