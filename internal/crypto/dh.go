package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// MinDHBits is the smallest modulus size accepted when generating
// parameters. The historical default is 256 bits, which is fast but far
// below modern strength; deployments wanting real security must configure
// 2048 bits or more.
const MinDHBits = 64

var (
	one = big.NewInt(1)
	two = big.NewInt(2)

	// ErrInvalidPublicKey is returned for a peer public value outside the
	// [2, p-2] range.
	ErrInvalidPublicKey = errors.New("dh: peer public value out of range")
)

// Params is a finite-field DH group: prime modulus and generator.
type Params struct {
	P *big.Int
	G *big.Int
}

// KeyPair is an ephemeral DH key pair bound to its group.
type KeyPair struct {
	Params Params
	X      *big.Int // private exponent
	Y      *big.Int // public value g^x mod p
}

// GenerateParams produces a safe-prime group of the given modulus size with
// generator 2.
func GenerateParams(bits int) (Params, error) {
	if bits < MinDHBits {
		return Params{}, fmt.Errorf("dh: modulus size %d below minimum %d", bits, MinDHBits)
	}
	for {
		q, err := rand.Prime(rand.Reader, bits-1)
		if err != nil {
			return Params{}, err
		}
		p := new(big.Int).Lsh(q, 1)
		p.Add(p, one)
		if p.ProbablyPrime(20) {
			return Params{P: p, G: new(big.Int).Set(two)}, nil
		}
	}
}

// GenerateKeyPair picks a fresh private exponent in [2, p-2] and computes
// the matching public value.
func (p Params) GenerateKeyPair() (KeyPair, error) {
	if p.P == nil || p.G == nil {
		return KeyPair{}, errors.New("dh: nil group parameters")
	}
	upper := new(big.Int).Sub(p.P, two) // excludes p-2 itself; range [0, p-3)
	x, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return KeyPair{}, err
	}
	x.Add(x, two)
	y := new(big.Int).Exp(p.G, x, p.P)
	return KeyPair{Params: p, X: x, Y: y}, nil
}

// SharedSecret computes peerPub^priv mod p, left-padded to the modulus
// width so both sides derive identical bytes. The caller owns wiping the
// returned slice once key material has been extracted.
func (p Params) SharedSecret(priv, peerPub *big.Int) ([]byte, error) {
	if err := p.checkPublic(peerPub); err != nil {
		return nil, err
	}
	s := new(big.Int).Exp(peerPub, priv, p.P)
	out := make([]byte, (p.P.BitLen()+7)/8)
	s.FillBytes(out)
	s.SetInt64(0)
	return out, nil
}

func (p Params) checkPublic(y *big.Int) error {
	if y == nil {
		return ErrInvalidPublicKey
	}
	max := new(big.Int).Sub(p.P, two)
	if y.Cmp(two) < 0 || y.Cmp(max) > 0 {
		return ErrInvalidPublicKey
	}
	return nil
}
