package kex

//
// Finite field Diffie-Hellman over the group1 and group14 primes.
//

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/big"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/packet"
	"github.com/ooni/minissh/internal/runtimex"
) //#nosec G505
//  We know that sha1 is aging, but we do not control the ssh protocol.

var (
	// ErrMalformedReply indicates that a KEXDH_REPLY cannot be parsed.
	ErrMalformedReply = errors.New("malformed KEXDH_REPLY")

	// ErrBadPeerValue indicates that the server public value is out of
	// range for the group.
	ErrBadPeerValue = errors.New("server public value out of range")

	// ErrExchangeOrder indicates that an exchange method was called
	// before its prerequisite.
	ErrExchangeOrder = errors.New("exchange called out of order")
)

func sha1New() hash.Hash   { return sha1.New() }
func sha256New() hash.Hash { return sha256.New() }

// dhGroup is a finite field group with a fixed generator.
type dhGroup struct {
	p *big.Int
	g *big.Int
}

// newDHGroupFromHex builds a group from the hex representation of its
// prime, with generator two.
func newDHGroupFromHex(pHex string) *dhGroup {
	p, ok := new(big.Int).SetString(pHex, 16)
	runtimex.PanicIfFalse(ok, "invalid group prime")
	return &dhGroup{p: p, g: big.NewInt(2)}
}

// The Oakley Group 2 prime of RFC 2409 section 6.2.
var dhGroup1 = newDHGroupFromHex(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381FFFFFFFFFFFFFFFF")

// The 2048-bit MODP group of RFC 3526 section 3.
var dhGroup14 = newDHGroupFromHex(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF")

// randReader mocks the random source in tests.
var randReader io.Reader = rand.Reader

// dhExchange runs a finite field Diffie-Hellman exchange.
type dhExchange struct {
	group   *dhGroup
	hashNew func() hash.Hash

	x *big.Int
	e *big.Int
	f *big.Int
	k *big.Int
	h []byte
}

var _ Exchange = &dhExchange{}

func newDHExchange(group *dhGroup, hashNew func() hash.Hash) *dhExchange {
	return &dhExchange{group: group, hashNew: hashNew}
}

// InitPayload generates the secret exponent in [2, q-1] where q is the
// order of the generated subgroup, computes e, and returns the body of
// the KEXDH_INIT message.
func (ex *dhExchange) InitPayload() ([]byte, error) {
	q := new(big.Int).Rsh(ex.group.p, 1)
	two := big.NewInt(2)
	for {
		x, err := rand.Int(randReader, q)
		if err != nil {
			return nil, err
		}
		if x.Cmp(two) >= 0 {
			ex.x = x
			break
		}
	}
	ex.e = new(big.Int).Exp(ex.group.g, ex.x, ex.group.p)
	buf := &bytes.Buffer{}
	if err := bytesx.WriteBigInt(buf, ex.e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ProcessReply parses the KEXDH_REPLY body and computes the shared
// secret. On failure the temporaries parsed so far are burned.
func (ex *dhExchange) ProcessReply(payload []byte) (*Reply, error) {
	if ex.x == nil {
		return nil, ErrExchangeOrder
	}
	buf := bytes.NewBuffer(payload)
	hostKey, err := bytesx.ReadString(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedReply, err)
	}
	f, err := bytesx.ReadBigInt(buf)
	if err != nil {
		bytesx.Burn(hostKey)
		return nil, fmt.Errorf("%w: %s", ErrMalformedReply, err)
	}
	signature, err := bytesx.ReadString(buf)
	if err != nil {
		bytesx.Burn(hostKey)
		bytesx.BurnBigInt(f)
		return nil, fmt.Errorf("%w: %s", ErrMalformedReply, err)
	}
	one := big.NewInt(1)
	pMinusOne := new(big.Int).Sub(ex.group.p, one)
	if f.Cmp(one) < 0 || f.Cmp(pMinusOne) >= 0 {
		bytesx.Burn(hostKey)
		bytesx.Burn(signature)
		bytesx.BurnBigInt(f)
		return nil, ErrBadPeerValue
	}
	ex.f = f
	ex.k = new(big.Int).Exp(f, ex.x, ex.group.p)
	return &Reply{HostKey: hostKey, Signature: signature}, nil
}

// ExchangeHash computes the exchange hash over the transcript and the
// exchanged public values.
func (ex *dhExchange) ExchangeHash(t *Transcript) ([]byte, error) {
	if ex.k == nil {
		return nil, ErrExchangeOrder
	}
	wireE := &bytes.Buffer{}
	if err := bytesx.WriteBigInt(wireE, ex.e); err != nil {
		return nil, err
	}
	wireF := &bytes.Buffer{}
	if err := bytesx.WriteBigInt(wireF, ex.f); err != nil {
		return nil, err
	}
	h, err := hashTranscript(ex.hashNew, t, wireE.Bytes(), wireF.Bytes(), ex.k)
	if err != nil {
		return nil, err
	}
	ex.h = h
	return h, nil
}

// DeriveKeys derives the session key material.
func (ex *dhExchange) DeriveKeys(sessionID []byte, algo packet.Algorithms) (*packet.KeyMaterial, error) {
	if ex.h == nil {
		return nil, ErrExchangeOrder
	}
	return deriveKeyMaterial(ex.hashNew, ex.k, ex.h, sessionID, algo)
}

// Burn zeroizes the secret exponent and the shared secret, together
// with the public values that are no longer needed.
func (ex *dhExchange) Burn() {
	bytesx.BurnBigInt(ex.x)
	bytesx.BurnBigInt(ex.k)
	bytesx.BurnBigInt(ex.e)
	bytesx.BurnBigInt(ex.f)
	ex.x, ex.k, ex.e, ex.f = nil, nil, nil, nil
}
