package kex

//
// The Exchange interface driven by the handshake, plus the exchange
// hash transcript and the session key derivation shared by all the
// concrete exchanges.
//

import (
	"bytes"
	"fmt"
	"hash"
	"math/big"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/packet"
)

// Reply holds the fields of a KEXDH_REPLY that the handshake needs
// after the shared secret has been computed.
type Reply struct {
	// HostKey is the server public host key blob, still serialized.
	HostKey []byte

	// Signature is the signature blob over the exchange hash.
	Signature []byte
}

// Transcript collects the canonical handshake transcript hashed into
// the exchange hash: both banners without their line terminators, both
// KEXINIT messages including the message code byte, and the host key.
type Transcript struct {
	ClientBanner  string
	ServerBanner  string
	ClientKexInit []byte
	ServerKexInit []byte
	HostKey       []byte
}

// Exchange is one run of a key exchange algorithm. Implementations own
// secret material and must zeroize it when Burn is called, which is
// required on every path once the exchange has started.
type Exchange interface {
	// InitPayload generates the ephemeral secret and returns the body
	// of the KEXDH_INIT message, after the message code byte.
	InitPayload() ([]byte, error)

	// ProcessReply parses the body of the KEXDH_REPLY message and
	// computes the shared secret.
	ProcessReply(payload []byte) (*Reply, error)

	// ExchangeHash computes the exchange hash over the given
	// transcript and the exchanged values. Must be called after
	// ProcessReply.
	ExchangeHash(t *Transcript) ([]byte, error)

	// DeriveKeys derives the session key material for the negotiated
	// algorithms. Must be called after ExchangeHash.
	DeriveKeys(sessionID []byte, algo packet.Algorithms) (*packet.KeyMaterial, error)

	// Burn zeroizes the secret material held by the exchange.
	Burn()
}

// NewExchange returns the exchange implementing the given negotiated
// key exchange name.
func NewExchange(name string) (Exchange, error) {
	switch name {
	case KexGroup1SHA1:
		return newDHExchange(dhGroup1, sha1New), nil
	case KexGroup14SHA1:
		return newDHExchange(dhGroup14, sha1New), nil
	case KexGroup14SHA256:
		return newDHExchange(dhGroup14, sha256New), nil
	case KexCurve25519SHA256, KexCurve25519SHA256LibSSH:
		return newCurve25519Exchange(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKex, name)
	}
}

// hashTranscript computes the exchange hash given the hash algorithm,
// the transcript, the two public values already in wire form, and the
// shared secret.
func hashTranscript(hashNew func() hash.Hash, t *Transcript, wireE, wireF []byte, k *big.Int) ([]byte, error) {
	buf := &bytes.Buffer{}
	for _, s := range [][]byte{
		[]byte(t.ClientBanner),
		[]byte(t.ServerBanner),
		t.ClientKexInit,
		t.ServerKexInit,
		t.HostKey,
	} {
		if err := bytesx.WriteString(buf, s); err != nil {
			return nil, err
		}
	}
	buf.Write(wireE)
	buf.Write(wireF)
	if err := bytesx.WriteBigInt(buf, k); err != nil {
		return nil, err
	}
	digest := hashNew()
	digest.Write(buf.Bytes())
	h := digest.Sum(nil)
	bytesx.Burn(buf.Bytes())
	return h, nil
}

// deriveKeyMaterial implements the derivation of RFC 4253 section 7.2:
// every key is HASH(K || H || letter || session_id), extended with
// HASH(K || H || K1 || ... || Kn) until long enough.
func deriveKeyMaterial(hashNew func() hash.Hash, k *big.Int, h, sessionID []byte,
	algo packet.Algorithms) (*packet.KeyMaterial, error) {
	kBuf := &bytes.Buffer{}
	if err := bytesx.WriteBigInt(kBuf, k); err != nil {
		return nil, err
	}
	defer bytesx.Burn(kBuf.Bytes())

	derive := func(letter byte, size int) []byte {
		digest := hashNew()
		digest.Write(kBuf.Bytes())
		digest.Write(h)
		digest.Write([]byte{letter})
		digest.Write(sessionID)
		out := digest.Sum(nil)
		for len(out) < size {
			digest = hashNew()
			digest.Write(kBuf.Bytes())
			digest.Write(h)
			digest.Write(out)
			out = append(out, digest.Sum(nil)...)
		}
		return out[:size]
	}

	ivOut, keyOut, macOut, err := packet.KeySizes(algo.CipherClientToServer, algo.MACClientToServer)
	if err != nil {
		return nil, err
	}
	ivIn, keyIn, macIn, err := packet.KeySizes(algo.CipherServerToClient, algo.MACServerToClient)
	if err != nil {
		return nil, err
	}
	return &packet.KeyMaterial{
		IVClientToServer:  derive('A', ivOut),
		IVServerToClient:  derive('B', ivIn),
		KeyClientToServer: derive('C', keyOut),
		KeyServerToClient: derive('D', keyIn),
		MACClientToServer: derive('E', macOut),
		MACServerToClient: derive('F', macIn),
	}, nil
}
