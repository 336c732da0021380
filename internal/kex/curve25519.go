package kex

//
// The curve25519-sha256 exchange of RFC 8731. The wire messages reuse
// the KEXDH_INIT and KEXDH_REPLY codes; the public values travel as
// plain strings and the shared secret is hashed as an mpint.
//

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/curve25519"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/packet"
)

// curve25519Exchange runs a curve25519-sha256 exchange.
type curve25519Exchange struct {
	priv      []byte
	pub       []byte
	serverPub []byte
	k         *big.Int
	h         []byte
}

var _ Exchange = &curve25519Exchange{}

func newCurve25519Exchange() *curve25519Exchange {
	return &curve25519Exchange{}
}

// InitPayload generates the ephemeral scalar and returns the body of
// the KEXDH_INIT message carrying our public value as a string.
func (ex *curve25519Exchange) InitPayload() ([]byte, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		bytesx.Burn(priv)
		return nil, err
	}
	ex.priv = priv
	ex.pub = pub
	buf := &bytes.Buffer{}
	if err := bytesx.WriteString(buf, pub); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ProcessReply parses the KEXDH_REPLY body and computes the shared
// secret. On failure the temporaries parsed so far are burned.
func (ex *curve25519Exchange) ProcessReply(payload []byte) (*Reply, error) {
	if ex.priv == nil {
		return nil, ErrExchangeOrder
	}
	buf := bytes.NewBuffer(payload)
	hostKey, err := bytesx.ReadString(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedReply, err)
	}
	serverPub, err := bytesx.ReadString(buf)
	if err != nil {
		bytesx.Burn(hostKey)
		return nil, fmt.Errorf("%w: %s", ErrMalformedReply, err)
	}
	signature, err := bytesx.ReadString(buf)
	if err != nil {
		bytesx.Burn(hostKey)
		bytesx.Burn(serverPub)
		return nil, fmt.Errorf("%w: %s", ErrMalformedReply, err)
	}
	if len(serverPub) != curve25519.PointSize {
		bytesx.Burn(hostKey)
		bytesx.Burn(serverPub)
		bytesx.Burn(signature)
		return nil, ErrBadPeerValue
	}
	shared, err := curve25519.X25519(ex.priv, serverPub)
	if err != nil {
		bytesx.Burn(hostKey)
		bytesx.Burn(serverPub)
		bytesx.Burn(signature)
		return nil, fmt.Errorf("%w: %s", ErrBadPeerValue, err)
	}
	ex.serverPub = serverPub
	ex.k = new(big.Int).SetBytes(shared)
	bytesx.Burn(shared)
	return &Reply{HostKey: hostKey, Signature: signature}, nil
}

// ExchangeHash computes the exchange hash over the transcript and the
// exchanged public values.
func (ex *curve25519Exchange) ExchangeHash(t *Transcript) ([]byte, error) {
	if ex.k == nil {
		return nil, ErrExchangeOrder
	}
	wireQC := &bytes.Buffer{}
	if err := bytesx.WriteString(wireQC, ex.pub); err != nil {
		return nil, err
	}
	wireQS := &bytes.Buffer{}
	if err := bytesx.WriteString(wireQS, ex.serverPub); err != nil {
		return nil, err
	}
	h, err := hashTranscript(sha256New, t, wireQC.Bytes(), wireQS.Bytes(), ex.k)
	if err != nil {
		return nil, err
	}
	ex.h = h
	return h, nil
}

// DeriveKeys derives the session key material.
func (ex *curve25519Exchange) DeriveKeys(sessionID []byte, algo packet.Algorithms) (*packet.KeyMaterial, error) {
	if ex.h == nil {
		return nil, ErrExchangeOrder
	}
	return deriveKeyMaterial(sha256New, ex.k, ex.h, sessionID, algo)
}

// Burn zeroizes the ephemeral scalar and the shared secret.
func (ex *curve25519Exchange) Burn() {
	bytesx.Burn(ex.priv)
	bytesx.BurnBigInt(ex.k)
	ex.priv, ex.k = nil, nil
}
