package kex

import (
	"bytes"
	"crypto/rand"
	"errors"
	"math/big"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/ooni/minissh/internal/bytesx"
)

// curve25519ServerReply plays the server side of a curve25519 exchange:
// it parses the client public value from the KEXDH_INIT body, generates
// its own scalar, and returns the KEXDH_REPLY body together with the
// shared secret it computed.
func curve25519ServerReply(t *testing.T, initPayload []byte) ([]byte, *big.Int) {
	clientPub, err := bytesx.ReadString(bytes.NewBuffer(initPayload))
	if err != nil {
		t.Fatal(err)
	}
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		t.Fatal(err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := curve25519.X25519(priv, clientPub)
	if err != nil {
		t.Fatal(err)
	}
	buf := &bytes.Buffer{}
	if err := bytesx.WriteString(buf, []byte("fake-host-key")); err != nil {
		t.Fatal(err)
	}
	if err := bytesx.WriteString(buf, pub); err != nil {
		t.Fatal(err)
	}
	if err := bytesx.WriteString(buf, []byte("fake-signature")); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), new(big.Int).SetBytes(shared)
}

func TestCurve25519Exchange(t *testing.T) {
	t.Run("both sides agree on the shared secret", func(t *testing.T) {
		ex := newCurve25519Exchange()
		initPayload, err := ex.InitPayload()
		if err != nil {
			t.Fatal(err)
		}
		replyPayload, serverK := curve25519ServerReply(t, initPayload)
		reply, err := ex.ProcessReply(replyPayload)
		if err != nil {
			t.Fatal(err)
		}
		if string(reply.HostKey) != "fake-host-key" {
			t.Errorf("unexpected host key: %q", reply.HostKey)
		}
		if ex.k.Cmp(serverK) != 0 {
			t.Error("the two sides disagree on the shared secret")
		}
	})

	t.Run("the exchange hash is a sha256 digest", func(t *testing.T) {
		ex := newCurve25519Exchange()
		initPayload, err := ex.InitPayload()
		if err != nil {
			t.Fatal(err)
		}
		replyPayload, _ := curve25519ServerReply(t, initPayload)
		reply, err := ex.ProcessReply(replyPayload)
		if err != nil {
			t.Fatal(err)
		}
		hash, err := ex.ExchangeHash(&Transcript{
			ClientBanner:  "SSH-2.0-client",
			ServerBanner:  "SSH-2.0-server",
			ClientKexInit: []byte{20, 1, 2, 3},
			ServerKexInit: []byte{20, 4, 5, 6},
			HostKey:       reply.HostKey,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(hash) != 32 {
			t.Errorf("unexpected digest size: %d", len(hash))
		}
	})

	t.Run("key derivation produces distinct directional keys", func(t *testing.T) {
		ex := newCurve25519Exchange()
		initPayload, err := ex.InitPayload()
		if err != nil {
			t.Fatal(err)
		}
		replyPayload, _ := curve25519ServerReply(t, initPayload)
		reply, err := ex.ProcessReply(replyPayload)
		if err != nil {
			t.Fatal(err)
		}
		hash, err := ex.ExchangeHash(&Transcript{
			ClientBanner:  "SSH-2.0-client",
			ServerBanner:  "SSH-2.0-server",
			ClientKexInit: []byte{20, 1},
			ServerKexInit: []byte{20, 2},
			HostKey:       reply.HostKey,
		})
		if err != nil {
			t.Fatal(err)
		}
		keys, err := ex.DeriveKeys(hash, newTestAlgorithms())
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Equal(keys.KeyClientToServer, keys.KeyServerToClient) {
			t.Error("expected distinct directional keys")
		}
		if bytes.Equal(keys.MACClientToServer, keys.MACServerToClient) {
			t.Error("expected distinct directional MAC keys")
		}
	})

	t.Run("burn forgets the secret material", func(t *testing.T) {
		ex := newCurve25519Exchange()
		initPayload, err := ex.InitPayload()
		if err != nil {
			t.Fatal(err)
		}
		replyPayload, _ := curve25519ServerReply(t, initPayload)
		if _, err := ex.ProcessReply(replyPayload); err != nil {
			t.Fatal(err)
		}
		ex.Burn()
		if ex.priv != nil || ex.k != nil {
			t.Error("expected the secret material to be gone")
		}
	})
}

func TestCurve25519ProcessReply(t *testing.T) {
	newStarted := func() *curve25519Exchange {
		ex := newCurve25519Exchange()
		if _, err := ex.InitPayload(); err != nil {
			t.Fatal(err)
		}
		return ex
	}

	t.Run("empty payload", func(t *testing.T) {
		if _, err := newStarted().ProcessReply(nil); !errors.Is(err, ErrMalformedReply) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("truncated after the server public value", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := bytesx.WriteString(buf, []byte("fake-host-key")); err != nil {
			t.Fatal(err)
		}
		if err := bytesx.WriteString(buf, make([]byte, curve25519.PointSize)); err != nil {
			t.Fatal(err)
		}
		if _, err := newStarted().ProcessReply(buf.Bytes()); !errors.Is(err, ErrMalformedReply) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("server public value with the wrong size", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := bytesx.WriteString(buf, []byte("fake-host-key")); err != nil {
			t.Fatal(err)
		}
		if err := bytesx.WriteString(buf, make([]byte, 16)); err != nil {
			t.Fatal(err)
		}
		if err := bytesx.WriteString(buf, []byte("fake-signature")); err != nil {
			t.Fatal(err)
		}
		if _, err := newStarted().ProcessReply(buf.Bytes()); !errors.Is(err, ErrBadPeerValue) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("reply before init", func(t *testing.T) {
		ex := newCurve25519Exchange()
		if _, err := ex.ProcessReply(nil); !errors.Is(err, ErrExchangeOrder) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
