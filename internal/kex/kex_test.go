package kex

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestKexInitRoundTrip(t *testing.T) {
	t.Run("marshal then parse yields the same structure", func(t *testing.T) {
		ki, err := NewKexInit(NewPreferences())
		if err != nil {
			t.Fatal(err)
		}
		payload, err := ki.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := ParseKexInit(payload)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(parsed, ki); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("the cookie is random", func(t *testing.T) {
		first, err := NewKexInit(NewPreferences())
		if err != nil {
			t.Fatal(err)
		}
		second, err := NewKexInit(NewPreferences())
		if err != nil {
			t.Fatal(err)
		}
		if first.Cookie == second.Cookie {
			t.Error("expected two different cookies")
		}
	})

	t.Run("a failing random source propagates", func(t *testing.T) {
		expected := errors.New("mocked error")
		savedFn := randomFn
		randomFn = func(size int) ([]byte, error) {
			return nil, expected
		}
		defer func() { randomFn = savedFn }()
		if _, err := NewKexInit(NewPreferences()); !errors.Is(err, expected) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestParseKexInit(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "empty payload",
			payload: []byte{},
		},
		{
			name:    "short cookie",
			payload: []byte{0x01, 0x02, 0x03},
		},
		{
			name: "cookie without name-lists",
			payload: []byte{
				0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
				0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseKexInit(tt.payload); !errors.Is(err, ErrMalformedKexInit) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	t.Run("truncated after the first name-lists", func(t *testing.T) {
		ki, err := NewKexInit(NewPreferences())
		if err != nil {
			t.Fatal(err)
		}
		payload, err := ki.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ParseKexInit(payload[:len(payload)-8]); !errors.Is(err, ErrMalformedKexInit) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestNegotiate(t *testing.T) {
	newInit := func(mutate func(*KexInit)) *KexInit {
		ki, err := NewKexInit(NewPreferences())
		if err != nil {
			t.Fatal(err)
		}
		if mutate != nil {
			mutate(ki)
		}
		return ki
	}

	t.Run("identical lists choose the client preference order", func(t *testing.T) {
		algo, err := Negotiate(newInit(nil), newInit(nil))
		if err != nil {
			t.Fatal(err)
		}
		if algo.Kex != KexCurve25519SHA256 {
			t.Errorf("unexpected kex: %s", algo.Kex)
		}
		if algo.HostKey != "ssh-ed25519" {
			t.Errorf("unexpected host key: %s", algo.HostKey)
		}
		if algo.CipherClientToServer != "aes128-ctr" {
			t.Errorf("unexpected cipher: %s", algo.CipherClientToServer)
		}
		if algo.MACClientToServer != "hmac-sha2-256" {
			t.Errorf("unexpected mac: %s", algo.MACClientToServer)
		}
		if algo.CompressionClientToServer != "none" {
			t.Errorf("unexpected compression: %s", algo.CompressionClientToServer)
		}
	})

	t.Run("the client preference wins over the server order", func(t *testing.T) {
		server := newInit(func(ki *KexInit) {
			ki.KexAlgos = []string{KexGroup14SHA1, KexGroup14SHA256}
		})
		algo, err := Negotiate(newInit(nil), server)
		if err != nil {
			t.Fatal(err)
		}
		if algo.Kex != KexGroup14SHA256 {
			t.Errorf("unexpected kex: %s", algo.Kex)
		}
	})

	t.Run("negotiation is deterministic", func(t *testing.T) {
		client, server := newInit(nil), newInit(nil)
		first, err := Negotiate(client, server)
		if err != nil {
			t.Fatal(err)
		}
		second, err := Negotiate(client, server)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("an empty intersection fails", func(t *testing.T) {
		server := newInit(func(ki *KexInit) {
			ki.KexAlgos = []string{"ecdh-sha2-nistp256"}
		})
		if _, err := Negotiate(newInit(nil), server); !errors.Is(err, ErrNoCommonAlgo) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("a cipher mismatch fails even when the kex matches", func(t *testing.T) {
		server := newInit(func(ki *KexInit) {
			ki.CiphersClientToServer = []string{"chacha20-poly1305@openssh.com"}
		})
		if _, err := Negotiate(newInit(nil), server); !errors.Is(err, ErrNoCommonAlgo) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestNewExchange(t *testing.T) {
	for _, name := range DefaultKexAlgos {
		t.Run(name, func(t *testing.T) {
			ex, err := NewExchange(name)
			if err != nil {
				t.Fatal(err)
			}
			if ex == nil {
				t.Fatal("expected an exchange")
			}
		})
	}
	t.Run("unknown name", func(t *testing.T) {
		if _, err := NewExchange("ecdh-sha2-nistp256"); !errors.Is(err, ErrUnsupportedKex) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
