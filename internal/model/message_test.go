package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		mtype MessageType
		want  string
	}{
		{SSH_MSG_DISCONNECT, "SSH_MSG_DISCONNECT"},
		{SSH_MSG_IGNORE, "SSH_MSG_IGNORE"},
		{SSH_MSG_UNIMPLEMENTED, "SSH_MSG_UNIMPLEMENTED"},
		{SSH_MSG_DEBUG, "SSH_MSG_DEBUG"},
		{SSH_MSG_SERVICE_REQUEST, "SSH_MSG_SERVICE_REQUEST"},
		{SSH_MSG_SERVICE_ACCEPT, "SSH_MSG_SERVICE_ACCEPT"},
		{SSH_MSG_KEXINIT, "SSH_MSG_KEXINIT"},
		{SSH_MSG_NEWKEYS, "SSH_MSG_NEWKEYS"},
		{SSH_MSG_KEXDH_INIT, "SSH_MSG_KEXDH_INIT"},
		{SSH_MSG_KEXDH_REPLY, "SSH_MSG_KEXDH_REPLY"},
		{MessageType(99), "SSH_MSG_UNKNOWN(99)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.mtype.String(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewMessageTypeFromString(t *testing.T) {
	t.Run("every known name parses back to its code", func(t *testing.T) {
		names := map[string]MessageType{
			"DISCONNECT":      SSH_MSG_DISCONNECT,
			"IGNORE":          SSH_MSG_IGNORE,
			"UNIMPLEMENTED":   SSH_MSG_UNIMPLEMENTED,
			"DEBUG":           SSH_MSG_DEBUG,
			"SERVICE_REQUEST": SSH_MSG_SERVICE_REQUEST,
			"SERVICE_ACCEPT":  SSH_MSG_SERVICE_ACCEPT,
			"KEXINIT":         SSH_MSG_KEXINIT,
			"NEWKEYS":         SSH_MSG_NEWKEYS,
			"KEXDH_INIT":      SSH_MSG_KEXDH_INIT,
			"KEXDH_REPLY":     SSH_MSG_KEXDH_REPLY,
		}
		for name, want := range names {
			got, err := NewMessageTypeFromString(name)
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Errorf("%s: got %d, want %d", name, got, want)
			}
		}
	})

	t.Run("an unknown name fails", func(t *testing.T) {
		if _, err := NewMessageTypeFromString("OPEN_CHANNEL"); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestMessageTypeIsKex(t *testing.T) {
	kexTypes := []MessageType{
		SSH_MSG_KEXINIT, SSH_MSG_NEWKEYS, SSH_MSG_KEXDH_INIT, SSH_MSG_KEXDH_REPLY,
	}
	for _, mtype := range kexTypes {
		if !mtype.IsKex() {
			t.Errorf("expected %s to be a kex message", mtype)
		}
	}
	if SSH_MSG_SERVICE_REQUEST.IsKex() {
		t.Error("did not expect SERVICE_REQUEST to be a kex message")
	}
}

func TestParseMessage(t *testing.T) {
	t.Run("parses the code and the payload", func(t *testing.T) {
		msg, err := ParseMessage([]byte{byte(SSH_MSG_DEBUG), 0xde, 0xad})
		if err != nil {
			t.Fatal(err)
		}
		want := NewMessage(SSH_MSG_DEBUG, []byte{0xde, 0xad})
		if diff := cmp.Diff(msg, want); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("an empty packet fails", func(t *testing.T) {
		if _, err := ParseMessage(nil); !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("bytes round trips", func(t *testing.T) {
		raw := []byte{byte(SSH_MSG_KEXINIT), 1, 2, 3}
		msg, err := ParseMessage(raw)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(msg.Bytes(), raw); diff != "" {
			t.Error(diff)
		}
	})
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{S_ERROR, "S_ERROR"},
		{S_NONE, "S_NONE"},
		{S_CONNECTING, "S_CONNECTING"},
		{S_SOCKET_CONNECTED, "S_SOCKET_CONNECTED"},
		{S_BANNER_RECEIVED, "S_BANNER_RECEIVED"},
		{S_INITIAL_KEX, "S_INITIAL_KEX"},
		{S_AUTHENTICATING, "S_AUTHENTICATING"},
		{SessionState(42), "S_INVALID"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("got %s, want %s", got, tt.want)
		}
	}
}

func TestDHStateString(t *testing.T) {
	tests := []struct {
		state DHState
		want  string
	}{
		{DH_INIT, "DH_INIT"},
		{DH_INIT_TO_SEND, "DH_INIT_TO_SEND"},
		{DH_INIT_SENT, "DH_INIT_SENT"},
		{DH_NEWKEYS_TO_SEND, "DH_NEWKEYS_TO_SEND"},
		{DH_NEWKEYS_SENT, "DH_NEWKEYS_SENT"},
		{DH_FINISHED, "DH_FINISHED"},
		{DHState(42), "DH_INVALID"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("got %s, want %s", got, tt.want)
		}
	}
}
