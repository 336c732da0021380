package model

// SessionState is the state of the session establishment.
type SessionState int

const (
	// S_ERROR means there was some form of protocol or I/O error.
	S_ERROR = SessionState(iota) - 1

	// S_NONE is the initial state of a fresh session.
	S_NONE

	// S_CONNECTING means the socket connection is in progress.
	S_CONNECTING

	// S_SOCKET_CONNECTED means the socket is connected and we are
	// waiting for the server identification string.
	S_SOCKET_CONNECTED

	// S_BANNER_RECEIVED means we have the server identification string.
	S_BANNER_RECEIVED

	// S_INITIAL_KEX means we're running the initial key exchange.
	S_INITIAL_KEX

	// S_AUTHENTICATING means the transport is established and the
	// session is ready for user authentication.
	S_AUTHENTICATING
)

// String maps a [SessionState] to a string.
func (ss SessionState) String() string {
	switch ss {
	case S_NONE:
		return "S_NONE"
	case S_CONNECTING:
		return "S_CONNECTING"
	case S_SOCKET_CONNECTED:
		return "S_SOCKET_CONNECTED"
	case S_BANNER_RECEIVED:
		return "S_BANNER_RECEIVED"
	case S_INITIAL_KEX:
		return "S_INITIAL_KEX"
	case S_AUTHENTICATING:
		return "S_AUTHENTICATING"
	case S_ERROR:
		return "S_ERROR"
	default:
		return "S_INVALID"
	}
}

// DHState is the state of the key exchange sub-machine. It advances
// monotonically during a single handshake and never regresses.
type DHState int

const (
	// DH_INIT means we have not sent anything yet.
	DH_INIT = DHState(iota)

	// DH_INIT_TO_SEND means the KEXDH_INIT packet is queued.
	DH_INIT_TO_SEND

	// DH_INIT_SENT means the KEXDH_INIT packet is on the wire.
	DH_INIT_SENT

	// DH_NEWKEYS_TO_SEND means our NEWKEYS packet is queued.
	DH_NEWKEYS_TO_SEND

	// DH_NEWKEYS_SENT means our NEWKEYS packet is on the wire and we
	// are waiting for the server's NEWKEYS.
	DH_NEWKEYS_SENT

	// DH_FINISHED means the key exchange is complete and the new
	// crypto is installed.
	DH_FINISHED
)

// String maps a [DHState] to a string.
func (ds DHState) String() string {
	switch ds {
	case DH_INIT:
		return "DH_INIT"
	case DH_INIT_TO_SEND:
		return "DH_INIT_TO_SEND"
	case DH_INIT_SENT:
		return "DH_INIT_SENT"
	case DH_NEWKEYS_TO_SEND:
		return "DH_NEWKEYS_TO_SEND"
	case DH_NEWKEYS_SENT:
		return "DH_NEWKEYS_SENT"
	case DH_FINISHED:
		return "DH_FINISHED"
	default:
		return "DH_INVALID"
	}
}
