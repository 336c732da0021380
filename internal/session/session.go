// Package session implements the session state machine driving a
// freshly opened socket through banner exchange, version negotiation,
// key exchange and the crossover to an encrypted channel ready for
// user authentication.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/kex"
	"github.com/ooni/minissh/internal/model"
	"github.com/ooni/minissh/internal/packet"
	"github.com/ooni/minissh/internal/runtimex"
)

var (
	// ErrInvalidState indicates that an operation was invoked while
	// the session was in a state that does not permit it.
	ErrInvalidState = errors.New("invalid session state")

	// ErrUnexpectedMessage indicates that the peer sent a message we
	// did not expect in the current state.
	ErrUnexpectedMessage = errors.New("unexpected message")

	// ErrDisconnectReceived indicates that the peer sent a DISCONNECT.
	ErrDisconnectReceived = errors.New("received SSH_MSG_DISCONNECT")
)

// disconnectByApplication is the DISCONNECT reason code we send when
// the application closes the connection.
const disconnectByApplication = 11

// Options contains the knobs a session needs. The zero value is
// invalid; use [NewOptions] for sensible defaults and override fields
// as needed before calling [NewSession].
type Options struct {
	// Logger is the logger to use.
	Logger model.Logger

	// Tracer observes the handshake.
	Tracer model.HandshakeTracer

	// Progress, when not nil, receives a value in [0, 1] at each
	// handshake milestone.
	Progress func(float64)

	// ClientVersion is the software version tag announced in our
	// identification string, without the "SSH-2.0-" prefix.
	ClientVersion string

	// AllowV1 and AllowV2 select the protocol versions the local
	// configuration accepts.
	AllowV1 bool
	AllowV2 bool

	// Preferences are the local algorithm preferences.
	Preferences *kex.Preferences

	// ServiceName is the service requested after the key exchange.
	ServiceName string
}

// NewOptions returns options with the library defaults: protocol
// version two only and the default algorithm preferences.
func NewOptions(logger model.Logger) *Options {
	return &Options{
		Logger:        logger,
		Tracer:        &model.DummyTracer{},
		Progress:      nil,
		ClientVersion: "minissh_0.1.0",
		AllowV1:       false,
		AllowV2:       true,
		Preferences:   kex.NewPreferences(),
		ServiceName:   "ssh-userauth",
	}
}

// Session is the root entity of a connection establishment. It is
// exclusively owned by the caller and must not be shared across
// goroutines. Please, construct using [NewSession].
type Session struct {
	logger  model.Logger
	tracer  model.HandshakeTracer
	options *Options

	state   model.SessionState
	dhState model.DHState
	diag    error

	version     int
	peerBanner  string
	selfBanner  string
	opensshVer  int
	issueBanner string

	conn      net.Conn
	alive     bool
	connected bool

	// pending holds bytes delivered by the socket and not yet
	// consumed by the active decoder.
	pending []byte

	// bannerDone tells whether the active decoder is still the banner
	// decoder or already the packet decoder.
	bannerDone bool
	bannerDec  *bannerDecoder

	pair *packet.CryptoPair
	enc  *packet.Encoder
	dec  *packet.Decoder

	// outQueue holds serialized packets not yet written to the wire.
	outQueue [][]byte

	// inbox holds decoded messages not yet consumed by the handshake.
	inbox []*model.Message

	// advancing guards advance against reentrancy.
	advancing bool

	clientKexInit []byte
	serverKexInit []byte
	algo          packet.Algorithms
	exchange      kex.Exchange
	reply         *kex.Reply
	sessionID     []byte

	serviceRequested bool
}

// NewSession returns a session ready for [Session.Connect].
func NewSession(options *Options) *Session {
	runtimex.PanicIfTrue(options == nil, "NewSession passed nil options")
	runtimex.PanicIfTrue(options.Logger == nil, "NewSession passed nil logger")
	tracer := options.Tracer
	if tracer == nil {
		tracer = &model.DummyTracer{}
	}
	s := &Session{
		logger:  options.Logger,
		tracer:  tracer,
		options: options,
	}
	s.reset()
	return s
}

// reset returns the session to a pristine state so that it can run a
// fresh connection establishment.
func (s *Session) reset() {
	s.state = model.S_NONE
	s.dhState = model.DH_INIT
	s.diag = nil
	s.version = 0
	s.peerBanner = ""
	s.selfBanner = ""
	s.opensshVer = 0
	s.conn = nil
	s.alive = false
	s.connected = false
	s.pending = nil
	s.bannerDone = false
	s.bannerDec = &bannerDecoder{}
	s.pair = packet.NewCryptoPair()
	s.enc = packet.NewEncoder(s.pair)
	s.dec = packet.NewDecoder(s.pair)
	s.outQueue = nil
	s.inbox = nil
	s.advancing = false
	s.clientKexInit = nil
	s.serverKexInit = nil
	s.algo = packet.Algorithms{}
	s.burnExchange()
	s.sessionID = nil
	s.serviceRequested = false
}

// burnExchange zeroizes and releases the key exchange temporaries.
func (s *Session) burnExchange() {
	if s.exchange != nil {
		s.exchange.Burn()
		s.exchange = nil
	}
	if s.reply != nil {
		bytesx.Burn(s.reply.HostKey)
		bytesx.Burn(s.reply.Signature)
		s.reply = nil
	}
}

// setState transitions the session state.
func (s *Session) setState(state model.SessionState) {
	s.logger.Infof("[@] %s -> %s", s.state, state)
	s.state = state
	s.tracer.OnStateChange(state)
}

// setDHState transitions the key exchange sub-state. The sub-state
// only moves forward during a handshake.
func (s *Session) setDHState(state model.DHState) {
	runtimex.Assert(state >= s.dhState, "dh state regression")
	s.logger.Debugf("[@kex] %s -> %s", s.dhState, state)
	s.dhState = state
}

// fail transitions to the error state: it records the diagnostic,
// burns the handshake temporaries, closes the socket and marks the
// session not alive. The transition is terminal for this connection.
func (s *Session) fail(err error) {
	if s.state == model.S_ERROR {
		return
	}
	s.diag = err
	s.logger.Warnf("session: %s", err.Error())
	s.burnExchange()
	if s.conn != nil {
		s.conn.Close()
	}
	s.alive = false
	s.connected = false
	s.setState(model.S_ERROR)
}

// notifyProgress emits a progress value. The user callback may be
// absent, so the emission is null-safe.
func (s *Session) notifyProgress(value float64) {
	if s.options.Progress != nil {
		s.options.Progress(value)
	}
	s.tracer.OnProgress(value)
}

// State returns the session state.
func (s *Session) State() model.SessionState {
	return s.state
}

// DHState returns the key exchange sub-state.
func (s *Session) DHState() model.DHState {
	return s.dhState
}

// Err returns the diagnostic recorded by the error transition, or nil.
func (s *Session) Err() error {
	return s.diag
}

// Version returns the negotiated protocol major version, zero before
// the banner analysis.
func (s *Session) Version() int {
	return s.version
}

// PeerBanner returns the server identification string without its
// line terminator, empty before the banner is received.
func (s *Session) PeerBanner() string {
	return s.peerBanner
}

// SelfBanner returns the identification string we announced, empty
// before it is sent.
func (s *Session) SelfBanner() string {
	return s.selfBanner
}

// Connected returns whether the handshake completed.
func (s *Session) Connected() bool {
	return s.connected
}

// OpenSSHVersion returns the peer vendor version packed as
// major<<16 | minor<<8 when the peer is OpenSSH, zero otherwise.
func (s *Session) OpenSSHVersion() int {
	return s.opensshVer
}

// SessionID returns a copy of the session identifier, nil before the
// first key exchange completes.
func (s *Session) SessionID() []byte {
	if s.sessionID == nil {
		return nil
	}
	out := make([]byte, len(s.sessionID))
	copy(out, s.sessionID)
	return out
}

// IssueBanner returns the issue banner set by the higher layer after
// authentication, empty before set.
func (s *Session) IssueBanner() string {
	return s.issueBanner
}

// SetIssueBanner stores the issue banner received by the higher layer.
func (s *Session) SetIssueBanner(banner string) {
	s.issueBanner = banner
}

// Algorithms returns the negotiated algorithm set. Only meaningful
// once the key exchange has started.
func (s *Session) Algorithms() packet.Algorithms {
	return s.algo
}

// Disconnect sends a DISCONNECT with the by-application reason code if
// the socket is still open, closes it, and resets the session so that
// a fresh connect is possible.
func (s *Session) Disconnect() {
	if s.conn != nil && s.alive {
		payload := &bytes.Buffer{}
		bytesx.WriteUint32(payload, disconnectByApplication)
		bytesx.WriteString(payload, []byte("Bye Bye"))
		bytesx.WriteString(payload, []byte{})
		msg := model.NewMessage(model.SSH_MSG_DISCONNECT, payload.Bytes())
		if wire, err := s.enc.Encode(msg.Bytes()); err == nil {
			s.tracer.OnOutgoingMessage(msg)
			s.conn.Write(wire)
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	issueBanner := s.issueBanner
	s.burnExchange()
	s.reset()
	s.issueBanner = issueBanner
	s.logger.Info("session: disconnected")
}

// errUnexpected builds the diagnostic for a message arriving in the
// wrong state.
func errUnexpected(msg *model.Message, expected model.MessageType) error {
	return fmt.Errorf("%w: got %s, expected %s", ErrUnexpectedMessage, msg.Type, expected)
}
