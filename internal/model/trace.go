package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ooni/minissh/internal/optional"
)

// HandshakeTracer allows to collect traces for a given SSH handshake. A HandshakeTracer can be
// optionally added to the session config, and it will be propagated to any layer that needs to
// register an event.
type HandshakeTracer interface {
	// TimeNow allows to inject time for deterministic tests.
	TimeNow() time.Time

	// OnStateChange is called for each transition in the state machine.
	OnStateChange(state SessionState)

	// OnIncomingMessage is called when a transport message is received.
	OnIncomingMessage(msg *Message)

	// OnOutgoingMessage is called when a transport message is about to be sent.
	OnOutgoingMessage(msg *Message)

	// OnProgress is called at each handshake milestone with a value in [0, 1].
	OnProgress(progress float64)

	// OnHandshakeDone is called when we have completed a handshake.
	OnHandshakeDone(remoteAddr string)

	// Trace returns an array of [HandshakeEvent]s.
	Trace() []HandshakeEvent
}

const (
	HandshakeEventStateChange = iota
	HandshakeEventMessageIn
	HandshakeEventMessageOut
	HandshakeEventProgress
)

// HandshakeEventType indicates which event we logged.
type HandshakeEventType int

// Ensure that it implements the Stringer interface.
var _ fmt.Stringer = HandshakeEventType(0)

// String implements fmt.Stringer
func (e HandshakeEventType) String() string {
	switch e {
	case HandshakeEventStateChange:
		return "state"
	case HandshakeEventMessageIn:
		return "message_in"
	case HandshakeEventMessageOut:
		return "message_out"
	case HandshakeEventProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// HandshakeEvent must implement the event annotation methods, plus json serialization.
type HandshakeEvent interface {
	Type() HandshakeEventType
	Time() time.Time
	Message() optional.Value[LoggedMessage]
	json.Marshaler
}

// LoggedMessage tracks metadata about a transport message useful to build traces.
type LoggedMessage struct {
	Direction Direction

	// the only fields of the message we want to log.
	MessageType MessageType

	// PayloadSize is the size of the payload in bytes.
	PayloadSize int
}

// MarshalJSON implements json.Marshaler.
func (lm LoggedMessage) MarshalJSON() ([]byte, error) {
	j := struct {
		MessageType string `json:"message_type"`
		Direction   string `json:"direction"`
		PayloadSize int    `json:"payload_size"`
	}{
		MessageType: lm.MessageType.String(),
		Direction:   lm.Direction.String(),
		PayloadSize: lm.PayloadSize,
	}
	return json.Marshal(j)
}

// Direction is one of two directions on a message.
type Direction int

const (
	// DirectionIncoming marks received messages.
	DirectionIncoming = iota

	// DirectionOutgoing marks messages to be sent.
	DirectionOutgoing
)

var _ fmt.Stringer = Direction(0)

// String implements fmt.Stringer
func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "recv"
	case DirectionOutgoing:
		return "send"
	default:
		return "undefined"
	}
}

// DummyTracer is a no-op implementation of [model.HandshakeTracer] that does nothing
// but can be safely passed as a default implementation.
type DummyTracer struct{}

// TimeNow allows to manipulate time for deterministic tests.
func (dt *DummyTracer) TimeNow() time.Time { return time.Now() }

// OnStateChange is called for each transition in the state machine.
func (dt *DummyTracer) OnStateChange(state SessionState) {}

// OnIncomingMessage is called when a transport message is received.
func (dt *DummyTracer) OnIncomingMessage(msg *Message) {}

// OnOutgoingMessage is called when a transport message is about to be sent.
func (dt *DummyTracer) OnOutgoingMessage(msg *Message) {}

// OnProgress is called at each handshake milestone.
func (dt *DummyTracer) OnProgress(progress float64) {}

// OnHandshakeDone is called when we have completed a handshake.
func (dt *DummyTracer) OnHandshakeDone(remoteAddr string) {}

// Trace returns a structured log containing an array of [model.HandshakeEvent].
func (dt *DummyTracer) Trace() []HandshakeEvent { return []HandshakeEvent{} }

// Assert that DummyTracer implements [model.HandshakeTracer].
var _ HandshakeTracer = &DummyTracer{}
