// Package tracex implements a handshake tracer that can be passed to the
// session constructor to observe handshake events.
package tracex

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ooni/minissh/internal/model"
	"github.com/ooni/minissh/internal/optional"
)

// event is a handshake event collected by this [model.HandshakeTracer].
type event struct {
	// EventType is the type for this event.
	EventType model.HandshakeEventType

	// AtTime is the time for this event.
	AtTime time.Time

	// T0 is the time when we started the trace.
	T0 time.Time

	// SessionState is the session state at the time of the event.
	SessionState model.SessionState

	// Progress is the progress value, only meaningful for progress events.
	Progress float64

	// LoggedMessage is optional message metadata.
	LoggedMessage optional.Value[model.LoggedMessage]

	// TransactionID is an optional index identifying one particular handshake.
	TransactionID int64
}

var _ model.HandshakeEvent = &event{}

// Type implements [model.HandshakeEvent].
func (e *event) Type() model.HandshakeEventType {
	return e.EventType
}

// Time implements [model.HandshakeEvent].
func (e *event) Time() time.Time {
	return e.AtTime
}

// Message implements [model.HandshakeEvent].
func (e *event) Message() optional.Value[model.LoggedMessage] {
	return e.LoggedMessage
}

// MarshalJSON implements json.Marshaler.
func (e *event) MarshalJSON() ([]byte, error) {
	j := struct {
		EventType     string                              `json:"operation"`
		Stage         string                              `json:"stage"`
		AtTime        float64                             `json:"t"`
		Progress      float64                             `json:"progress,omitempty"`
		LoggedMessage optional.Value[model.LoggedMessage] `json:"message"`
		TransactionID int64                               `json:"transaction_id,omitempty"`
	}{
		EventType:     e.EventType.String(),
		Stage:         e.SessionState.String()[2:],
		AtTime:        e.AtTime.Sub(e.T0).Seconds(),
		Progress:      e.Progress,
		LoggedMessage: e.LoggedMessage,
		TransactionID: e.TransactionID,
	}
	return json.Marshal(j)
}

// Tracer implements [model.HandshakeTracer].
type Tracer struct {
	// events is the array of handshake events.
	events []model.HandshakeEvent

	// mu guards access to the events.
	mu sync.Mutex

	// state is the last session state observed by the tracer.
	state model.SessionState

	// transactionID is an optional index that will be added to any events produced by this tracer.
	transactionID int64

	// zeroTime is the time when we started the trace.
	zeroTime time.Time
}

var _ model.HandshakeTracer = &Tracer{}

// NewTracer returns a Tracer with the passed start time.
func NewTracer(start time.Time) *Tracer {
	return &Tracer{
		state:    model.S_NONE,
		zeroTime: start,
	}
}

// NewTracerWithTransactionID returns a Tracer with the passed start time and
// the given identifier for a transaction. Transaction IDs are meant as a
// convenience to cross-reference measurements.
func NewTracerWithTransactionID(start time.Time, txid int64) *Tracer {
	tracer := NewTracer(start)
	tracer.transactionID = txid
	return tracer
}

// TimeNow allows to manipulate time for deterministic tests.
func (t *Tracer) TimeNow() time.Time {
	return time.Now()
}

// newEvent creates an event with the common fields filled in. Must be
// called with the mutex held.
func (t *Tracer) newEvent(etype model.HandshakeEventType) *event {
	return &event{
		EventType:     etype,
		AtTime:        t.TimeNow(),
		T0:            t.zeroTime,
		SessionState:  t.state,
		LoggedMessage: optional.None[model.LoggedMessage](),
		TransactionID: t.transactionID,
	}
}

// OnStateChange is called for each transition in the state machine.
func (t *Tracer) OnStateChange(state model.SessionState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = state
	e := t.newEvent(model.HandshakeEventStateChange)
	t.events = append(t.events, e)
}

// OnIncomingMessage is called when a transport message is received.
func (t *Tracer) OnIncomingMessage(msg *model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.newEvent(model.HandshakeEventMessageIn)
	e.LoggedMessage = logMessage(msg, model.DirectionIncoming)
	t.events = append(t.events, e)
}

// OnOutgoingMessage is called when a transport message is about to be sent.
func (t *Tracer) OnOutgoingMessage(msg *model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.newEvent(model.HandshakeEventMessageOut)
	e.LoggedMessage = logMessage(msg, model.DirectionOutgoing)
	t.events = append(t.events, e)
}

// OnProgress is called at each handshake milestone.
func (t *Tracer) OnProgress(progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.newEvent(model.HandshakeEventProgress)
	e.Progress = progress
	t.events = append(t.events, e)
}

// OnHandshakeDone is called when we have completed a handshake.
func (t *Tracer) OnHandshakeDone(remoteAddr string) {}

// Trace returns a structured log containing a copy of the array of
// [model.HandshakeEvent].
func (t *Tracer) Trace() []model.HandshakeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.HandshakeEvent{}, t.events...)
}

func logMessage(msg *model.Message, direction model.Direction) optional.Value[model.LoggedMessage] {
	return optional.Some(model.LoggedMessage{
		Direction:   direction,
		MessageType: msg.Type,
		PayloadSize: len(msg.Payload),
	})
}
