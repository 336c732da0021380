package session

//
// Transport: socket establishment, the read pump, the demultiplexing
// of socket bytes into banner and packets, and the outgoing queue.
//

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/model"
	"github.com/ooni/minissh/internal/networkio"
	"github.com/ooni/minissh/internal/runtimex"
)

// ConnectConn runs the connection establishment over an already
// established [net.Conn]. The session takes ownership of the conn. On
// success the session is in the authenticating state; on failure the
// session is in the error state and the diagnostic is returned.
func (s *Session) ConnectConn(conn net.Conn) error {
	if s.state != model.S_NONE {
		return ErrInvalidState
	}
	runtimex.PanicIfTrue(conn == nil, "ConnectConn passed nil conn")
	s.setState(model.S_CONNECTING)
	s.notifyProgress(0.2)
	s.startConn(networkio.NewCloseOnceConn(conn))
	return s.pump()
}

// Connect dials the given endpoint using the given dialer and runs the
// connection establishment. On success the session is in the
// authenticating state; on failure the session is in the error state
// and the diagnostic is returned.
func (s *Session) Connect(ctx context.Context, dialer model.Dialer, address string) error {
	if s.state != model.S_NONE {
		return ErrInvalidState
	}
	s.setState(model.S_CONNECTING)
	s.notifyProgress(0.2)
	conn, err := networkio.NewDialer(s.logger, dialer).DialContext(ctx, "tcp", address)
	if err != nil {
		s.fail(fmt.Errorf("Connection failed: %s", err.Error()))
		return s.diag
	}
	s.startConn(conn)
	return s.pump()
}

// startConn records the socket and moves to the socket-connected state.
func (s *Session) startConn(conn net.Conn) {
	s.conn = conn
	s.alive = true
	s.setState(model.S_SOCKET_CONNECTED)
	s.advance()
}

// pump reads from the socket and feeds the active decoder until the
// handshake completes or fails.
func (s *Session) pump() error {
	buffer := make([]byte, 8192)
	for s.state != model.S_ERROR && s.state != model.S_AUTHENTICATING {
		count, err := s.conn.Read(buffer)
		if err != nil {
			s.fail(fmt.Errorf("Socket error: %s", err.Error()))
			return s.diag
		}
		s.onData(buffer[:count])
	}
	if s.state == model.S_ERROR {
		return s.diag
	}
	return nil
}

// onData accumulates socket bytes and runs the active decoder: the
// banner decoder first, the packet decoder once the banner exchange is
// over. Bytes received after the peer banner in the same read belong to
// the packet stream, hence the loop.
func (s *Session) onData(data []byte) {
	s.pending = append(s.pending, data...)
	for s.state != model.S_ERROR {
		if !s.bannerDone {
			if s.state != model.S_SOCKET_CONNECTED {
				return
			}
			banner, consumed, err := s.bannerDec.feed(s.pending)
			if err != nil {
				s.fail(err)
				return
			}
			if consumed <= 0 {
				return
			}
			s.pending = s.pending[consumed:]
			s.peerBanner = banner
			s.setState(model.S_BANNER_RECEIVED)
			s.notifyProgress(0.4)
			s.advance()
			continue
		}
		msgs, err := s.dec.Feed(s.pending)
		s.pending = nil
		for _, msg := range msgs {
			s.onMessage(msg)
		}
		if err != nil {
			s.fail(err)
			return
		}
		if len(msgs) > 0 {
			s.advance()
		}
		return
	}
}

// onMessage dispatches a decoded message: transport level messages are
// handled here, everything else lands into the inbox for the handshake.
func (s *Session) onMessage(msg *model.Message) {
	s.tracer.OnIncomingMessage(msg)
	switch msg.Type {
	case model.SSH_MSG_IGNORE, model.SSH_MSG_DEBUG:
		s.logger.Debugf("session: ignoring %s", msg.Type)
	case model.SSH_MSG_DISCONNECT:
		s.fail(fmt.Errorf("%w: %s", ErrDisconnectReceived, parseDisconnect(msg.Payload)))
	default:
		s.inbox = append(s.inbox, msg)
	}
}

// parseDisconnect extracts the reason code and description from a
// DISCONNECT payload, tolerating truncation.
func parseDisconnect(payload []byte) string {
	buf := bytes.NewBuffer(payload)
	reason, err := bytesx.ReadUint32(buf)
	if err != nil {
		return "truncated disconnect"
	}
	description, err := bytesx.ReadString(buf)
	if err != nil {
		return fmt.Sprintf("reason %d", reason)
	}
	return fmt.Sprintf("reason %d: %s", reason, string(description))
}

// packetSend serializes a message with the current crypto and appends
// the wire bytes to the outgoing queue.
func (s *Session) packetSend(msg *model.Message) error {
	wire, err := s.enc.Encode(msg.Bytes())
	if err != nil {
		return err
	}
	s.tracer.OnOutgoingMessage(msg)
	s.outQueue = append(s.outQueue, wire)
	return nil
}

// flush writes the whole outgoing queue to the socket.
func (s *Session) flush() error {
	for len(s.outQueue) > 0 {
		wire := s.outQueue[0]
		s.outQueue = s.outQueue[1:]
		if _, err := s.conn.Write(wire); err != nil {
			return fmt.Errorf("Socket error: %s", err.Error())
		}
	}
	return nil
}
