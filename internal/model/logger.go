// Package model contains the data model shared by the establishment
// layers: the logging and dialing contracts, the wire message types,
// the session and key exchange states and the handshake tracer.
package model

import (
	"context"
	"net"
)

// Logger is the logging contract every layer writes to. The levels
// mirror the verbosity knob of the command line tool.
type Logger interface {
	// Debug emits a debug message.
	Debug(msg string)

	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Info emits an informational message.
	Info(msg string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Warn emits a warning message.
	Warn(msg string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)
}

// Dialer opens the stream socket an establishment runs over. The
// standard library [net.Dialer] and a SOCKS5 proxy dialer both satisfy
// this contract.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}
