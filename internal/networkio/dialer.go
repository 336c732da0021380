// Package networkio contains the network primitives used to reach the
// remote endpoint: a dialer with optional SOCKS5 proxying and a conn
// wrapper with close-once semantics.
package networkio

import (
	"context"
	"net"

	"golang.org/x/net/proxy"

	"github.com/ooni/minissh/internal/model"
)

// Dialer dials network connections. The zero value of this structure is
// invalid; please, use the [NewDialer] constructor.
type Dialer struct {
	// dialer is the underlying dialer we use to dial.
	dialer model.Dialer

	// logger is the [Logger] with which we log.
	logger model.Logger
}

// NewDialer creates a new [Dialer] instance.
func NewDialer(logger model.Logger, dialer model.Dialer) *Dialer {
	return &Dialer{
		dialer: dialer,
		logger: logger,
	}
}

// NewDialerWithSOCKS5Proxy creates a [Dialer] that reaches the remote
// endpoint through the SOCKS5 proxy listening at the given address.
func NewDialerWithSOCKS5Proxy(logger model.Logger, proxyAddress string) (*Dialer, error) {
	socks, err := proxy.SOCKS5("tcp", proxyAddress, nil, &net.Dialer{})
	if err != nil {
		logger.Warnf("networkio: cannot create proxy dialer: %s", err.Error())
		return nil, err
	}
	return &Dialer{
		dialer: &proxyContextDialer{socks},
		logger: logger,
	}, nil
}

// proxyContextDialer adds DialContext to a [proxy.Dialer].
type proxyContextDialer struct {
	proxy.Dialer
}

// DialContext implements [model.Dialer].
func (d *proxyContextDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := d.Dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	return d.Dialer.Dial(network, address)
}

// DialContext establishes a connection and, on success, automatically
// wraps the returned connection so that Close has once semantics.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		d.logger.Warnf("networkio: dial failed: %s", err.Error())
		return nil, err
	}
	return NewCloseOnceConn(conn), nil
}
