// Package client contains the public client API.
package client

import (
	"context"
	"net"

	"github.com/apex/log"

	"github.com/ooni/minissh/internal/model"
	"github.com/ooni/minissh/internal/networkio"
	"github.com/ooni/minissh/internal/session"
	"github.com/ooni/minissh/pkg/config"
)

// SimpleDialer establishes network connections.
type SimpleDialer interface {
	DialContext(ctx context.Context, network, endpoint string) (net.Conn, error)
}

// Client wraps a session with the public API. The zero value is
// invalid; use [New].
type Client struct {
	cfg     *config.Config
	session *session.Session
}

// New creates a [Client] from the given config.
func New(cfg *config.Config) *Client {
	opts := session.NewOptions(cfg.Logger())
	opts.Tracer = cfg.Tracer()
	opts.Progress = cfg.Progress()
	sshOpts := cfg.SSHOptions()
	if sshOpts.ClientVersion != "" {
		opts.ClientVersion = sshOpts.ClientVersion
	}
	opts.AllowV1 = sshOpts.AllowV1
	opts.AllowV2 = sshOpts.AllowV2
	opts.Preferences = sshOpts.Preferences()
	if sshOpts.ServiceName != "" {
		opts.ServiceName = sshOpts.ServiceName
	}
	return &Client{
		cfg:     cfg,
		session: session.NewSession(opts),
	}
}

// Start establishes an SSH connection initialized with the passed dialer and
// config, and returns a client ready for user authentication. In case there
// was any error during the establishment, it will also be returned by this
// function.
func Start(ctx context.Context, underlyingDialer SimpleDialer, cfg *config.Config) (*Client, error) {
	client := New(cfg)
	if err := client.Connect(ctx, underlyingDialer); err != nil {
		log.WithError(err).Error("client.Connect")
		return nil, err
	}
	return client, nil
}

// Connect establishes the connection using the passed dialer. When the
// config carries a SOCKS5 proxy address, the endpoint is reached
// through the proxy instead.
func (c *Client) Connect(ctx context.Context, underlyingDialer SimpleDialer) error {
	var dialer model.Dialer = underlyingDialer
	if proxyAddr := c.cfg.SSHOptions().ProxySOCKS5; proxyAddr != "" {
		proxied, err := networkio.NewDialerWithSOCKS5Proxy(c.cfg.Logger(), proxyAddr)
		if err != nil {
			return err
		}
		dialer = proxied
	}
	return c.session.Connect(ctx, dialer, c.cfg.Remote().Endpoint)
}

// ConnectConn runs the establishment over an already established conn.
func (c *Client) ConnectConn(conn net.Conn) error {
	return c.session.ConnectConn(conn)
}

// Disconnect tears down the connection. The client can connect again
// afterwards.
func (c *Client) Disconnect() {
	c.session.Disconnect()
}

// Connected returns whether the establishment completed.
func (c *Client) Connected() bool {
	return c.session.Connected()
}

// State returns the session state.
func (c *Client) State() model.SessionState {
	return c.session.State()
}

// PeerBanner returns the server identification string.
func (c *Client) PeerBanner() string {
	return c.session.PeerBanner()
}

// OpenSSHVersion returns the peer vendor version packed as
// major<<16 | minor<<8 when the peer is OpenSSH, zero otherwise.
func (c *Client) OpenSSHVersion() int {
	return c.session.OpenSSHVersion()
}

// SessionID returns a copy of the session identifier, nil before the
// first key exchange completes.
func (c *Client) SessionID() []byte {
	return c.session.SessionID()
}

// IssueBanner returns the issue banner sent by the server, empty when
// the server sent none.
func (c *Client) IssueBanner() string {
	return c.session.IssueBanner()
}

// Copyright returns the copyright notice of the library.
func Copyright() string {
	return "minissh - Copyright (C) 2024 the minissh authors"
}
