// Package config contains the public configuration API.
package config

import (
	"net"

	"github.com/apex/log"

	"github.com/ooni/minissh/internal/model"
	"github.com/ooni/minissh/internal/runtimex"
)

// Config contains options to initialize the SSH connection.
type Config struct {
	// sshOptions contains options related to the ssh protocol.
	sshOptions *SSHOptions

	// logger will be used to log events.
	logger model.Logger

	// if a tracer is provided, it will be used to trace the ssh handshake.
	tracer model.HandshakeTracer

	// progress, if provided, receives handshake progress values.
	progress func(float64)
}

// NewConfig returns a Config ready to initialize an ssh session.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		sshOptions: NewSSHOptions(),
		logger:     log.Log,
		tracer:     &model.DummyTracer{},
		progress:   nil,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Option is an option you can pass to initialize minissh.
type Option func(config *Config)

// WithLogger configures the passed [Logger].
func WithLogger(logger model.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

// Logger returns the configured logger.
func (c *Config) Logger() model.Logger {
	return c.logger
}

// WithHandshakeTracer configures the passed [HandshakeTracer].
func WithHandshakeTracer(tracer model.HandshakeTracer) Option {
	return func(config *Config) {
		config.tracer = tracer
	}
}

// Tracer returns the handshake tracer.
func (c *Config) Tracer() model.HandshakeTracer {
	return c.tracer
}

// WithProgress configures a callback receiving handshake progress
// values in the [0, 1] interval.
func WithProgress(progress func(float64)) Option {
	return func(config *Config) {
		config.progress = progress
	}
}

// Progress returns the configured progress callback, possibly nil.
func (c *Config) Progress() func(float64) {
	return c.progress
}

// WithConfigFile configures SSHOptions parsed from the given file.
func WithConfigFile(configPath string) Option {
	return func(config *Config) {
		sshOpts, err := ReadConfigFile(configPath)
		runtimex.PanicOnError(err, "cannot parse config file")
		runtimex.PanicIfFalse(sshOpts.HasRemoteInfo(), "missing remote info")
		config.sshOptions = sshOpts
	}
}

// WithSSHOptions configures the passed SSH options.
func WithSSHOptions(sshOptions *SSHOptions) Option {
	return func(config *Config) {
		config.sshOptions = sshOptions
	}
}

// SSHOptions returns the configured ssh options.
func (c *Config) SSHOptions() *SSHOptions {
	return c.sshOptions
}

// Remote has info about the SSH remote, useful to pass to the external dialer.
type Remote struct {
	// IPAddr is the IP Address for the remote.
	IPAddr string

	// Endpoint is in the form ip:port.
	Endpoint string
}

// Remote returns the SSH remote.
func (c *Config) Remote() *Remote {
	return &Remote{
		IPAddr:   c.sshOptions.Remote,
		Endpoint: net.JoinHostPort(c.sshOptions.Remote, c.sshOptions.Port),
	}
}
