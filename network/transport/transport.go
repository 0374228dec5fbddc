// Package transport carries framed messages over byte stream connections.
// It implements the factories, listeners and channels shared by the stream
// transports; the tcp and unix packages supply the Network and the binding
// element for their scheme.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/codec"
	"github.com/linchenxuan/conduit/network/framing"
)

// ErrConnectionLost is returned by operations on a connection that broke
// in the middle of a record.
var ErrConnectionLost = errors.New("transport: connection lost")

// TransferMode selects the framing mode of request/reply channels.
type TransferMode string

const (
	// Buffered sends each message as one sized envelope.
	Buffered TransferMode = "buffered"
	// Streamed sends each message as chunks of an unsized envelope.
	Streamed TransferMode = "streamed"
)

// Config holds the options shared by every stream transport.
type Config struct {
	TransferMode TransferMode   `mapstructure:"transferMode"`
	Limits       framing.Limits `mapstructure:",squash"`
	// MaxBufferSize sizes the buffered reader and writer of a connection.
	MaxBufferSize int `mapstructure:"maxBufferSize"`
	// ChunkSize is the largest chunk of a streamed message.
	ChunkSize int `mapstructure:"chunkSize"`
	// MaxPendingConnections bounds accepted connections waiting for
	// AcceptChannel; zero means unbounded.
	MaxPendingConnections int           `mapstructure:"maxPendingConnections"`
	DialRetries           int           `mapstructure:"dialRetries"`
	DialBackoffMin        time.Duration `mapstructure:"dialBackoffMin"`
	DialBackoffMax        time.Duration `mapstructure:"dialBackoffMax"`
}

// DefaultConfig returns buffered transfer with the default limits.
func DefaultConfig() Config {
	return Config{
		TransferMode:          Buffered,
		Limits:                framing.DefaultLimits(),
		MaxBufferSize:         64 << 10,
		ChunkSize:             framing.DefaultChunkSize,
		MaxPendingConnections: 128,
		DialRetries:           2,
		DialBackoffMin:        50 * time.Millisecond,
		DialBackoffMax:        2 * time.Second,
	}
}

// Validate checks the options.
func (c *Config) Validate() error {
	switch c.TransferMode {
	case Buffered, Streamed:
	default:
		return fmt.Errorf("transport: unknown transferMode %q", c.TransferMode)
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if c.MaxBufferSize <= 0 {
		return errors.New("transport: maxBufferSize must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("transport: chunkSize must be positive")
	}
	if c.MaxPendingConnections < 0 || c.DialRetries < 0 {
		return errors.New("transport: maxPendingConnections and dialRetries must not be negative")
	}
	if c.DialBackoffMin <= 0 || c.DialBackoffMax < c.DialBackoffMin {
		return errors.New("transport: dial backoff must satisfy 0 < min <= max")
	}
	return nil
}

// Network opens raw connections for one URI scheme.
type Network interface {
	Scheme() string
	Dial(ctx context.Context, addr channel.EndpointAddress) (net.Conn, error)
	// Listen binds addr and returns the address actually bound, with any
	// wildcard port resolved.
	Listen(addr channel.EndpointAddress) (net.Listener, channel.EndpointAddress, error)
	// RemoteKey identifies the peer of an accepted connection for duplex
	// session continuation. An empty key disables continuation. While a
	// server session waits for its peer, the next connection with the same
	// key resumes that session and is not returned by AcceptChannel, even
	// when it comes from a different client process on that host.
	RemoteKey(conn net.Conn) string
}

// settings is what factories, listeners and channels share from one build.
type settings struct {
	network          Network
	cfg              Config
	encoder          codec.Factory
	maxSizeOfHeaders int
	timeouts         lifecycle.Timeouts
}

func (s *settings) scheme() string { return s.network.Scheme() }

// mode returns the framing mode a channel of shape speaks.
func (s *settings) mode(shape channel.Shape) framing.Mode {
	switch {
	case shape == channel.ShapeDuplex:
		return framing.ModeDuplex
	case s.cfg.TransferMode == Streamed:
		return framing.ModeSingletonUnsized
	}
	return framing.ModeSingletonSized
}

// addressOf turns a socket address into an endpoint address of scheme.
func addressOf(scheme string, addr net.Addr) channel.EndpointAddress {
	if addr == nil {
		return channel.EndpointAddress{}
	}
	s := addr.String()
	if s == "" || s == "<nil>" {
		return channel.EndpointAddress{}
	}
	a, err := channel.ParseAddress(scheme + "://" + s)
	if err != nil {
		return channel.EndpointAddress{}
	}
	return a
}

// samePath compares URI paths ignoring a trailing slash.
func samePath(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
