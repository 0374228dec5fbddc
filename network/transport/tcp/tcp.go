// Package tcp provides the net.tcp transport: framed channels over TCP
// connections.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/transport"
)

// Scheme is the URI scheme of TCP endpoints, e.g. net.tcp://host:port/path.
const Scheme = "net.tcp"

// ElementName is the name of the binding element in configuration.
const ElementName = "net.tcp"

func init() { transport.RegisterScheme(Scheme) }

// Config holds the TCP transport options.
type Config struct {
	transport.Config `mapstructure:",squash"`
	// NoDelay disables Nagle's algorithm on every connection.
	NoDelay bool `mapstructure:"noDelay"`
	// KeepAlive is the keep-alive period; zero keeps the system default and
	// a negative value disables keep-alives.
	KeepAlive time.Duration `mapstructure:"keepAlive"`
}

// DefaultConfig returns the transport defaults with NoDelay set.
func DefaultConfig() *Config {
	return &Config{Config: transport.DefaultConfig(), NoDelay: true}
}

// Validate checks the options.
func (c *Config) Validate() error {
	return c.Config.Validate()
}

// Network dials and listens on TCP.
type Network struct {
	cfg Config
}

// NewNetwork returns the TCP network for cfg.
func NewNetwork(cfg Config) *Network { return &Network{cfg: cfg} }

// NewElement returns the binding element of the TCP transport.
func NewElement(cfg Config) *transport.Element {
	return transport.NewElement(ElementName, NewNetwork(cfg), cfg.Config)
}

func (n *Network) Scheme() string { return Scheme }

func (n *Network) Dial(ctx context.Context, addr channel.EndpointAddress) (net.Conn, error) {
	if addr.Host() == "" {
		return nil, fmt.Errorf("tcp: address %s has no host", addr)
	}
	d := net.Dialer{KeepAlive: n.cfg.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr.Host())
	if err != nil {
		return nil, err
	}
	if err := n.tune(conn.(*net.TCPConn)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (n *Network) Listen(addr channel.EndpointAddress) (net.Listener, channel.EndpointAddress, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr.Host())
	if err != nil {
		return nil, channel.EndpointAddress{}, fmt.Errorf("failed to resolve TCP address '%s': %w", addr.Host(), err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, channel.EndpointAddress{}, fmt.Errorf("failed to listen on TCP address '%s': %w", addr.Host(), err)
	}
	bound, err := channel.ParseAddress(Scheme + "://" + ln.Addr().String() + addr.Path())
	if err != nil {
		_ = ln.Close()
		return nil, channel.EndpointAddress{}, err
	}
	return &listener{TCPListener: ln, n: n}, bound, nil
}

// RemoteKey returns the peer IP. Every client on one host shares the key.
func (n *Network) RemoteKey(conn net.Conn) string {
	if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return a.IP.String()
	}
	return ""
}

func (n *Network) tune(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(n.cfg.NoDelay); err != nil {
		return fmt.Errorf("failed to set no delay: %w", err)
	}
	if err := conn.SetReadBuffer(n.cfg.MaxBufferSize); err != nil {
		return fmt.Errorf("failed to set read buffer size: %w", err)
	}
	if err := conn.SetWriteBuffer(n.cfg.MaxBufferSize); err != nil {
		return fmt.Errorf("failed to set write buffer size: %w", err)
	}
	return nil
}

// listener tunes every accepted connection.
type listener struct {
	*net.TCPListener
	n *Network
}

func (l *listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.AcceptTCP()
		if err != nil {
			return nil, err
		}
		if l.n.cfg.KeepAlive > 0 {
			_ = conn.SetKeepAlivePeriod(l.n.cfg.KeepAlive)
		}
		if err := l.n.tune(conn); err != nil {
			log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("dropping accepted connection")
			_ = conn.Close()
			if errors.Is(err, net.ErrClosed) {
				return nil, err
			}
			continue
		}
		return conn, nil
	}
}
