// Package unix provides the net.unix transport: framed channels over Unix
// domain sockets. The URI path is the socket path, as in
// net.unix:///run/conduit.sock.
package unix

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"

	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/transport"
	"github.com/linchenxuan/conduit/utils/file"
)

// Scheme is the URI scheme of Unix socket endpoints.
const Scheme = "net.unix"

// ElementName is the name of the binding element in configuration.
const ElementName = "net.unix"

func init() { transport.RegisterScheme(Scheme) }

// Config holds the Unix transport options.
type Config struct {
	transport.Config `mapstructure:",squash"`
	// RemoveStale unlinks a leftover socket file before listening. The
	// socket is guarded by a lock file next to it, so a socket still served
	// by another process is never removed.
	RemoveStale bool `mapstructure:"removeStale"`
}

func DefaultConfig() *Config {
	return &Config{Config: transport.DefaultConfig(), RemoveStale: true}
}

func (c *Config) Validate() error { return c.Config.Validate() }

// Network dials and listens on Unix stream sockets.
type Network struct {
	cfg Config
}

func NewNetwork(cfg Config) *Network { return &Network{cfg: cfg} }

// NewElement returns the binding element of the Unix transport.
func NewElement(cfg Config) *transport.Element {
	return transport.NewElement(ElementName, NewNetwork(cfg), cfg.Config)
}

func (n *Network) Scheme() string { return Scheme }

func (n *Network) Dial(ctx context.Context, addr channel.EndpointAddress) (net.Conn, error) {
	if addr.Path() == "" {
		return nil, fmt.Errorf("unix: address %s has no socket path", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "unix", addr.Path())
}

func (n *Network) Listen(addr channel.EndpointAddress) (net.Listener, channel.EndpointAddress, error) {
	path := addr.Path()
	if path == "" {
		return nil, channel.EndpointAddress{}, fmt.Errorf("unix: address %s has no socket path", addr)
	}
	lock, err := file.TryLock(path + ".lock")
	if err != nil {
		return nil, channel.EndpointAddress{}, fmt.Errorf("unix: socket %s in use: %w", path, err)
	}
	if n.cfg.RemoveStale {
		if err := removeStale(path); err != nil {
			_ = lock.Unlock()
			return nil, channel.EndpointAddress{}, err
		}
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		_ = lock.Unlock()
		return nil, channel.EndpointAddress{}, fmt.Errorf("failed to listen on unix socket '%s': %w", path, err)
	}
	ln.SetUnlinkOnClose(true)
	return &listener{UnixListener: ln, lock: lock}, addr, nil
}

func removeStale(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("unix: %s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("removed stale unix socket")
	return nil
}

// listener releases the socket lock when closed.
type listener struct {
	*net.UnixListener
	lock *file.Lock
}

func (l *listener) Close() error {
	err := l.UnixListener.Close()
	if uerr := l.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// RemoteKey is empty: Unix peers are unnamed, so duplex sessions do not
// survive a reconnect.
func (n *Network) RemoteKey(net.Conn) string { return "" }
