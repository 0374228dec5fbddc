package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/framing"
	"github.com/linchenxuan/conduit/network/message"
)

// duplexChannel is a session of sized envelopes in both directions over
// one connection. On the server side a session whose connection drops
// without an End record waits for the same peer to reconnect.
type duplexChannel struct {
	base
	f    *factory
	l    *listener
	path string
	key  string

	mu    sync.Mutex
	fc    *framedConn
	ready chan struct{}

	ended atomic.Bool
}

func newClientDuplex(f *factory, to, via channel.EndpointAddress) *duplexChannel {
	c := &duplexChannel{f: f, ready: make(chan struct{})}
	c.base = newBase(f.s, channel.ShapeDuplex, f, c)
	c.remote, c.via = to, via
	return c
}

func newServerDuplex(l *listener, conn net.Conn) *duplexChannel {
	c := &duplexChannel{
		l:     l,
		path:  l.uri.Path(),
		key:   l.s.network.RemoteKey(conn),
		fc:    newFramedConn(conn, l.s, framing.ModeDuplex),
		ready: make(chan struct{}),
	}
	c.base = newBase(l.s, channel.ShapeDuplex, l, c)
	c.local = l.uri
	c.remote = addressOf(l.s.scheme(), conn.RemoteAddr())
	return c
}

func (c *duplexChannel) OnOpen(ctx context.Context) error {
	if c.f == nil {
		p, err := c.fc.handshakeServer(ctx, c.path)
		if err != nil {
			return err
		}
		if via, err := channel.ParseAddress(p.Via); err == nil {
			c.via = via
		}
		return nil
	}

	conn, err := c.f.dial(ctx, c.via)
	if err != nil {
		return err
	}
	fc := newFramedConn(conn, c.s, framing.ModeDuplex)
	c.mu.Lock()
	c.fc = fc
	c.mu.Unlock()
	c.local = addressOf(c.s.scheme(), conn.LocalAddr())
	return fc.handshakeClient(ctx, c.via.String())
}

// OnClose ends our half of the session and waits for the peer's End.
func (c *duplexChannel) OnClose(ctx context.Context) error {
	c.forget()
	c.mu.Lock()
	fc := c.fc
	c.mu.Unlock()
	if fc == nil {
		return nil
	}
	defer fc.close()
	if err := fc.writeEnd(ctx); err != nil {
		return err
	}
	return fc.drain(ctx)
}

func (c *duplexChannel) OnAbort() {
	c.forget()
	c.mu.Lock()
	fc := c.fc
	c.mu.Unlock()
	if fc != nil {
		fc.close()
	}
}

func (c *duplexChannel) forget() {
	if c.l != nil {
		c.l.forgetOrphan(c)
	}
}

// current returns the live connection, waiting for a reconnect while the
// session has none.
func (c *duplexChannel) current(ctx context.Context) (*framedConn, error) {
	c.mu.Lock()
	fc, ready := c.fc, c.ready
	c.mu.Unlock()
	if fc != nil {
		return fc, nil
	}
	select {
	case <-ready:
		return c.current(ctx)
	case <-c.Done():
		return nil, c.CheckOpened()
	case <-ctx.Done():
		return nil, lifecycle.FromContext("reconnect "+c.Name(), ctx)
	}
}

// lost detaches a broken connection. It reports whether the session waits
// for a reconnect; otherwise the channel is faulted.
func (c *duplexChannel) lost(fc *framedConn, err error) bool {
	c.mu.Lock()
	if c.fc != fc {
		c.mu.Unlock()
		return true
	}
	c.fc = nil
	c.mu.Unlock()
	fc.close()

	if c.l != nil && c.key != "" && !errors.Is(err, framing.ErrProtocolViolation) && c.CheckOpened() == nil {
		log.Info().Str("channel", c.ID()).Str("remote", c.key).Err(err).Msg("duplex session waiting for reconnect")
		c.l.orphan(c)
		return true
	}
	c.Fault(err)
	return false
}

// adopt hands a reconnected connection to the session once its preamble
// is accepted.
func (c *duplexChannel) adopt(conn net.Conn) {
	go func() {
		fc := newFramedConn(conn, c.s, framing.ModeDuplex)
		ctx, cancel := lifecycle.Within(c.Timeouts().Open)
		defer cancel()
		if _, err := fc.handshakeServer(ctx, c.path); err != nil {
			log.Warn().Str("channel", c.ID()).Err(err).Msg("reconnect refused")
			fc.close()
			if c.CheckOpened() == nil {
				c.l.orphan(c)
			}
			return
		}

		c.mu.Lock()
		if c.fc != nil || c.CheckOpened() != nil {
			c.mu.Unlock()
			fc.close()
			return
		}
		c.fc = fc
		close(c.ready)
		c.ready = make(chan struct{})
		c.mu.Unlock()
		log.Info().Str("channel", c.ID()).Str("remote", c.key).Msg("duplex session resumed")
	}()
}

func (c *duplexChannel) Send(ctx context.Context, msg *message.Message) error {
	if err := c.CheckOpened(); err != nil {
		return err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, c.Timeouts().Send)
	defer cancel()
	fc, err := c.current(ctx)
	if err != nil {
		return err
	}
	err = fc.writeMessage(ctx, msg)
	if err != nil && fc.broken.Load() {
		c.lost(fc, err)
	}
	return err
}

// Receive returns the next message, or io.EOF once the peer ended the session.
func (c *duplexChannel) Receive(ctx context.Context) (*message.Message, error) {
	if err := c.CheckOpened(); err != nil {
		return nil, err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, c.Timeouts().Receive)
	defer cancel()
	for {
		if c.ended.Load() {
			return nil, io.EOF
		}
		fc, err := c.current(ctx)
		if err != nil {
			return nil, err
		}
		msg, err := fc.readMessage(ctx)
		switch {
		case err == nil:
			return msg, nil
		case errors.Is(err, io.EOF):
			c.ended.Store(true)
			return nil, io.EOF
		case !fc.broken.Load():
			return nil, err
		}
		if !c.lost(fc, err) {
			return nil, fmt.Errorf("%s: %w", c.Name(), err)
		}
	}
}

func (c *duplexChannel) TryReceive(ctx context.Context) (*message.Message, bool, error) {
	return tryReceive(ctx, c.Receive)
}

func (c *duplexChannel) WaitForMessage(ctx context.Context) (bool, error) {
	if err := c.CheckOpened(); err != nil {
		return false, err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, c.Timeouts().Receive)
	defer cancel()
	if c.ended.Load() {
		return true, nil
	}
	fc, err := c.current(ctx)
	if lifecycle.IsTimeout(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fc.waitReadable(ctx)
}

func (c *duplexChannel) SendAsync(ctx context.Context, msg *message.Message) *lifecycle.Future[struct{}] {
	return channel.VoidAsync(ctx, func(ctx context.Context) error { return c.Send(ctx, msg) })
}

func (c *duplexChannel) ReceiveAsync(ctx context.Context) *lifecycle.Future[*message.Message] {
	return lifecycle.Go(ctx, c.Receive)
}

func (c *duplexChannel) TryReceiveAsync(ctx context.Context) *lifecycle.Future[channel.Received[*message.Message]] {
	return channel.TryAsync(ctx, c.TryReceive)
}

func (c *duplexChannel) WaitForMessageAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, c.WaitForMessage)
}
