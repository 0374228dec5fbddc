package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/message"
)

// requestChannel dials a connection per Request and runs one singleton
// exchange on it.
type requestChannel struct {
	base
	f *factory

	mu       sync.Mutex
	inFlight map[*framedConn]struct{}
	pending  sync.WaitGroup
	stopped  bool
}

func newRequestChannel(f *factory, to, via channel.EndpointAddress) *requestChannel {
	c := &requestChannel{f: f, inFlight: make(map[*framedConn]struct{})}
	c.base = newBase(f.s, channel.ShapeRequest, f, c)
	c.remote, c.via = to, via
	return c
}

func (c *requestChannel) OnOpen(context.Context) error { return nil }

// OnClose lets requests in flight finish.
func (c *requestChannel) OnClose(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return lifecycle.FromContext("close "+c.Name(), ctx)
	}
}

func (c *requestChannel) OnAbort() {
	c.mu.Lock()
	c.stopped = true
	conns := c.inFlight
	c.inFlight = make(map[*framedConn]struct{})
	c.mu.Unlock()
	for fc := range conns {
		fc.close()
	}
}

func (c *requestChannel) track(fc *framedConn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.CheckOpened() != nil {
		return false
	}
	c.inFlight[fc] = struct{}{}
	c.pending.Add(1)
	return true
}

func (c *requestChannel) untrack(fc *framedConn) {
	c.mu.Lock()
	delete(c.inFlight, fc)
	c.mu.Unlock()
	fc.close()
	c.pending.Done()
}

// Request sends msg and waits for the reply within the send budget.
func (c *requestChannel) Request(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if err := c.CheckOpened(); err != nil {
		return nil, err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, c.Timeouts().Send)
	defer cancel()
	start := time.Now()

	conn, err := c.f.dial(ctx, c.via)
	if err != nil {
		return nil, err
	}
	fc := newFramedConn(conn, c.s, c.s.mode(channel.ShapeRequest))
	if !c.track(fc) {
		fc.close()
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrDisposed, c.Name())
	}
	defer c.untrack(fc)

	if msg.Headers.To() == "" {
		msg.Headers.SetTo(c.remote.String())
	}
	if err := fc.handshakeClient(ctx, c.via.String()); err != nil {
		return nil, err
	}
	if err := fc.writeMessage(ctx, msg); err != nil {
		return nil, err
	}
	reply, err := fc.readMessage(ctx)
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("transport: %s ended the exchange without a reply: %w", c.via, io.ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, err
	}
	statRequest(channel.ShapeRequest, start)
	return reply, nil
}

func (c *requestChannel) RequestAsync(ctx context.Context, msg *message.Message) *lifecycle.Future[*message.Message] {
	return lifecycle.Go(ctx, func(ctx context.Context) (*message.Message, error) {
		return c.Request(ctx, msg)
	})
}
