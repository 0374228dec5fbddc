package transport

import (
	"context"
	"io"
	"net"
	"sync/atomic"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/message"
)

// replyChannel serves the single exchange of one accepted connection. The
// preamble is read when the channel opens.
type replyChannel struct {
	base
	fc       *framedConn
	path     string
	received atomic.Bool
}

func newReplyChannel(l *listener, conn net.Conn) *replyChannel {
	c := &replyChannel{fc: newFramedConn(conn, l.s, l.s.mode(channel.ShapeReply)), path: l.uri.Path()}
	c.base = newBase(l.s, channel.ShapeReply, l, c)
	c.local = l.uri
	c.remote = addressOf(l.s.scheme(), conn.RemoteAddr())
	return c
}

func (c *replyChannel) OnOpen(ctx context.Context) error {
	p, err := c.fc.handshakeServer(ctx, c.path)
	if err != nil {
		return err
	}
	if via, err := channel.ParseAddress(p.Via); err == nil {
		c.via = via
	}
	return nil
}

// OnClose ends our half of the exchange when no reply was sent.
func (c *replyChannel) OnClose(ctx context.Context) error {
	defer c.fc.close()
	return c.fc.writeEnd(ctx)
}

func (c *replyChannel) OnAbort() { c.fc.close() }

// ReceiveRequest returns the request of the exchange, then io.EOF.
func (c *replyChannel) ReceiveRequest(ctx context.Context) (channel.RequestContext, error) {
	if err := c.CheckOpened(); err != nil {
		return nil, err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, c.Timeouts().Receive)
	defer cancel()
	if c.received.Load() {
		return nil, io.EOF
	}
	msg, err := c.fc.readMessage(ctx)
	if err != nil {
		if unrecoverable(err) {
			c.Fault(err)
		}
		return nil, err
	}
	c.received.Store(true)
	return &requestContext{ch: c, req: msg}, nil
}

func (c *replyChannel) TryReceiveRequest(ctx context.Context) (channel.RequestContext, bool, error) {
	return tryReceive(ctx, c.ReceiveRequest)
}

func (c *replyChannel) WaitForRequest(ctx context.Context) (bool, error) {
	if err := c.CheckOpened(); err != nil {
		return false, err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, c.Timeouts().Receive)
	defer cancel()
	if c.received.Load() {
		return true, nil
	}
	return c.fc.waitReadable(ctx)
}

func (c *replyChannel) ReceiveRequestAsync(ctx context.Context) *lifecycle.Future[channel.RequestContext] {
	return lifecycle.Go(ctx, c.ReceiveRequest)
}

func (c *replyChannel) TryReceiveRequestAsync(ctx context.Context) *lifecycle.Future[channel.Received[channel.RequestContext]] {
	return channel.TryAsync(ctx, c.TryReceiveRequest)
}

func (c *replyChannel) WaitForRequestAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, c.WaitForRequest)
}

// requestContext answers one received request.
type requestContext struct {
	ch   *replyChannel
	req  *message.Message
	done atomic.Bool
}

func (r *requestContext) Request() *message.Message { return r.req }

func (r *requestContext) Reply(ctx context.Context, msg *message.Message) error {
	if !r.done.CompareAndSwap(false, true) {
		return channel.ErrAlreadyReplied
	}
	if err := r.ch.CheckOpened(); err != nil {
		return err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, r.ch.Timeouts().Send)
	defer cancel()
	if id := r.req.Headers.MessageID(); id != "" && msg.Headers.RelatesTo() == "" {
		msg.Headers.SetRelatesTo(id)
	}
	err := r.ch.fc.writeMessage(ctx, msg)
	if unrecoverable(err) {
		r.ch.Fault(err)
	}
	return err
}

// Close discards the request without replying.
func (r *requestContext) Close(context.Context) error {
	if r.done.CompareAndSwap(false, true) {
		r.req.Close()
	}
	return nil
}

// Abort discards the request and drops the connection.
func (r *requestContext) Abort() {
	if r.done.CompareAndSwap(false, true) {
		r.req.Close()
	}
	r.ch.Abort()
}
