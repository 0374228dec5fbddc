package binding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/message"
)

const DuplexRequestName = "duplexRequest"

// DuplexRequestConfig has no options; it exists for the plugin manager.
type DuplexRequestConfig struct{}

func DefaultDuplexRequestConfig() *DuplexRequestConfig { return &DuplexRequestConfig{} }

func (c *DuplexRequestConfig) Validate() error { return nil }

// DuplexRequestElement builds request and reply channels on top of a duplex
// stack. Requests carry a MessageID; replies are matched by RelatesTo, so
// several requests may be outstanding on one session.
type DuplexRequestElement struct{}

func NewDuplexRequestElement() *DuplexRequestElement { return &DuplexRequestElement{} }

func (e *DuplexRequestElement) FactoryName() string { return DuplexRequestName }

func (e *DuplexRequestElement) CanBuildFactory(shape channel.Shape, ctx *BuildContext) bool {
	switch shape {
	case channel.ShapeRequest, channel.ShapeDuplex:
		return ctx.CanBuildInnerFactory(channel.ShapeDuplex)
	}
	return false
}

func (e *DuplexRequestElement) BuildFactory(shape channel.Shape, ctx *BuildContext) (channel.Factory, error) {
	switch shape {
	case channel.ShapeDuplex:
		return ctx.BuildInnerFactory(shape)
	case channel.ShapeRequest:
		inner, err := ctx.BuildInnerFactory(channel.ShapeDuplex)
		if err != nil {
			return nil, err
		}
		f := &correlatedFactory{inner: inner}
		f.Object = newLayer(DuplexRequestName+" factory", inner, ctx.Params.Timeouts)
		return f, nil
	}
	return nil, CannotBuild(DuplexRequestName, shape, "factory")
}

func (e *DuplexRequestElement) CanBuildListener(shape channel.Shape, ctx *BuildContext) bool {
	switch shape {
	case channel.ShapeReply, channel.ShapeDuplex:
		return ctx.CanBuildInnerListener(channel.ShapeDuplex)
	}
	return false
}

func (e *DuplexRequestElement) BuildListener(shape channel.Shape, ctx *BuildContext) (channel.Listener, error) {
	switch shape {
	case channel.ShapeDuplex:
		return ctx.BuildInnerListener(shape)
	case channel.ShapeReply:
		inner, err := ctx.BuildInnerListener(channel.ShapeDuplex)
		if err != nil {
			return nil, err
		}
		l := &correlatedListener{inner: inner}
		l.Object = newLayer(DuplexRequestName+" listener", inner, ctx.Params.Timeouts)
		return l, nil
	}
	return nil, CannotBuild(DuplexRequestName, shape, "listener")
}

func (e *DuplexRequestElement) Clone() Element { return &DuplexRequestElement{} }

func (e *DuplexRequestElement) Property(t reflect.Type, ctx *BuildContext) (any, bool) {
	return ctx.InnerProperty(t)
}

type correlatedFactory struct {
	*lifecycle.Object
	inner channel.Factory
}

func (f *correlatedFactory) Shape() channel.Shape { return channel.ShapeRequest }

func (f *correlatedFactory) CreateChannel(to, via channel.EndpointAddress) (channel.Channel, error) {
	if err := f.CheckOpened(); err != nil {
		return nil, err
	}
	ch, err := f.inner.CreateChannel(to, via)
	if err != nil {
		return nil, err
	}
	duplex, err := channel.As[channel.DuplexChannel](ch)
	if err != nil {
		ch.Abort()
		return nil, err
	}
	return newCorrelatedRequest(duplex, f, f.Timeouts()), nil
}

type result struct {
	msg *message.Message
	err error
}

// correlatedRequest multiplexes Request calls over one duplex channel. A
// pump goroutine owns the receive side and routes replies to callers.
type correlatedRequest struct {
	*lifecycle.Object
	addresses
	inner channel.DuplexChannel
	owner channel.Lifecycle

	mu      sync.Mutex
	pending map[string]chan result
	ended   error
	pumpCtx context.Context
	stop    context.CancelFunc
	pumped  sync.WaitGroup
}

func newCorrelatedRequest(inner channel.DuplexChannel, owner channel.Lifecycle, t lifecycle.Timeouts) *correlatedRequest {
	c := &correlatedRequest{
		addresses: addresses{inner: inner},
		inner:     inner,
		owner:     owner,
		pending:   make(map[string]chan result),
	}
	c.pumpCtx, c.stop = context.WithCancel(context.Background())
	c.Object = lifecycle.NewObject(DuplexRequestName+" "+inner.ID(), c, t)
	_ = inner.Subscribe(lifecycle.EventFaulted, func(n lifecycle.Notification) { c.Fault(n.Err) })
	return c
}

func (c *correlatedRequest) Shape() channel.Shape     { return channel.ShapeRequest }
func (c *correlatedRequest) Owner() channel.Lifecycle { return c.owner }

func (c *correlatedRequest) OnOpen(ctx context.Context) error {
	if err := c.inner.Open(ctx); err != nil {
		return err
	}
	c.pumped.Add(1)
	go c.pump(c.pumpCtx)
	return nil
}

func (c *correlatedRequest) OnClose(ctx context.Context) error {
	err := c.inner.Close(ctx)
	c.stop()
	c.pumped.Wait()
	return err
}

func (c *correlatedRequest) OnAbort() {
	c.inner.Abort()
	c.stop()
	c.failAll(lifecycle.ErrDisposed)
}

func (c *correlatedRequest) pump(ctx context.Context) {
	defer c.pumped.Done()
	for {
		msg, err := c.inner.Receive(ctx)
		switch {
		case err == nil:
			c.deliver(msg)
		case lifecycle.IsTimeout(err) && ctx.Err() == nil:
			continue
		case errors.Is(err, io.EOF):
			c.failAll(io.ErrUnexpectedEOF)
			return
		default:
			c.failAll(err)
			return
		}
	}
}

func (c *correlatedRequest) deliver(msg *message.Message) {
	id := msg.Headers.RelatesTo()
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		log.Warn().Str("channel", c.Name()).Str("relatesTo", id).Msg("dropping uncorrelated reply")
		msg.Close()
		return
	}
	ch <- result{msg: msg}
}

func (c *correlatedRequest) failAll(err error) {
	c.mu.Lock()
	if c.ended == nil {
		c.ended = err
	}
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- result{err: err}
	}
}

func (c *correlatedRequest) register(id string) (chan result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended != nil {
		return nil, c.ended
	}
	if _, dup := c.pending[id]; dup {
		return nil, fmt.Errorf("binding: request %s already outstanding", id)
	}
	ch := make(chan result, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *correlatedRequest) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *correlatedRequest) Request(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if err := c.CheckOpened(); err != nil {
		return nil, err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, c.Timeouts().Send)
	defer cancel()

	id := msg.Headers.MessageID()
	if id == "" {
		id = "urn:uuid:" + uuid.NewString()
		msg.Headers.SetMessageID(id)
	}
	wait, err := c.register(id)
	if err != nil {
		return nil, err
	}
	if err := c.inner.Send(ctx, msg); err != nil {
		c.forget(id)
		return nil, err
	}
	select {
	case r := <-wait:
		return r.msg, r.err
	case <-ctx.Done():
		c.forget(id)
		return nil, lifecycle.FromContext("request "+id, ctx)
	}
}

func (c *correlatedRequest) RequestAsync(ctx context.Context, msg *message.Message) *lifecycle.Future[*message.Message] {
	return lifecycle.Go(ctx, func(ctx context.Context) (*message.Message, error) {
		return c.Request(ctx, msg)
	})
}

type correlatedListener struct {
	*lifecycle.Object
	inner channel.Listener
}

func (l *correlatedListener) Shape() channel.Shape         { return channel.ShapeReply }
func (l *correlatedListener) URI() channel.EndpointAddress { return l.inner.URI() }

func (l *correlatedListener) AcceptChannel(ctx context.Context) (channel.Channel, error) {
	ch, err := l.inner.AcceptChannel(ctx)
	if err != nil || ch == nil {
		return nil, err
	}
	duplex, err := channel.As[channel.DuplexChannel](ch)
	if err != nil {
		ch.Abort()
		return nil, err
	}
	r := &correlatedReply{addresses: addresses{inner: duplex}, inner: duplex, owner: l}
	r.Object = newLayer(DuplexRequestName+" "+duplex.ID(), duplex, l.Timeouts())
	return r, nil
}

func (l *correlatedListener) WaitForChannel(ctx context.Context) (bool, error) {
	return l.inner.WaitForChannel(ctx)
}

func (l *correlatedListener) AcceptChannelAsync(ctx context.Context) *lifecycle.Future[channel.Channel] {
	return lifecycle.Go(ctx, l.AcceptChannel)
}

func (l *correlatedListener) WaitForChannelAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, l.WaitForChannel)
}

// correlatedReply serves requests arriving on a duplex channel.
type correlatedReply struct {
	*lifecycle.Object
	addresses
	inner channel.DuplexChannel
	owner channel.Lifecycle
}

func (c *correlatedReply) Shape() channel.Shape     { return channel.ShapeReply }
func (c *correlatedReply) Owner() channel.Lifecycle { return c.owner }

func (c *correlatedReply) wrap(msg *message.Message) channel.RequestContext {
	return &correlatedContext{ch: c, req: msg}
}

func (c *correlatedReply) ReceiveRequest(ctx context.Context) (channel.RequestContext, error) {
	if err := c.CheckOpened(); err != nil {
		return nil, err
	}
	msg, err := c.inner.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return c.wrap(msg), nil
}

func (c *correlatedReply) TryReceiveRequest(ctx context.Context) (channel.RequestContext, bool, error) {
	if err := c.CheckOpened(); err != nil {
		return nil, false, err
	}
	msg, ok, err := c.inner.TryReceive(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	return c.wrap(msg), true, nil
}

func (c *correlatedReply) WaitForRequest(ctx context.Context) (bool, error) {
	return c.inner.WaitForMessage(ctx)
}

func (c *correlatedReply) ReceiveRequestAsync(ctx context.Context) *lifecycle.Future[channel.RequestContext] {
	return lifecycle.Go(ctx, c.ReceiveRequest)
}

func (c *correlatedReply) TryReceiveRequestAsync(ctx context.Context) *lifecycle.Future[channel.Received[channel.RequestContext]] {
	return channel.TryAsync(ctx, c.TryReceiveRequest)
}

func (c *correlatedReply) WaitForRequestAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, c.WaitForRequest)
}

type correlatedContext struct {
	ch   *correlatedReply
	req  *message.Message
	done atomic.Bool
}

func (r *correlatedContext) Request() *message.Message { return r.req }

func (r *correlatedContext) Reply(ctx context.Context, msg *message.Message) error {
	if !r.done.CompareAndSwap(false, true) {
		return channel.ErrAlreadyReplied
	}
	if id := r.req.Headers.MessageID(); id != "" {
		msg.Headers.SetRelatesTo(id)
	}
	return r.ch.inner.Send(ctx, msg)
}

func (r *correlatedContext) Close(context.Context) error {
	if r.done.CompareAndSwap(false, true) {
		r.req.Close()
	}
	return nil
}

func (r *correlatedContext) Abort() {
	if r.done.CompareAndSwap(false, true) {
		r.req.Close()
	}
}
