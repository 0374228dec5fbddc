package binding

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/metrics"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/message"
)

const ThrottleName = "throttle"

// ThrottleConfig is a token bucket: Rate operations per second, Burst at once.
type ThrottleConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

func DefaultThrottleConfig() *ThrottleConfig {
	return &ThrottleConfig{Rate: 1000, Burst: 100}
}

func (c *ThrottleConfig) Validate() error {
	if c.Rate <= 0 {
		return errors.New("binding: throttle rate must be positive")
	}
	if c.Burst <= 0 {
		return errors.New("binding: throttle burst must be positive")
	}
	return nil
}

// Throttle is a reloadable token bucket shared by every channel of one stack.
type Throttle struct {
	limiter atomic.Pointer[rate.Limiter]
}

func NewThrottle(limit float64, burst int) *Throttle {
	t := &Throttle{}
	t.Reload(limit, burst)
	return t
}

// Reload swaps the bucket; waiters on the old bucket finish on it.
func (t *Throttle) Reload(limit float64, burst int) {
	t.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

// Wait takes one token within the budget of ctx.
func (t *Throttle) Wait(ctx context.Context) error {
	start := time.Now()
	err := t.limiter.Load().Wait(ctx)
	metrics.RecordStopwatchWithGroup(metrics.NameThrottleWaitMS, metrics.GroupConduit, start)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return lifecycle.FromContext("throttle", ctx)
	}
	// The limiter refuses up front when the deadline is too close.
	return lifecycle.Timeout("throttle", err)
}

// ThrottleElement limits the rate of sends, requests and receives of the
// channels built behind it.
type ThrottleElement struct {
	cfg      ThrottleConfig
	throttle *Throttle
}

func NewThrottleElement(cfg ThrottleConfig) *ThrottleElement {
	return &ThrottleElement{cfg: cfg, throttle: NewThrottle(cfg.Rate, cfg.Burst)}
}

func (e *ThrottleElement) FactoryName() string { return ThrottleName }

// Throttle returns the bucket, for reloading.
func (e *ThrottleElement) Throttle() *Throttle { return e.throttle }

func (e *ThrottleElement) CanBuildFactory(shape channel.Shape, ctx *BuildContext) bool {
	return ctx.CanBuildInnerFactory(shape)
}

func (e *ThrottleElement) BuildFactory(shape channel.Shape, ctx *BuildContext) (channel.Factory, error) {
	inner, err := ctx.BuildInnerFactory(shape)
	if err != nil {
		return nil, err
	}
	f := &throttledFactory{inner: inner, throttle: e.throttle}
	f.Object = newLayer(ThrottleName+" factory", inner, ctx.Params.Timeouts)
	return f, nil
}

func (e *ThrottleElement) CanBuildListener(shape channel.Shape, ctx *BuildContext) bool {
	return ctx.CanBuildInnerListener(shape)
}

func (e *ThrottleElement) BuildListener(shape channel.Shape, ctx *BuildContext) (channel.Listener, error) {
	inner, err := ctx.BuildInnerListener(shape)
	if err != nil {
		return nil, err
	}
	l := &throttledListener{inner: inner, throttle: e.throttle}
	l.Object = newLayer(ThrottleName+" listener", inner, ctx.Params.Timeouts)
	return l, nil
}

func (e *ThrottleElement) Clone() Element { return NewThrottleElement(e.cfg) }

func (e *ThrottleElement) Property(t reflect.Type, ctx *BuildContext) (any, bool) {
	if t == reflect.TypeFor[*Throttle]() {
		return e.throttle, true
	}
	return ctx.InnerProperty(t)
}

type throttledFactory struct {
	*lifecycle.Object
	inner    channel.Factory
	throttle *Throttle
}

func (f *throttledFactory) Shape() channel.Shape { return f.inner.Shape() }

func (f *throttledFactory) CreateChannel(to, via channel.EndpointAddress) (channel.Channel, error) {
	if err := f.CheckOpened(); err != nil {
		return nil, err
	}
	ch, err := f.inner.CreateChannel(to, via)
	if err != nil {
		return nil, err
	}
	return throttleChannel(ch, f.throttle, f, f.Timeouts()), nil
}

type throttledListener struct {
	*lifecycle.Object
	inner    channel.Listener
	throttle *Throttle
}

func (l *throttledListener) Shape() channel.Shape         { return l.inner.Shape() }
func (l *throttledListener) URI() channel.EndpointAddress { return l.inner.URI() }

func (l *throttledListener) WaitForChannel(ctx context.Context) (bool, error) {
	return l.inner.WaitForChannel(ctx)
}

func (l *throttledListener) WaitForChannelAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, l.WaitForChannel)
}

func (l *throttledListener) AcceptChannel(ctx context.Context) (channel.Channel, error) {
	ch, err := l.inner.AcceptChannel(ctx)
	if err != nil || ch == nil {
		return nil, err
	}
	return throttleChannel(ch, l.throttle, l, l.Timeouts()), nil
}

func (l *throttledListener) AcceptChannelAsync(ctx context.Context) *lifecycle.Future[channel.Channel] {
	return lifecycle.Go(ctx, l.AcceptChannel)
}

func throttleChannel(ch channel.Channel, t *Throttle, owner channel.Lifecycle, timeouts lifecycle.Timeouts) channel.Channel {
	obj := newLayer(ThrottleName+" "+ch.ID(), ch, timeouts)
	base := throttledChannel{Object: obj, addresses: addresses{inner: ch}, throttle: t, owner: owner}
	switch c := ch.(type) {
	case channel.RequestChannel:
		return &throttledRequest{throttledChannel: base, inner: c}
	case channel.ReplyChannel:
		return &throttledReply{throttledChannel: base, inner: c}
	case channel.DuplexChannel:
		return &throttledDuplex{throttledChannel: base, inner: c}
	}
	return ch
}

type throttledChannel struct {
	*lifecycle.Object
	addresses
	throttle *Throttle
	owner    channel.Lifecycle
}

func (c *throttledChannel) Owner() channel.Lifecycle { return c.owner }

func (c *throttledChannel) take(ctx context.Context) error {
	if err := c.CheckOpened(); err != nil {
		return err
	}
	return c.throttle.Wait(ctx)
}

type throttledRequest struct {
	throttledChannel
	inner channel.RequestChannel
}

func (c *throttledRequest) Shape() channel.Shape { return channel.ShapeRequest }

func (c *throttledRequest) Request(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if err := c.take(ctx); err != nil {
		return nil, err
	}
	return c.inner.Request(ctx, msg)
}

func (c *throttledRequest) RequestAsync(ctx context.Context, msg *message.Message) *lifecycle.Future[*message.Message] {
	return lifecycle.Go(ctx, func(ctx context.Context) (*message.Message, error) {
		return c.Request(ctx, msg)
	})
}

type throttledReply struct {
	throttledChannel
	inner channel.ReplyChannel
}

func (c *throttledReply) Shape() channel.Shape { return channel.ShapeReply }

func (c *throttledReply) ReceiveRequest(ctx context.Context) (channel.RequestContext, error) {
	if err := c.take(ctx); err != nil {
		return nil, err
	}
	return c.inner.ReceiveRequest(ctx)
}

func (c *throttledReply) TryReceiveRequest(ctx context.Context) (channel.RequestContext, bool, error) {
	if err := c.take(ctx); err != nil {
		if lifecycle.IsTimeout(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return c.inner.TryReceiveRequest(ctx)
}

func (c *throttledReply) WaitForRequest(ctx context.Context) (bool, error) {
	return c.inner.WaitForRequest(ctx)
}

func (c *throttledReply) ReceiveRequestAsync(ctx context.Context) *lifecycle.Future[channel.RequestContext] {
	return lifecycle.Go(ctx, c.ReceiveRequest)
}

func (c *throttledReply) TryReceiveRequestAsync(ctx context.Context) *lifecycle.Future[channel.Received[channel.RequestContext]] {
	return channel.TryAsync(ctx, c.TryReceiveRequest)
}

func (c *throttledReply) WaitForRequestAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, c.WaitForRequest)
}

type throttledDuplex struct {
	throttledChannel
	inner channel.DuplexChannel
}

func (c *throttledDuplex) Shape() channel.Shape { return channel.ShapeDuplex }

func (c *throttledDuplex) Send(ctx context.Context, msg *message.Message) error {
	if err := c.take(ctx); err != nil {
		return err
	}
	return c.inner.Send(ctx, msg)
}

func (c *throttledDuplex) Receive(ctx context.Context) (*message.Message, error) {
	if err := c.take(ctx); err != nil {
		return nil, err
	}
	return c.inner.Receive(ctx)
}

func (c *throttledDuplex) TryReceive(ctx context.Context) (*message.Message, bool, error) {
	if err := c.take(ctx); err != nil {
		if lifecycle.IsTimeout(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return c.inner.TryReceive(ctx)
}

func (c *throttledDuplex) WaitForMessage(ctx context.Context) (bool, error) {
	return c.inner.WaitForMessage(ctx)
}

func (c *throttledDuplex) SendAsync(ctx context.Context, msg *message.Message) *lifecycle.Future[struct{}] {
	return channel.VoidAsync(ctx, func(ctx context.Context) error { return c.Send(ctx, msg) })
}

func (c *throttledDuplex) ReceiveAsync(ctx context.Context) *lifecycle.Future[*message.Message] {
	return lifecycle.Go(ctx, c.Receive)
}

func (c *throttledDuplex) TryReceiveAsync(ctx context.Context) *lifecycle.Future[channel.Received[*message.Message]] {
	return channel.TryAsync(ctx, c.TryReceive)
}

func (c *throttledDuplex) WaitForMessageAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, c.WaitForMessage)
}
