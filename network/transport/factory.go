package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/channel"
)

// factory creates client channels of one shape and owns them until they
// close.
type factory struct {
	*lifecycle.Object
	s     *settings
	shape channel.Shape

	mu       sync.Mutex
	channels map[string]channel.Channel
}

func newFactory(s *settings, shape channel.Shape) *factory {
	f := &factory{s: s, shape: shape, channels: make(map[string]channel.Channel)}
	f.Object = lifecycle.NewObject(s.scheme()+" "+shape.String()+" factory", f, s.timeouts)
	return f
}

func (f *factory) Shape() channel.Shape { return f.shape }

// CreateChannel returns a channel to `to`, connecting to via. A zero via
// means `to`.
func (f *factory) CreateChannel(to, via channel.EndpointAddress) (channel.Channel, error) {
	if err := f.CheckOpened(); err != nil {
		return nil, err
	}
	if via.IsZero() {
		via = to
	}
	if via.Scheme() != f.s.scheme() {
		return nil, fmt.Errorf("transport: address %s does not use scheme %s", via, f.s.scheme())
	}

	var ch channel.Channel
	switch f.shape {
	case channel.ShapeRequest:
		ch = newRequestChannel(f, to, via)
	case channel.ShapeDuplex:
		ch = newClientDuplex(f, to, via)
	default:
		return nil, fmt.Errorf("%w: %s", channel.ErrShapeMismatch, f.shape)
	}

	f.mu.Lock()
	f.channels[ch.ID()] = ch
	f.mu.Unlock()
	untrack := func(lifecycle.Notification) {
		f.mu.Lock()
		delete(f.channels, ch.ID())
		f.mu.Unlock()
	}
	_ = ch.Subscribe(lifecycle.EventClosed, untrack)
	_ = ch.Subscribe(lifecycle.EventFaulted, untrack)
	watchChannel(ch)
	return ch, nil
}

// dial connects to addr, retrying with backoff while ctx allows.
func (f *factory) dial(ctx context.Context, addr channel.EndpointAddress) (net.Conn, error) {
	b := &backoff.Backoff{
		Min:    f.s.cfg.DialBackoffMin,
		Max:    f.s.cfg.DialBackoffMax,
		Factor: 2,
		Jitter: true,
	}
	for {
		conn, err := f.s.network.Dial(ctx, addr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, lifecycle.FromContext("dial "+addr.String(), ctx)
		}
		if int(b.Attempt()) >= f.s.cfg.DialRetries {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		d := b.Duration()
		log.Debug().Str("addr", addr.String()).Err(err).Dur("retry", d).Msg("dial failed")
		statDialRetry(f.s.scheme())

		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, lifecycle.FromContext("dial "+addr.String(), ctx)
		}
	}
}

func (f *factory) snapshot() []channel.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]channel.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out
}

func (f *factory) OnOpen(context.Context) error { return nil }

// OnClose closes every channel still open.
func (f *factory) OnClose(ctx context.Context) error {
	var errs []error
	for _, ch := range f.snapshot() {
		if err := ch.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *factory) OnAbort() {
	for _, ch := range f.snapshot() {
		ch.Abort()
	}
}
