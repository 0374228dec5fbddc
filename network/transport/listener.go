package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/channel"
)

// listener accepts raw connections in the background and hands them out as
// channels of one shape.
type listener struct {
	*lifecycle.Object
	s     *settings
	shape channel.Shape
	uri   channel.EndpointAddress

	ln       net.Listener
	pending  channel.InputQueue[net.Conn]
	stop     chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup

	mu       sync.Mutex
	channels map[string]channel.Channel
	orphans  map[string]*duplexChannel
}

func newListener(s *settings, shape channel.Shape, uri channel.EndpointAddress) *listener {
	l := &listener{
		s:        s,
		shape:    shape,
		uri:      uri,
		stop:     make(chan struct{}),
		channels: make(map[string]channel.Channel),
		orphans:  make(map[string]*duplexChannel),
	}
	l.Object = lifecycle.NewObject(l.objectName(), l, s.timeouts)
	return l
}

func (l *listener) objectName() string {
	return l.s.scheme() + " " + l.shape.String() + " listener " + l.uri.String()
}

func (l *listener) Shape() channel.Shape { return l.shape }

// URI returns the bound address once the listener is open.
func (l *listener) URI() channel.EndpointAddress { return l.uri }

func (l *listener) OnOpen(context.Context) error {
	ln, bound, err := l.s.network.Listen(l.uri)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", l.uri, err)
	}
	l.ln, l.uri = ln, bound
	l.Rename(l.objectName())
	l.loop.Add(1)
	go l.acceptLoop()
	log.Info().Str("uri", l.uri.String()).Str("shape", l.shape.String()).Msg("listener started")
	return nil
}

func (l *listener) closed() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// acceptLoop runs until the listener stops. Transient accept errors back off.
func (l *listener) acceptLoop() {
	defer l.loop.Done()
	var delay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closed() || errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			log.Error().Err(err).Dur("retry", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
				continue
			case <-l.stop:
				return
			}
		}
		delay = 0
		statConnAccept(l.s.scheme())

		if l.shape == channel.ShapeDuplex {
			if c := l.takeOrphan(l.s.network.RemoteKey(conn)); c != nil {
				c.adopt(conn)
				continue
			}
		}
		if limit := l.s.cfg.MaxPendingConnections; limit > 0 && l.pending.Len() >= limit {
			log.Warn().Str("uri", l.uri.String()).Int("pending", limit).Msg("too many pending connections, dropping")
			_ = conn.Close()
			statConnReject(l.s.scheme(), "pending")
			continue
		}
		if !l.pending.Enqueue(conn) {
			_ = conn.Close()
			return
		}
		statPending(l.s.scheme(), l.pending.Len())
	}
}

// AcceptChannel returns the next connection as an unopened channel. It
// returns nil without error when the receive budget expires or the
// listener shuts down.
func (l *listener) AcceptChannel(ctx context.Context) (channel.Channel, error) {
	if err := l.CheckOpened(); err != nil {
		return nil, err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, l.Timeouts().Receive)
	defer cancel()
	start := time.Now()
	conn, ok, err := l.pending.Dequeue(ctx)
	statAcceptWait(l.s.scheme(), start)
	if err != nil || !ok {
		return nil, err
	}

	var ch channel.Channel
	if l.shape == channel.ShapeDuplex {
		ch = newServerDuplex(l, conn)
	} else {
		ch = newReplyChannel(l, conn)
	}
	if !l.track(ch) {
		ch.Abort()
		return nil, nil
	}
	watchChannel(ch)
	return ch, nil
}

func (l *listener) WaitForChannel(ctx context.Context) (bool, error) {
	if err := l.CheckOpened(); err != nil {
		return false, err
	}
	ctx, cancel := lifecycle.WithBudget(ctx, l.Timeouts().Receive)
	defer cancel()
	return l.pending.WaitForItem(ctx)
}

func (l *listener) AcceptChannelAsync(ctx context.Context) *lifecycle.Future[channel.Channel] {
	return lifecycle.Go(ctx, l.AcceptChannel)
}

func (l *listener) WaitForChannelAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, l.WaitForChannel)
}

// track records ch for the shutdown abort. It reports false once the
// listener has stopped.
func (l *listener) track(ch channel.Channel) bool {
	l.mu.Lock()
	if l.closed() {
		l.mu.Unlock()
		return false
	}
	l.channels[ch.ID()] = ch
	l.mu.Unlock()
	untrack := func(lifecycle.Notification) {
		l.mu.Lock()
		delete(l.channels, ch.ID())
		l.mu.Unlock()
	}
	_ = ch.Subscribe(lifecycle.EventClosed, untrack)
	_ = ch.Subscribe(lifecycle.EventFaulted, untrack)
	return true
}

func (l *listener) orphan(c *duplexChannel) {
	l.mu.Lock()
	if l.closed() {
		l.mu.Unlock()
		c.Fault(fmt.Errorf("%w: listener %s closed", ErrConnectionLost, l.uri))
		return
	}
	l.orphans[c.key] = c
	l.mu.Unlock()
}

func (l *listener) takeOrphan(key string) *duplexChannel {
	if key == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.orphans[key]
	if ok {
		delete(l.orphans, key)
	}
	return c
}

func (l *listener) forgetOrphan(c *duplexChannel) {
	l.mu.Lock()
	if l.orphans[c.key] == c {
		delete(l.orphans, c.key)
	}
	l.mu.Unlock()
}

// shutdown stops accepting, drops unaccepted connections and aborts every
// channel handed out. Only the first call does any work.
func (l *listener) shutdown() {
	l.stopOnce.Do(l.stopAll)
}

func (l *listener) stopAll() {
	l.mu.Lock()
	close(l.stop)
	l.mu.Unlock()
	if l.ln != nil {
		_ = l.ln.Close()
	}
	for _, conn := range l.pending.Shutdown() {
		_ = conn.Close()
	}

	l.mu.Lock()
	chans := make([]channel.Channel, 0, len(l.channels))
	for _, ch := range l.channels {
		chans = append(chans, ch)
	}
	l.orphans = make(map[string]*duplexChannel)
	l.mu.Unlock()

	var wg conc.WaitGroup
	for _, ch := range chans {
		wg.Go(ch.Abort)
	}
	wg.Wait()
	l.loop.Wait()
}

func (l *listener) OnClose(context.Context) error {
	l.shutdown()
	log.Info().Str("uri", l.uri.String()).Msg("listener stopped")
	return nil
}

func (l *listener) OnAbort() { l.shutdown() }
