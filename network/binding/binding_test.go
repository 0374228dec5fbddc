package binding

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/codec"
	"github.com/linchenxuan/conduit/network/message"
	"github.com/linchenxuan/conduit/plugin"
)

// journal records build calls across elements and their clones.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.calls = append(j.calls, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type recordElement struct {
	name string
	log  *journal
}

func (e *recordElement) FactoryName() string { return e.name }

func (e *recordElement) CanBuildFactory(shape channel.Shape, ctx *BuildContext) bool {
	return ctx.CanBuildInnerFactory(shape)
}

func (e *recordElement) BuildFactory(shape channel.Shape, ctx *BuildContext) (channel.Factory, error) {
	e.log.add(e.name)
	return ctx.BuildInnerFactory(shape)
}

func (e *recordElement) CanBuildListener(shape channel.Shape, ctx *BuildContext) bool {
	return ctx.CanBuildInnerListener(shape)
}

func (e *recordElement) BuildListener(shape channel.Shape, ctx *BuildContext) (channel.Listener, error) {
	e.log.add(e.name)
	return ctx.BuildInnerListener(shape)
}

func (e *recordElement) Clone() Element { c := *e; return &c }

func (e *recordElement) Property(t reflect.Type, ctx *BuildContext) (any, bool) {
	return ctx.InnerProperty(t)
}

type fakeTransportConfig struct {
	Shapes []string `mapstructure:"shapes"`
}

// fakeTransport builds in-memory factories and records the params it saw.
type fakeTransport struct {
	shapes map[channel.Shape]bool
	log    *journal
	params *Params
}

func newFakeTransport(log *journal, shapes ...channel.Shape) *fakeTransport {
	t := &fakeTransport{shapes: map[channel.Shape]bool{}, log: log, params: &Params{}}
	for _, s := range shapes {
		t.shapes[s] = true
	}
	return t
}

func (t *fakeTransport) FactoryName() string { return "fake" }
func (t *fakeTransport) Scheme() string      { return "fake" }

func (t *fakeTransport) CanBuildFactory(shape channel.Shape, _ *BuildContext) bool {
	return t.shapes[shape]
}

func (t *fakeTransport) BuildFactory(shape channel.Shape, ctx *BuildContext) (channel.Factory, error) {
	if !t.shapes[shape] {
		return nil, CannotBuild("fake", shape, "factory")
	}
	t.log.add("fake")
	*t.params = ctx.Params
	return &fakeFactory{Object: lifecycle.NewObject("fake factory", lifecycle.HandlerFuncs{}, ctx.Params.Timeouts), shape: shape}, nil
}

func (t *fakeTransport) CanBuildListener(shape channel.Shape, _ *BuildContext) bool {
	return t.shapes[shape]
}

func (t *fakeTransport) BuildListener(shape channel.Shape, ctx *BuildContext) (channel.Listener, error) {
	return nil, CannotBuild("fake", shape, "listener")
}

func (t *fakeTransport) Clone() Element {
	c := *t
	c.params = &Params{}
	return &c
}

func (t *fakeTransport) Property(reflect.Type, *BuildContext) (any, bool) { return nil, false }

type fakeFactory struct {
	*lifecycle.Object
	shape channel.Shape
}

func (f *fakeFactory) Shape() channel.Shape { return f.shape }

func (f *fakeFactory) CreateChannel(to, via channel.EndpointAddress) (channel.Channel, error) {
	return nil, fmt.Errorf("fake: no channels")
}

func TestBuildFactoryConsumesInOrder(t *testing.T) {
	log := &journal{}
	b := New("test", lifecycle.Timeouts{},
		&recordElement{name: "a", log: log},
		&recordElement{name: "b", log: log},
		newFakeTransport(log, channel.ShapeDuplex),
	)
	assert.Equal(t, "fake", b.Scheme())
	require.True(t, b.CanBuildFactory(channel.ShapeDuplex))
	assert.Empty(t, log.list(), "probing must not build")

	f, err := b.BuildFactory(channel.ShapeDuplex)
	require.NoError(t, err)
	assert.Equal(t, channel.ShapeDuplex, f.Shape())
	assert.Equal(t, []string{"a", "b", "fake"}, log.list())
}

func TestBuildContextConsumed(t *testing.T) {
	log := &journal{}
	ctx := NewBuildContext([]Element{
		&recordElement{name: "a", log: log},
		newFakeTransport(log, channel.ShapeRequest),
	}, Params{})
	_, err := ctx.BuildInnerFactory(channel.ShapeRequest)
	require.NoError(t, err)
	assert.Equal(t, 0, ctx.Remaining())
	assert.Equal(t, []string{"a", "fake"}, ctx.Consumed())

	_, err = ctx.BuildInnerFactory(channel.ShapeRequest)
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestBuildWithoutTransport(t *testing.T) {
	log := &journal{}
	b := New("bare", lifecycle.Timeouts{}, &recordElement{name: "a", log: log})
	assert.False(t, b.CanBuildFactory(channel.ShapeRequest))
	_, err := b.BuildFactory(channel.ShapeRequest)
	assert.ErrorIs(t, err, ErrNoTransport)
	_, err = New("empty", lifecycle.Timeouts{}).BuildFactory(channel.ShapeRequest)
	assert.ErrorIs(t, err, ErrNoTransport)
	assert.Empty(t, log.list())
}

func TestBuildUnsupportedShape(t *testing.T) {
	log := &journal{}
	b := New("tcp", lifecycle.Timeouts{},
		&recordElement{name: "a", log: log},
		newFakeTransport(log, channel.ShapeDuplex),
	)
	assert.False(t, b.CanBuildFactory(channel.ShapeRequest))
	_, err := b.BuildFactory(channel.ShapeRequest)
	assert.ErrorIs(t, err, ErrCannotBuild)
	assert.Empty(t, log.list(), "a failed probe must not build anything")
}

func TestBuildListenerSchemeMismatch(t *testing.T) {
	b := New("fake", lifecycle.Timeouts{}, newFakeTransport(&journal{}, channel.ShapeReply))
	_, err := b.BuildListener(channel.ShapeReply, channel.MustParseAddress("net.tcp://localhost:1/x"))
	assert.ErrorIs(t, err, ErrCannotBuild)
}

func TestCloneBuildsIndependently(t *testing.T) {
	log := &journal{}
	transport := newFakeTransport(log, channel.ShapeDuplex)
	b := New("t", lifecycle.Timeouts{}, NewBinaryEncoding(*DefaultBinaryEncodingConfig()), transport)
	c := b.Clone()

	f1, err := b.BuildFactory(channel.ShapeDuplex)
	require.NoError(t, err)
	f2, err := c.BuildFactory(channel.ShapeDuplex)
	require.NoError(t, err)
	assert.NotSame(t, f1, f2)
	assert.Equal(t, []string{"fake", "fake"}, log.list())

	require.NoError(t, f1.Open(context.Background()))
	assert.Equal(t, lifecycle.Opened, f1.State())
	assert.Equal(t, lifecycle.Created, f2.State())
}

func TestEncodingParams(t *testing.T) {
	log := &journal{}
	transport := newFakeTransport(log, channel.ShapeDuplex)
	b := New("t", lifecycle.Timeouts{},
		NewBinaryEncoding(BinaryEncodingConfig{MaxSizeOfHeaders: 1024, Session: true}),
		NewCompression(*DefaultCompressionConfig()),
		transport,
	)
	_, err := b.BuildFactory(channel.ShapeDuplex)
	require.NoError(t, err)
	require.NotNil(t, transport.params.Encoder)
	assert.Equal(t, codec.ContentTypeBinarySession+codec.SnappySuffix, transport.params.Encoder.ContentType())
	assert.Equal(t, 1024, transport.params.MaxSizeOfHeaders)

	enc, ok := Property[codec.Factory](b)
	require.True(t, ok)
	assert.Equal(t, codec.ContentTypeBinarySession, enc.ContentType())
}

func TestCompressionNeedsEncoding(t *testing.T) {
	b := New("t", lifecycle.Timeouts{},
		NewCompression(*DefaultCompressionConfig()),
		newFakeTransport(&journal{}, channel.ShapeDuplex),
	)
	assert.False(t, b.CanBuildFactory(channel.ShapeDuplex))
	_, err := b.BuildFactory(channel.ShapeDuplex)
	assert.ErrorIs(t, err, ErrCannotBuild)
}

func TestDuplexRequestShapes(t *testing.T) {
	log := &journal{}
	b := New("t", lifecycle.Timeouts{}, NewDuplexRequestElement(), newFakeTransport(log, channel.ShapeDuplex))
	assert.True(t, b.CanBuildFactory(channel.ShapeRequest))
	assert.True(t, b.CanBuildFactory(channel.ShapeDuplex))
	assert.False(t, b.CanBuildFactory(channel.ShapeReply))

	f, err := b.BuildFactory(channel.ShapeRequest)
	require.NoError(t, err)
	assert.Equal(t, channel.ShapeRequest, f.Shape())
}

func TestLoad(t *testing.T) {
	m := plugin.NewManager()
	for _, f := range Factories() {
		m.RegisterFactory(f)
	}
	log := &journal{}
	m.RegisterFactory(NewElementFactory("fake", func() *fakeTransportConfig { return &fakeTransportConfig{} },
		func(*fakeTransportConfig) (Element, error) { return newFakeTransport(log, channel.ShapeDuplex), nil }))

	b, err := Load(m, Config{
		Name: "loaded",
		Elements: []map[string]any{
			{"name": "binaryEncoding", "session": false},
			{"name": "throttle", "rate": 50.0, "burst": 5},
			{"name": "fake"},
		},
	})
	require.NoError(t, err)
	require.Len(t, b.Elements, 3)
	assert.Equal(t, lifecycle.DefaultTimeouts(), b.Timeouts)
	enc, ok := Property[codec.Factory](b)
	require.True(t, ok)
	assert.Equal(t, codec.ContentTypeBinary, enc.ContentType())
	_, ok = Property[*Throttle](b)
	assert.True(t, ok)

	_, err = Load(m, Config{Name: "bad", Elements: []map[string]any{{"name": "throttle", "rate": 0.0}}})
	assert.ErrorIs(t, err, plugin.ErrFactorySetup)
	_, err = Load(m, Config{Name: "bad", Elements: []map[string]any{{"name": "throttle", "bogus": 1}}})
	assert.ErrorIs(t, err, plugin.ErrConfigDecode)
	_, err = Load(m, Config{Name: "bad"})
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestThrottleWaitTimeout(t *testing.T) {
	th := NewThrottle(1, 1)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := th.Wait(ctx)
	assert.True(t, lifecycle.IsTimeout(err))

	th.Reload(1000, 10)
	require.NoError(t, th.Wait(context.Background()))
}

// pipe is one end of an in-memory duplex session.
type pipe struct {
	*lifecycle.Object
	id      string
	in, out *channel.InputQueue[*message.Message]
}

func newPipePair() (*pipe, *pipe) {
	a, b := &channel.InputQueue[*message.Message]{}, &channel.InputQueue[*message.Message]{}
	client := &pipe{id: "client", in: a, out: b}
	server := &pipe{id: "server", in: b, out: a}
	for _, p := range []*pipe{client, server} {
		p.Object = lifecycle.NewObject(p.id, lifecycle.HandlerFuncs{
			Close: func(context.Context) error { p.out.Shutdown(); return nil },
			Abort: func() { p.out.Shutdown(); p.in.Shutdown() },
		}, lifecycle.Timeouts{})
	}
	return client, server
}

func (p *pipe) ID() string                             { return p.id }
func (p *pipe) Shape() channel.Shape                   { return channel.ShapeDuplex }
func (p *pipe) Owner() channel.Lifecycle               { return nil }
func (p *pipe) LocalAddress() channel.EndpointAddress  { return channel.EndpointAddress{} }
func (p *pipe) RemoteAddress() channel.EndpointAddress { return channel.EndpointAddress{} }
func (p *pipe) Via() channel.EndpointAddress           { return channel.EndpointAddress{} }

func (p *pipe) Send(_ context.Context, msg *message.Message) error {
	if !p.out.Enqueue(msg.Clone()) {
		return lifecycle.ErrDisposed
	}
	return nil
}

func (p *pipe) Receive(ctx context.Context) (*message.Message, error) {
	m, ok, err := p.in.Dequeue(ctx)
	switch {
	case err != nil:
		return nil, err
	case ok:
		return m, nil
	case ctx.Err() != nil:
		return nil, lifecycle.FromContext("receive", ctx)
	}
	return nil, io.EOF
}

func (p *pipe) TryReceive(ctx context.Context) (*message.Message, bool, error) {
	m, err := p.Receive(ctx)
	if lifecycle.IsTimeout(err) {
		return nil, false, nil
	}
	return m, err == nil, err
}

func (p *pipe) WaitForMessage(ctx context.Context) (bool, error) { return p.in.WaitForItem(ctx) }

func (p *pipe) SendAsync(ctx context.Context, msg *message.Message) *lifecycle.Future[struct{}] {
	return channel.VoidAsync(ctx, func(ctx context.Context) error { return p.Send(ctx, msg) })
}

func (p *pipe) ReceiveAsync(ctx context.Context) *lifecycle.Future[*message.Message] {
	return lifecycle.Go(ctx, p.Receive)
}

func (p *pipe) TryReceiveAsync(ctx context.Context) *lifecycle.Future[channel.Received[*message.Message]] {
	return channel.TryAsync(ctx, p.TryReceive)
}

func (p *pipe) WaitForMessageAsync(ctx context.Context) *lifecycle.Future[bool] {
	return lifecycle.Go(ctx, p.WaitForMessage)
}

func TestCorrelatedRequestOutOfOrder(t *testing.T) {
	client, server := newPipePair()
	req := newCorrelatedRequest(client, nil, lifecycle.Timeouts{})
	rep := &correlatedReply{addresses: addresses{inner: server}, inner: server}
	rep.Object = newLayer("reply", server, lifecycle.Timeouts{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, req.Open(ctx))
	require.NoError(t, rep.Open(ctx))

	var g errgroup.Group
	g.Go(func() error {
		// Collect both requests before answering the second one first.
		first, err := rep.ReceiveRequest(ctx)
		if err != nil {
			return err
		}
		second, err := rep.ReceiveRequest(ctx)
		if err != nil {
			return err
		}
		for _, rc := range []channel.RequestContext{second, first} {
			body, _ := rc.Request().Body()
			if err := rc.Reply(ctx, message.New(message.VersionDefault, "reply", append([]byte("re:"), body...))); err != nil {
				return err
			}
		}
		return first.Reply(ctx, message.New(message.VersionDefault, "reply", nil))
	})

	var replies sync.Map
	var callers errgroup.Group
	for _, body := range []string{"one", "two"} {
		callers.Go(func() error {
			reply, err := req.Request(ctx, message.New(message.VersionDefault, "echo", []byte(body)))
			if err != nil {
				return err
			}
			got, err := reply.Body()
			replies.Store(body, string(got))
			return err
		})
	}
	require.NoError(t, callers.Wait())
	assert.ErrorIs(t, g.Wait(), channel.ErrAlreadyReplied)

	for _, body := range []string{"one", "two"} {
		v, ok := replies.Load(body)
		require.True(t, ok)
		assert.Equal(t, "re:"+body, v)
	}

	require.NoError(t, server.Close(ctx))
	require.NoError(t, req.Close(ctx))
}

func TestCorrelatedRequestPeerEnds(t *testing.T) {
	client, server := newPipePair()
	req := newCorrelatedRequest(client, nil, lifecycle.Timeouts{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, req.Open(ctx))
	require.NoError(t, server.Open(ctx))

	go func() {
		_, _ = server.Receive(ctx)
		server.Abort()
	}()
	_, err := req.Request(ctx, message.New(message.VersionDefault, "echo", nil))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = req.Request(ctx, message.New(message.VersionDefault, "echo", nil))
	assert.Error(t, err)
	req.Abort()
	assert.Equal(t, lifecycle.Closed, req.State())
}

func TestEncodingElementNames(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewJSONEncoding(*DefaultJSONEncodingConfig()).Encoder().ContentType(), "application/json"))
	assert.Equal(t, BinaryEncodingName, NewBinaryEncoding(*DefaultBinaryEncodingConfig()).FactoryName())
}
