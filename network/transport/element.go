package transport

import (
	"reflect"

	"github.com/linchenxuan/conduit/network/binding"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/codec"
)

// Element is the binding element terminating a stack on a stream Network.
type Element struct {
	name    string
	network Network
	cfg     Config
}

// NewElement returns the transport element registered as name.
func NewElement(name string, network Network, cfg Config) *Element {
	return &Element{name: name, network: network, cfg: cfg}
}

func (e *Element) FactoryName() string { return e.name }
func (e *Element) Scheme() string      { return e.network.Scheme() }

// Config returns the transport options.
func (e *Element) Config() Config { return e.cfg }

func (e *Element) settings(ctx *binding.BuildContext) *settings {
	s := &settings{
		network:          e.network,
		cfg:              e.cfg,
		encoder:          ctx.Params.Encoder,
		maxSizeOfHeaders: ctx.Params.MaxSizeOfHeaders,
		timeouts:         ctx.Params.Timeouts,
	}
	if s.encoder == nil {
		s.encoder = codec.NewBinaryFactory(true)
	}
	if s.maxSizeOfHeaders <= 0 {
		s.maxSizeOfHeaders = binding.DefaultMaxSizeOfHeaders
	}
	return s
}

func (e *Element) CanBuildFactory(shape channel.Shape, _ *binding.BuildContext) bool {
	return shape == channel.ShapeRequest || shape == channel.ShapeDuplex
}

func (e *Element) BuildFactory(shape channel.Shape, ctx *binding.BuildContext) (channel.Factory, error) {
	if !e.CanBuildFactory(shape, ctx) {
		return nil, binding.CannotBuild(e.name, shape, "factory")
	}
	return newFactory(e.settings(ctx), shape), nil
}

func (e *Element) CanBuildListener(shape channel.Shape, ctx *binding.BuildContext) bool {
	return (shape == channel.ShapeReply || shape == channel.ShapeDuplex) &&
		ctx.ListenURI.Scheme() == e.network.Scheme()
}

func (e *Element) BuildListener(shape channel.Shape, ctx *binding.BuildContext) (channel.Listener, error) {
	if !e.CanBuildListener(shape, ctx) {
		return nil, binding.CannotBuild(e.name, shape, "listener on "+ctx.ListenURI.String())
	}
	return newListener(e.settings(ctx), shape, ctx.ListenURI), nil
}

func (e *Element) Clone() binding.Element {
	c := *e
	return &c
}

func (e *Element) Property(t reflect.Type, _ *binding.BuildContext) (any, bool) {
	switch t {
	case reflect.TypeFor[Config]():
		return e.cfg, true
	case reflect.TypeFor[Network]():
		return e.network, true
	}
	return nil, false
}
