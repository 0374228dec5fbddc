package binding

import (
	"fmt"
	"reflect"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/codec"
)

// Params is the parameter bag elements fill in for the elements behind them.
type Params struct {
	// Encoder is set by an encoding element; transports fall back to the
	// binary session encoder.
	Encoder codec.Factory
	// MaxSizeOfHeaders bounds decoded headers.
	MaxSizeOfHeaders int
	Timeouts         lifecycle.Timeouts
}

// BuildContext carries the elements not yet consumed by a build. It is
// consumed front to back exactly once; probe a Clone instead.
type BuildContext struct {
	remaining []Element
	consumed  []string
	Params    Params
	// ListenURI is the address a listener binds to.
	ListenURI channel.EndpointAddress
}

// NewBuildContext returns a context over elements. The slice is copied;
// the elements are not.
func NewBuildContext(elements []Element, params Params) *BuildContext {
	return &BuildContext{remaining: append([]Element(nil), elements...), Params: params}
}

// Remaining returns how many elements are left.
func (c *BuildContext) Remaining() int { return len(c.remaining) }

// Consumed returns the factory names of the consumed elements in order.
func (c *BuildContext) Consumed() []string { return append([]string(nil), c.consumed...) }

// Clone returns an independent context with cloned elements.
func (c *BuildContext) Clone() *BuildContext {
	clone := &BuildContext{
		remaining: make([]Element, len(c.remaining)),
		consumed:  append([]string(nil), c.consumed...),
		Params:    c.Params,
		ListenURI: c.ListenURI,
	}
	for i, e := range c.remaining {
		clone.remaining[i] = e.Clone()
	}
	return clone
}

func (c *BuildContext) pop() (Element, bool) {
	if len(c.remaining) == 0 {
		return nil, false
	}
	e := c.remaining[0]
	c.remaining = c.remaining[1:]
	c.consumed = append(c.consumed, e.FactoryName())
	return e, true
}

// BuildInnerFactory pops the next element and builds its factory.
func (c *BuildContext) BuildInnerFactory(shape channel.Shape) (channel.Factory, error) {
	e, ok := c.pop()
	if !ok {
		return nil, fmt.Errorf("%w: element list exhausted building a %s factory", ErrNoTransport, shape)
	}
	f, err := e.BuildFactory(shape, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.FactoryName(), err)
	}
	return f, nil
}

// BuildInnerListener pops the next element and builds its listener.
func (c *BuildContext) BuildInnerListener(shape channel.Shape) (channel.Listener, error) {
	e, ok := c.pop()
	if !ok {
		return nil, fmt.Errorf("%w: element list exhausted building a %s listener", ErrNoTransport, shape)
	}
	l, err := e.BuildListener(shape, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.FactoryName(), err)
	}
	return l, nil
}

// CanBuildInnerFactory probes the next element on a clone of c.
func (c *BuildContext) CanBuildInnerFactory(shape channel.Shape) bool {
	clone := c.Clone()
	e, ok := clone.pop()
	return ok && e.CanBuildFactory(shape, clone)
}

// CanBuildInnerListener probes the next element on a clone of c.
func (c *BuildContext) CanBuildInnerListener(shape channel.Shape) bool {
	clone := c.Clone()
	e, ok := clone.pop()
	return ok && e.CanBuildListener(shape, clone)
}

// InnerProperty asks the next element for a property without consuming it.
func (c *BuildContext) InnerProperty(t reflect.Type) (any, bool) {
	clone := c.Clone()
	e, ok := clone.pop()
	if !ok {
		return nil, false
	}
	return e.Property(t, clone)
}

// CannotBuild returns the error for an element that cannot build shape.
func CannotBuild(element string, shape channel.Shape, side string) error {
	return fmt.Errorf("%w: %s does not support %s %s", ErrCannotBuild, element, shape, side)
}
