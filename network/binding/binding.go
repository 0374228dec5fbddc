package binding

import (
	"fmt"
	"reflect"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/channel"
)

// Binding is a named, ordered element list with default budgets.
type Binding struct {
	Name     string
	Elements []Element
	Timeouts lifecycle.Timeouts
}

// New returns a binding over elements. Zero timeouts take the defaults.
func New(name string, timeouts lifecycle.Timeouts, elements ...Element) *Binding {
	return &Binding{Name: name, Elements: elements, Timeouts: timeouts.Merge(lifecycle.DefaultTimeouts())}
}

// Scheme returns the URI scheme of the transport element, or "".
func (b *Binding) Scheme() string {
	if t, ok := b.transport(); ok {
		return t.Scheme()
	}
	return ""
}

func (b *Binding) transport() (TransportElement, bool) {
	if len(b.Elements) == 0 {
		return nil, false
	}
	t, ok := b.Elements[len(b.Elements)-1].(TransportElement)
	return t, ok
}

// NewContext returns a fresh build context over the binding's elements.
func (b *Binding) NewContext(listenURI channel.EndpointAddress) *BuildContext {
	ctx := NewBuildContext(b.Elements, Params{Timeouts: b.Timeouts})
	ctx.ListenURI = listenURI
	return ctx
}

// Clone returns a binding with cloned elements.
func (b *Binding) Clone() *Binding {
	elements := make([]Element, len(b.Elements))
	for i, e := range b.Elements {
		elements[i] = e.Clone()
	}
	return &Binding{Name: b.Name, Elements: elements, Timeouts: b.Timeouts}
}

// CanBuildFactory reports whether BuildFactory would succeed for shape.
func (b *Binding) CanBuildFactory(shape channel.Shape) bool {
	return b.NewContext(channel.EndpointAddress{}).CanBuildInnerFactory(shape)
}

// CanBuildListener reports whether BuildListener would succeed for shape.
func (b *Binding) CanBuildListener(shape channel.Shape, listenURI channel.EndpointAddress) bool {
	return b.NewContext(listenURI).CanBuildInnerListener(shape)
}

// BuildFactory resolves the element list into a client factory. It fails
// synchronously when the list does not end in a transport or when an
// element cannot build the shape.
func (b *Binding) BuildFactory(shape channel.Shape) (channel.Factory, error) {
	if _, ok := b.transport(); !ok {
		return nil, fmt.Errorf("%w: binding %q", ErrNoTransport, b.Name)
	}
	ctx := b.NewContext(channel.EndpointAddress{})
	if !ctx.CanBuildInnerFactory(shape) {
		return nil, CannotBuild("binding "+b.Name, shape, "factory")
	}
	f, err := ctx.BuildInnerFactory(shape)
	if err != nil {
		return nil, err
	}
	if ctx.Remaining() > 0 {
		f.Abort()
		return nil, fmt.Errorf("%w: %d elements after the transport", ErrCannotBuild, ctx.Remaining())
	}
	return f, nil
}

// BuildListener resolves the element list into a listener on listenURI.
func (b *Binding) BuildListener(shape channel.Shape, listenURI channel.EndpointAddress) (channel.Listener, error) {
	t, ok := b.transport()
	if !ok {
		return nil, fmt.Errorf("%w: binding %q", ErrNoTransport, b.Name)
	}
	if listenURI.Scheme() != t.Scheme() {
		return nil, fmt.Errorf("%w: listen address %q does not use scheme %s", ErrCannotBuild, listenURI, t.Scheme())
	}
	ctx := b.NewContext(listenURI)
	if !ctx.CanBuildInnerListener(shape) {
		return nil, CannotBuild("binding "+b.Name, shape, "listener")
	}
	l, err := ctx.BuildInnerListener(shape)
	if err != nil {
		return nil, err
	}
	if ctx.Remaining() > 0 {
		l.Abort()
		return nil, fmt.Errorf("%w: %d elements after the transport", ErrCannotBuild, ctx.Remaining())
	}
	return l, nil
}

// Property returns the first value of type T exposed by the stack.
func Property[T any](b *Binding) (T, bool) {
	ctx := b.NewContext(channel.EndpointAddress{})
	v, ok := ctx.InnerProperty(reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
