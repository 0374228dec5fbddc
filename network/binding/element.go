// Package binding resolves an ordered list of binding elements into a
// channel stack: a factory on the client side, a listener on the server side.
package binding

import (
	"errors"
	"reflect"

	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/plugin"
)

var (
	// ErrNoTransport is returned when the element list does not end in a
	// transport element.
	ErrNoTransport = errors.New("binding: no transport element")
	// ErrCannotBuild is returned when an element cannot build the requested shape.
	ErrCannotBuild = errors.New("binding: cannot build channel stack")
)

// Element is one layer of a channel stack. Middle elements may pass the
// inner result through, decorate it or replace it; only the last element
// opens network resources.
type Element interface {
	plugin.Plugin

	// CanBuildFactory reports whether the element, and the elements behind
	// it in ctx, can build a factory of the shape. It must not change ctx.
	CanBuildFactory(shape channel.Shape, ctx *BuildContext) bool
	// BuildFactory builds a factory, consuming inner elements from ctx.
	BuildFactory(shape channel.Shape, ctx *BuildContext) (channel.Factory, error)
	CanBuildListener(shape channel.Shape, ctx *BuildContext) bool
	BuildListener(shape channel.Shape, ctx *BuildContext) (channel.Listener, error)
	// Clone returns an independent deep copy.
	Clone() Element
	// Property returns a value of type t the element or the elements
	// behind it expose.
	Property(t reflect.Type, ctx *BuildContext) (any, bool)
}

// TransportElement is an element that terminates the stack.
type TransportElement interface {
	Element
	Scheme() string
}

// GetProperty is the typed form of Element.Property.
func GetProperty[T any](e Element, ctx *BuildContext) (T, bool) {
	var zero T
	v, ok := e.Property(reflect.TypeFor[T](), ctx)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
