package binding

import (
	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/channel"
)

// newLayer returns the lifecycle of a decorator around inner. Transitions
// are forwarded to inner, and a fault of inner faults the decorator.
func newLayer(name string, inner channel.Lifecycle, t lifecycle.Timeouts) *lifecycle.Object {
	obj := lifecycle.NewObject(name, lifecycle.HandlerFuncs{
		Open:  inner.Open,
		Close: inner.Close,
		Abort: inner.Abort,
	}, t)
	_ = inner.Subscribe(lifecycle.EventFaulted, func(n lifecycle.Notification) {
		obj.Fault(n.Err)
	})
	return obj
}

// addresses forwards channel.Addressable and ID to the decorated channel.
type addresses struct {
	inner channel.Channel
}

func (a addresses) ID() string                             { return a.inner.ID() }
func (a addresses) LocalAddress() channel.EndpointAddress  { return a.inner.LocalAddress() }
func (a addresses) RemoteAddress() channel.EndpointAddress { return a.inner.RemoteAddress() }
func (a addresses) Via() channel.EndpointAddress           { return a.inner.Via() }
