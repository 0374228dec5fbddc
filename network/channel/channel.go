// Package channel defines the capability interfaces of the channel stack:
// lifecycles, addressing, request/reply/duplex channels and the factories
// and listeners that produce them.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/message"
)

var (
	// ErrAlreadyReplied is returned by a second Reply on one RequestContext.
	ErrAlreadyReplied = errors.New("channel: request already replied")
	// ErrShapeMismatch is returned when a channel does not have the requested shape.
	ErrShapeMismatch = errors.New("channel: shape mismatch")
)

// Shape is the message exchange pattern a channel supports.
type Shape int

const (
	ShapeRequest Shape = iota + 1
	ShapeReply
	ShapeDuplex
)

func (s Shape) String() string {
	switch s {
	case ShapeRequest:
		return "request"
	case ShapeReply:
		return "reply"
	case ShapeDuplex:
		return "duplex"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// EndpointAddress is an absolute endpoint URI.
type EndpointAddress struct {
	uri *url.URL
}

// ParseAddress parses an absolute URI such as net.tcp://host:port/path.
func ParseAddress(raw string) (EndpointAddress, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return EndpointAddress{}, fmt.Errorf("channel: address %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return EndpointAddress{}, fmt.Errorf("channel: address %q is not absolute", raw)
	}
	return EndpointAddress{uri: u}, nil
}

// MustParseAddress is ParseAddress for constant addresses.
func MustParseAddress(raw string) EndpointAddress {
	a, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is unset.
func (a EndpointAddress) IsZero() bool { return a.uri == nil }

// URL returns a copy of the URI.
func (a EndpointAddress) URL() *url.URL {
	if a.uri == nil {
		return nil
	}
	u := *a.uri
	return &u
}

func (a EndpointAddress) Scheme() string {
	if a.uri == nil {
		return ""
	}
	return a.uri.Scheme
}

// Host returns host:port.
func (a EndpointAddress) Host() string {
	if a.uri == nil {
		return ""
	}
	return a.uri.Host
}

func (a EndpointAddress) Path() string {
	if a.uri == nil {
		return ""
	}
	return a.uri.Path
}

func (a EndpointAddress) String() string {
	if a.uri == nil {
		return ""
	}
	return a.uri.String()
}

// Lifecycle is the state machine surface shared by every component.
type Lifecycle interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Abort()
	State() lifecycle.State
	OpenAsync(ctx context.Context) *lifecycle.Future[struct{}]
	CloseAsync(ctx context.Context) *lifecycle.Future[struct{}]
	Done() <-chan struct{}
	Subscribe(ev lifecycle.Event, fn func(lifecycle.Notification)) error
}

// Addressable exposes the endpoints of a channel.
type Addressable interface {
	LocalAddress() EndpointAddress
	RemoteAddress() EndpointAddress
	// Via is the address the channel physically connects to when it
	// differs from RemoteAddress.
	Via() EndpointAddress
}

// Channel is a lifecycle with addresses and exactly one shape.
type Channel interface {
	Lifecycle
	Addressable
	ID() string
	Shape() Shape
	// Owner is the factory or listener that produced the channel.
	Owner() Lifecycle
}

// RequestChannel completes one request/reply exchange per call.
type RequestChannel interface {
	Channel
	Request(ctx context.Context, msg *message.Message) (*message.Message, error)
	RequestAsync(ctx context.Context, msg *message.Message) *lifecycle.Future[*message.Message]
}

// RequestContext is one received request awaiting its reply. Replying twice
// fails with ErrAlreadyReplied; closing without a reply discards the request.
type RequestContext interface {
	Request() *message.Message
	Reply(ctx context.Context, msg *message.Message) error
	Close(ctx context.Context) error
	Abort()
}

// ReplyChannel receives requests. ReceiveRequest returns io.EOF once the peer
// will send no further requests.
type ReplyChannel interface {
	Channel
	ReceiveRequest(ctx context.Context) (RequestContext, error)
	// TryReceiveRequest reports false instead of a timeout error.
	TryReceiveRequest(ctx context.Context) (RequestContext, bool, error)
	// WaitForRequest reports whether ReceiveRequest would return without
	// blocking. It does not consume the request.
	WaitForRequest(ctx context.Context) (bool, error)
	ReceiveRequestAsync(ctx context.Context) *lifecycle.Future[RequestContext]
	TryReceiveRequestAsync(ctx context.Context) *lifecycle.Future[Received[RequestContext]]
	WaitForRequestAsync(ctx context.Context) *lifecycle.Future[bool]
}

// DuplexChannel sends and receives independently over one session.
// Receive returns io.EOF once the peer has ended its half of the session.
type DuplexChannel interface {
	Channel
	Send(ctx context.Context, msg *message.Message) error
	Receive(ctx context.Context) (*message.Message, error)
	TryReceive(ctx context.Context) (*message.Message, bool, error)
	WaitForMessage(ctx context.Context) (bool, error)
	SendAsync(ctx context.Context, msg *message.Message) *lifecycle.Future[struct{}]
	ReceiveAsync(ctx context.Context) *lifecycle.Future[*message.Message]
	TryReceiveAsync(ctx context.Context) *lifecycle.Future[Received[*message.Message]]
	WaitForMessageAsync(ctx context.Context) *lifecycle.Future[bool]
}

// Received is the result of a Try receive run asynchronously.
type Received[T any] struct {
	Value T
	OK    bool
}

// Factory creates client channels of one shape.
type Factory interface {
	Lifecycle
	Shape() Shape
	// CreateChannel returns an unopened channel to `to`, connecting through
	// via when it is set.
	CreateChannel(to, via EndpointAddress) (Channel, error)
}

// Listener produces server channels of one shape. AcceptChannel returns a
// nil channel and nil error when the budget expires or the listener closes.
type Listener interface {
	Lifecycle
	Shape() Shape
	URI() EndpointAddress
	AcceptChannel(ctx context.Context) (Channel, error)
	WaitForChannel(ctx context.Context) (bool, error)
	AcceptChannelAsync(ctx context.Context) *lifecycle.Future[Channel]
	WaitForChannelAsync(ctx context.Context) *lifecycle.Future[bool]
}

// As returns ch as T or ErrShapeMismatch.
func As[T Channel](ch Channel) (T, error) {
	t, ok := ch.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s channel %T", ErrShapeMismatch, ch.Shape(), ch)
	}
	return t, nil
}
