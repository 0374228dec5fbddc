package transport

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/network/channel"
)

// base carries what every transport channel has.
type base struct {
	*lifecycle.Object
	id     string
	shape  channel.Shape
	owner  channel.Lifecycle
	s      *settings
	local  channel.EndpointAddress
	remote channel.EndpointAddress
	via    channel.EndpointAddress
}

func newBase(s *settings, shape channel.Shape, owner channel.Lifecycle, h lifecycle.Handler) base {
	id := uuid.NewString()
	return base{
		Object: lifecycle.NewObject(s.scheme()+" "+shape.String()+" "+id, h, s.timeouts),
		id:     id,
		shape:  shape,
		owner:  owner,
		s:      s,
	}
}

func (b *base) ID() string                             { return b.id }
func (b *base) Shape() channel.Shape                   { return b.shape }
func (b *base) Owner() channel.Lifecycle               { return b.owner }
func (b *base) LocalAddress() channel.EndpointAddress  { return b.local }
func (b *base) RemoteAddress() channel.EndpointAddress { return b.remote }
func (b *base) Via() channel.EndpointAddress           { return b.via }

// tryReceive turns a receive timeout into a false result.
func tryReceive[T any](ctx context.Context, receive func(context.Context) (T, error)) (T, bool, error) {
	v, err := receive(ctx)
	if err != nil {
		var zero T
		if lifecycle.IsTimeout(err) {
			return zero, false, nil
		}
		return zero, false, err
	}
	return v, true, nil
}

// unrecoverable reports whether a receive or send error ends the connection.
func unrecoverable(err error) bool {
	return err != nil &&
		!lifecycle.IsTimeout(err) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, io.EOF)
}
