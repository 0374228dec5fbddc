package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/conduit/event"
	"github.com/linchenxuan/conduit/log"
)

// Event names a lifecycle notification.
type Event string

const (
	EventOpening Event = "opening"
	EventOpened  Event = "opened"
	EventClosing Event = "closing"
	EventClosed  Event = "closed"
	EventFaulted Event = "faulted"
)

var _events = []Event{EventOpening, EventOpened, EventClosing, EventClosed, EventFaulted}

// _notifyTimeout bounds how long a transition waits for its subscribers.
const _notifyTimeout = 5 * time.Second

// Notification is delivered to subscribers of an Event.
type Notification struct {
	Source string
	Event  Event
	State  State
	// Err is the fault cause for EventFaulted.
	Err error
}

// Handler supplies the component specific actions run by an Object.
type Handler interface {
	// OnOpen acquires resources. It must honor ctx.
	OnOpen(ctx context.Context) error
	// OnClose releases resources gracefully. It must honor ctx.
	OnClose(ctx context.Context) error
	// OnAbort releases resources immediately. It must not block.
	OnAbort()
}

// HandlerFuncs adapts plain functions to Handler; nil fields are no-ops.
type HandlerFuncs struct {
	Open  func(ctx context.Context) error
	Close func(ctx context.Context) error
	Abort func()
}

func (h HandlerFuncs) OnOpen(ctx context.Context) error {
	if h.Open == nil {
		return nil
	}
	return h.Open(ctx)
}

func (h HandlerFuncs) OnClose(ctx context.Context) error {
	if h.Close == nil {
		return nil
	}
	return h.Close(ctx)
}

func (h HandlerFuncs) OnAbort() {
	if h.Abort != nil {
		h.Abort()
	}
}

// Object is the state machine shared by factories, listeners and channels.
// Components embed it and pass themselves as the Handler.
type Object struct {
	name     atomic.Pointer[string]
	handler  Handler
	timeouts Timeouts

	mu    sync.Mutex
	state State
	cause error

	abortOnce       sync.Once
	doneOnce        sync.Once
	done            chan struct{}
	suppressClosing atomic.Bool
	events          *event.Publisher
}

// NewObject creates an Object in the Created state. Zero timeouts take the defaults.
func NewObject(name string, h Handler, t Timeouts) *Object {
	o := &Object{
		handler:  h,
		timeouts: t.Merge(DefaultTimeouts()),
		done:     make(chan struct{}),
		events:   event.NewPublisher(),
	}
	o.name.Store(&name)
	for _, ev := range _events {
		_ = o.events.NewTopic(string(ev), _notifyTimeout)
	}
	return o
}

// Name identifies the object in logs and errors.
func (o *Object) Name() string { return *o.name.Load() }

// Rename replaces the name used in logs, errors and notifications.
func (o *Object) Rename(name string) { o.name.Store(&name) }

// Timeouts returns the default budgets.
func (o *Object) Timeouts() Timeouts { return o.timeouts }

// State returns the current state.
func (o *Object) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// FaultCause returns the error passed to Fault, if any.
func (o *Object) FaultCause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cause
}

// Done is closed once the object reaches Closed or Faulted.
func (o *Object) Done() <-chan struct{} { return o.done }

// Subscribe registers fn for ev.
func (o *Object) Subscribe(ev Event, fn func(Notification)) error {
	return o.events.RegisterSubscriber(string(ev), func(p any) {
		if n, ok := p.(Notification); ok {
			fn(n)
		}
	})
}

// SuppressClosingEvent disables the closing notification. The transition
// itself still happens.
func (o *Object) SuppressClosingEvent() { o.suppressClosing.Store(true) }

// Open moves Created -> Opening -> Opened running the handler's open action
// under the open budget. A failed open faults the object.
func (o *Object) Open(ctx context.Context) error {
	o.mu.Lock()
	if err := o.checkLocked(Created); err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = Opening
	o.mu.Unlock()
	o.transition(EventOpening, Opening, nil)

	ctx, cancel := WithBudget(ctx, o.timeouts.Open)
	defer cancel()
	if err := o.run(ctx, "open", o.handler.OnOpen); err != nil {
		o.Fault(err)
		return err
	}

	o.mu.Lock()
	if o.state != Opening {
		err := o.stateErrorLocked()
		o.mu.Unlock()
		return err
	}
	o.state = Opened
	o.mu.Unlock()
	o.transition(EventOpened, Opened, nil)
	return nil
}

// Close moves Opened -> Closing -> Closed running the handler's close action
// under the close budget. Closing an object that never opened aborts it.
// If the close action fails or overruns the budget the object is faulted,
// its resources are released and the error is returned.
func (o *Object) Close(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case Created, Opening:
		o.mu.Unlock()
		o.Abort()
		return nil
	case Closing, Closed:
		o.mu.Unlock()
		return nil
	case Faulted:
		err := o.stateErrorLocked()
		o.mu.Unlock()
		o.Abort()
		return err
	}
	o.state = Closing
	o.mu.Unlock()
	if !o.suppressClosing.Load() {
		o.transition(EventClosing, Closing, nil)
	}

	ctx, cancel := WithBudget(ctx, o.timeouts.Close)
	defer cancel()
	if err := o.run(ctx, "close", o.handler.OnClose); err != nil {
		o.Fault(err)
		return err
	}

	o.mu.Lock()
	if o.state != Closing {
		o.mu.Unlock()
		return nil
	}
	o.state = Closed
	o.mu.Unlock()
	o.finish()
	o.transition(EventClosed, Closed, nil)
	return nil
}

// Abort forces the abort action and moves the object to Closed. It is
// idempotent, never fails and may run concurrently with Open or Close.
func (o *Object) Abort() {
	o.mu.Lock()
	if o.state == Closed {
		o.mu.Unlock()
		return
	}
	o.state = Closed
	o.mu.Unlock()

	o.runAbort()
	o.finish()
	o.transition(EventClosed, Closed, nil)
}

// Fault moves a non-terminal object to Faulted and releases its resources.
// Every later operation fails fast with ErrFaulted.
func (o *Object) Fault(err error) {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	o.state = Faulted
	o.cause = err
	o.mu.Unlock()

	log.Warn().Str("object", o.Name()).Err(err).Msg("faulted")
	o.runAbort()
	o.finish()
	o.transition(EventFaulted, Faulted, err)
}

// OpenAsync is the asynchronous form of Open.
func (o *Object) OpenAsync(ctx context.Context) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.Open(ctx)
	})
}

// CloseAsync is the asynchronous form of Close.
func (o *Object) CloseAsync(ctx context.Context) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.Close(ctx)
	})
}

// CheckNotClosed rejects objects that are closing, closed or faulted.
func (o *Object) CheckNotClosed() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case Closing, Closed, Faulted:
		return o.stateErrorLocked()
	}
	return nil
}

// CheckOpened rejects objects that are not Opened.
func (o *Object) CheckOpened() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.checkLocked(Opened)
}

// CheckCreated rejects objects that have left Created; used before
// mutating configuration that becomes immutable once opened.
func (o *Object) CheckCreated() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.checkLocked(Created)
}

func (o *Object) checkLocked(want State) error {
	if o.state == want {
		return nil
	}
	return o.stateErrorLocked()
}

func (o *Object) stateErrorLocked() error {
	switch o.state {
	case Faulted:
		if o.cause != nil {
			return fmt.Errorf("%w: %s: %v", ErrFaulted, o.Name(), o.cause)
		}
		return fmt.Errorf("%w: %s", ErrFaulted, o.Name())
	case Closing, Closed:
		return fmt.Errorf("%w: %s", ErrDisposed, o.Name())
	}
	return fmt.Errorf("%w: %s is %s", ErrInvalidState, o.Name(), o.state)
}

// run executes fn under ctx and returns as soon as ctx ends even if fn has
// not returned yet.
func (o *Object) run(ctx context.Context, op string, fn func(context.Context) error) error {
	res := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- fmt.Errorf("lifecycle: %s %s panicked: %v", o.Name(), op, r)
			}
		}()
		res <- fn(ctx)
	}()

	select {
	case err := <-res:
		if err != nil && !errors.Is(err, ErrTimeout) && errors.Is(err, context.DeadlineExceeded) {
			err = Timeout(o.Name()+" "+op, err)
		}
		return err
	case <-ctx.Done():
		return FromContext(o.Name()+" "+op, ctx)
	}
}

func (o *Object) runAbort() {
	o.abortOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("object", o.Name()).Interface("panic", r).Msg("abort panicked")
			}
		}()
		o.handler.OnAbort()
	})
}

func (o *Object) finish() {
	o.doneOnce.Do(func() { close(o.done) })
}

func (o *Object) transition(ev Event, st State, err error) {
	log.Debug().Str("object", o.Name()).Stringer("state", st).Msg("lifecycle transition")
	_ = o.events.Publish(string(ev), Notification{Source: o.Name(), Event: ev, State: st, Err: err})
}
