package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) attach(t *testing.T, o *Object) {
	for _, ev := range _events {
		require.NoError(t, o.Subscribe(ev, func(n Notification) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, n.Event)
		}))
	}
}

func (r *recorder) seen() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestObjectOpenClose(t *testing.T) {
	var opened, closed, aborted atomic.Int32
	o := NewObject("obj", HandlerFuncs{
		Open:  func(context.Context) error { opened.Add(1); return nil },
		Close: func(context.Context) error { closed.Add(1); return nil },
		Abort: func() { aborted.Add(1) },
	}, Timeouts{})
	rec := &recorder{}
	rec.attach(t, o)

	assert.Equal(t, Created, o.State())
	require.NoError(t, o.CheckCreated())
	assert.ErrorIs(t, o.CheckOpened(), ErrInvalidState)

	require.NoError(t, o.Open(context.Background()))
	assert.Equal(t, Opened, o.State())
	require.NoError(t, o.CheckOpened())
	assert.ErrorIs(t, o.CheckCreated(), ErrInvalidState)
	assert.ErrorIs(t, o.Open(context.Background()), ErrInvalidState)

	require.NoError(t, o.Close(context.Background()))
	assert.Equal(t, Closed, o.State())
	assert.ErrorIs(t, o.CheckNotClosed(), ErrDisposed)
	require.NoError(t, o.Close(context.Background()))

	assert.EqualValues(t, 1, opened.Load())
	assert.EqualValues(t, 1, closed.Load())
	assert.EqualValues(t, 0, aborted.Load())
	assert.Equal(t, []Event{EventOpening, EventOpened, EventClosing, EventClosed}, rec.seen())

	select {
	case <-o.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestObjectOpenFailureFaults(t *testing.T) {
	boom := errors.New("boom")
	var aborted atomic.Int32
	o := NewObject("obj", HandlerFuncs{
		Open:  func(context.Context) error { return boom },
		Abort: func() { aborted.Add(1) },
	}, Timeouts{})

	err := o.Open(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Faulted, o.State())
	assert.ErrorIs(t, o.FaultCause(), boom)
	assert.EqualValues(t, 1, aborted.Load())

	assert.ErrorIs(t, o.CheckNotClosed(), ErrFaulted)
	assert.ErrorIs(t, o.Close(context.Background()), ErrFaulted)
	assert.Equal(t, Closed, o.State())
	assert.EqualValues(t, 1, aborted.Load())
}

func TestObjectOpenTimeout(t *testing.T) {
	o := NewObject("slow", HandlerFuncs{
		Open: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}, Timeouts{Open: 20 * time.Millisecond})

	start := time.Now()
	err := o.Open(context.Background())
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Faulted, o.State())
}

func TestObjectCloseTimeoutFaults(t *testing.T) {
	var aborted atomic.Int32
	o := NewObject("obj", HandlerFuncs{
		Close: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Abort: func() { aborted.Add(1) },
	}, Timeouts{})
	require.NoError(t, o.Open(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := o.Close(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, Faulted, o.State())
	assert.EqualValues(t, 1, aborted.Load())
}

func TestObjectCloseBeforeOpenAborts(t *testing.T) {
	var aborted atomic.Int32
	o := NewObject("obj", HandlerFuncs{Abort: func() { aborted.Add(1) }}, Timeouts{})
	require.NoError(t, o.Close(context.Background()))
	assert.Equal(t, Closed, o.State())
	assert.EqualValues(t, 1, aborted.Load())
	assert.ErrorIs(t, o.Open(context.Background()), ErrDisposed)
}

func TestObjectAbortIdempotent(t *testing.T) {
	var aborted atomic.Int32
	o := NewObject("obj", HandlerFuncs{Abort: func() { aborted.Add(1) }}, Timeouts{})
	require.NoError(t, o.Open(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Abort()
		}()
	}
	wg.Wait()
	o.Abort()

	assert.Equal(t, Closed, o.State())
	assert.EqualValues(t, 1, aborted.Load())
}

func TestObjectAbortDuringOpen(t *testing.T) {
	release := make(chan struct{})
	o := NewObject("obj", HandlerFuncs{
		Open: func(ctx context.Context) error {
			<-release
			return nil
		},
	}, Timeouts{})

	f := o.OpenAsync(context.Background())
	require.Eventually(t, func() bool { return o.State() == Opening }, time.Second, time.Millisecond)
	o.Abort()
	close(release)

	_, err := f.Wait()
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Equal(t, Closed, o.State())
}

func TestObjectTerminalStatesStick(t *testing.T) {
	o := NewObject("obj", HandlerFuncs{}, Timeouts{})
	require.NoError(t, o.Open(context.Background()))
	o.Fault(errors.New("first"))
	o.Fault(errors.New("second"))
	assert.Equal(t, Faulted, o.State())
	assert.EqualError(t, o.FaultCause(), "first")

	assert.ErrorIs(t, o.Open(context.Background()), ErrFaulted)
	assert.ErrorIs(t, o.CheckOpened(), ErrFaulted)

	o.Abort()
	assert.Equal(t, Closed, o.State())
	o.Fault(errors.New("third"))
	assert.Equal(t, Closed, o.State())
	require.NoError(t, o.Close(context.Background()))
}

func TestObjectFaultNotification(t *testing.T) {
	o := NewObject("obj", HandlerFuncs{}, Timeouts{})
	got := make(chan Notification, 1)
	require.NoError(t, o.Subscribe(EventFaulted, func(n Notification) { got <- n }))
	require.NoError(t, o.Open(context.Background()))

	boom := errors.New("boom")
	o.Fault(boom)
	n := <-got
	assert.Equal(t, "obj", n.Source)
	assert.Equal(t, Faulted, n.State)
	assert.ErrorIs(t, n.Err, boom)
}

func TestObjectSuppressClosingEvent(t *testing.T) {
	o := NewObject("obj", HandlerFuncs{}, Timeouts{})
	rec := &recorder{}
	rec.attach(t, o)
	o.SuppressClosingEvent()
	require.NoError(t, o.Open(context.Background()))
	require.NoError(t, o.Close(context.Background()))
	assert.Equal(t, []Event{EventOpening, EventOpened, EventClosed}, rec.seen())
}

func TestObjectAbortPanicRecovered(t *testing.T) {
	o := NewObject("obj", HandlerFuncs{Abort: func() { panic("bad") }}, Timeouts{})
	assert.NotPanics(t, o.Abort)
	assert.Equal(t, Closed, o.State())
}

func TestObjectCloseAsync(t *testing.T) {
	o := NewObject("obj", HandlerFuncs{}, Timeouts{})
	_, err := o.OpenAsync(context.Background()).Wait()
	require.NoError(t, err)
	f := o.CloseAsync(context.Background())
	_, err = f.Await(context.Background())
	require.NoError(t, err)
	assert.True(t, f.Ready())
	assert.Equal(t, Closed, o.State())
}
