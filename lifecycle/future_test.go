package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureWait(t *testing.T) {
	f := Go(context.Background(), func(context.Context) (int, error) { return 42, nil })
	v, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.Ready())
}

func TestFutureError(t *testing.T) {
	boom := errors.New("boom")
	f := Go(context.Background(), func(context.Context) (string, error) { return "", boom })
	_, err := f.Wait()
	assert.ErrorIs(t, err, boom)
}

func TestFutureAwaitTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := Go(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.False(t, f.Ready())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWithBudget(t *testing.T) {
	ctx, cancel := WithBudget(context.Background(), time.Minute)
	defer cancel()
	dl, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), dl, time.Second)

	parent, pcancel := context.WithTimeout(context.Background(), time.Hour)
	defer pcancel()
	ctx2, cancel2 := WithBudget(parent, time.Second)
	defer cancel2()
	dl2, _ := ctx2.Deadline()
	pdl, _ := parent.Deadline()
	assert.Equal(t, pdl, dl2)

	ctx3, cancel3 := WithBudget(context.Background(), 0)
	defer cancel3()
	_, ok = ctx3.Deadline()
	assert.False(t, ok)
}

func TestTimeoutsMergeValidate(t *testing.T) {
	tm := Timeouts{Send: time.Second}.Merge(DefaultTimeouts())
	assert.Equal(t, time.Second, tm.Send)
	assert.Equal(t, time.Minute, tm.Open)
	assert.Equal(t, 10*time.Minute, tm.Receive)
	require.NoError(t, tm.Validate())
	assert.Error(t, Timeouts{Close: -1}.Validate())
}

func TestTimeoutErrors(t *testing.T) {
	err := Timeout("send", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsTimeout(errors.New("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, FromContext("op", ctx), context.Canceled)
	assert.False(t, IsTimeout(FromContext("op", ctx)))
}
