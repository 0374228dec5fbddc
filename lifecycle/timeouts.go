package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// Timeouts holds the default duration budgets of a component. They apply
// whenever the caller's context carries no deadline.
type Timeouts struct {
	Open    time.Duration `mapstructure:"open" toml:"open"`
	Close   time.Duration `mapstructure:"close" toml:"close"`
	Send    time.Duration `mapstructure:"send" toml:"send"`
	Receive time.Duration `mapstructure:"receive" toml:"receive"`
}

// DefaultTimeouts returns one minute for open/close/send and ten minutes for receive.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Open:    time.Minute,
		Close:   time.Minute,
		Send:    time.Minute,
		Receive: 10 * time.Minute,
	}
}

// Validate rejects negative budgets.
func (t Timeouts) Validate() error {
	for name, d := range map[string]time.Duration{
		"open": t.Open, "close": t.Close, "send": t.Send, "receive": t.Receive,
	} {
		if d < 0 {
			return fmt.Errorf("lifecycle: %s timeout must not be negative, got %s", name, d)
		}
	}
	return nil
}

// Merge fills zero fields of t from defaults.
func (t Timeouts) Merge(defaults Timeouts) Timeouts {
	if t.Open == 0 {
		t.Open = defaults.Open
	}
	if t.Close == 0 {
		t.Close = defaults.Close
	}
	if t.Send == 0 {
		t.Send = defaults.Send
	}
	if t.Receive == 0 {
		t.Receive = defaults.Receive
	}
	return t
}

// WithBudget applies d as the deadline of ctx unless ctx already has one.
// A non-positive d leaves ctx without a deadline.
func WithBudget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Within returns a background context bounded by d, for callers that think
// in durations rather than contexts.
func Within(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
