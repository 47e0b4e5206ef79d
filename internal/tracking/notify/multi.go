package notify

import (
	"context"
	"errors"
	"fmt"
)

// MultiPusher fans a push out to every pusher.
type MultiPusher struct {
	pushers []Pusher
}

// NewMultiPusher constructs a MultiPusher, skipping nil pushers.
func NewMultiPusher(pushers ...Pusher) *MultiPusher {
	out := make([]Pusher, 0, len(pushers))
	for _, p := range pushers {
		if p != nil {
			out = append(out, p)
		}
	}
	return &MultiPusher{pushers: out}
}

// Len returns the number of pushers.
func (m *MultiPusher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.pushers)
}

// Push forwards to all pushers; one failure does not stop the others.
func (m *MultiPusher) Push(ctx context.Context, push Push) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, p := range m.pushers {
		if err := safePush(ctx, p, push); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safePush(ctx context.Context, p Pusher, push Push) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: pusher panic: %v", r)
		}
	}()
	return p.Push(ctx, push)
}
