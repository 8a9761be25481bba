package alert

import (
	"context"
	"errors"
	"sync"
)

// lane is one playback channel. Starting a playback cancels the one in
// progress and waits for it to stop, so a lane never overlaps and never
// queues: the newest clip wins.
type lane struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// take claims the lane for a new playback and cancels the current one. It
// must be called in event order; the returned run may be called from any
// goroutine and starts play once the previous playback has returned.
func (l *lane) take(parent context.Context) (ctx context.Context, run func(func(context.Context) error) error) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	prev := l.done
	l.cancel, l.done = cancel, done
	l.mu.Unlock()

	run = func(play func(context.Context) error) error {
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return nil
		}
		err := play(ctx)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return ctx, run
}

// stop cancels whatever the lane is playing.
func (l *lane) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}
