// Package stream provides the per-task ordered event log. One producer
// appends progress events; any number of consumers replay the log from the
// start and then follow it live until the terminal event closes it.
package stream

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kumocrawler/kumocrawler/internal/event"
)

// ErrClosed is returned by Append once the terminal event has been written.
var ErrClosed = errors.New("event log closed")

// Log is an append-only, totally ordered event log for a single task. Append
// never blocks on consumers; slow subscribers catch up from the log itself.
type Log struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []event.Event
	closed bool
	logger *zap.Logger
}

// NewLog creates an empty open log.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{logger: logger}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Append adds an event to the log and wakes waiting subscribers. Appending a
// terminal event closes the log; later appends fail with ErrClosed. Invalid
// events are discarded without disturbing the order.
func (l *Log) Append(evt event.Event) error {
	if err := evt.Validate(); err != nil {
		l.logger.Debug("discarding invalid event", zap.Error(err))
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.events = append(l.events, evt)
	if evt.Terminal() {
		l.closed = true
	}
	l.cond.Broadcast()
	return nil
}

// Closed reports whether the terminal event has been appended.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// History returns a copy of every event appended so far.
func (l *Log) History() []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event.Event(nil), l.events...)
}

// Subscribe returns a channel that yields the full history in append order
// and then live events as they arrive. The channel is closed after the
// terminal event has been delivered, or when ctx is done. Each subscriber
// gets its own cursor; subscribers never affect the producer or each other.
func (l *Log) Subscribe(ctx context.Context) <-chan event.Event {
	out := make(chan event.Event)
	go l.feed(ctx, out)
	return out
}

func (l *Log) feed(ctx context.Context, out chan<- event.Event) {
	defer close(out)

	// Wake the cond wait when the subscriber goes away.
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	cursor := 0
	for {
		l.mu.Lock()
		for cursor >= len(l.events) && !l.closed && ctx.Err() == nil {
			l.cond.Wait()
		}
		pending := append([]event.Event(nil), l.events[cursor:]...)
		cursor = len(l.events)
		done := l.closed
		l.mu.Unlock()

		for _, evt := range pending {
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
		// Once closed the log cannot grow, and the cursor was advanced to
		// its end under the same lock that observed the close.
		if done || ctx.Err() != nil {
			return
		}
	}
}
