package llm

import (
	"context"
	"io"
	"sync"
)

const eventBufferSize = 64

// eventStream adapts a producer goroutine to the Stream interface.
type eventStream struct {
	events <-chan Event
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// newEventStream runs produce in a goroutine. A producer error is delivered
// as an EventError; the channel closes once the producer returns.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, eventBufferSize)
	go func() {
		defer close(ch)
		if err := produce(ctx, ch); err != nil {
			select {
			case ch <- Event{Type: EventError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return &eventStream{events: ch, cancel: cancel}
}

func (s *eventStream) Recv() (Event, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Event{}, ErrStreamClosed
	}
	ev, ok := <-s.events
	if !ok {
		return Event{}, io.EOF
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	// Drain so the producer can exit.
	go func() {
		for range s.events {
		}
	}()
	return nil
}

// send delivers ev unless ctx is done.
func send(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
