package conn

import (
	"context"
	"sync"

	"github.com/muurk/tuyalocal/internal/protocol"
)

// Stream is a broadcast channel with a single producer. Subscribers receive
// every published value in order; waiters receive the first value matching
// their filter and are then removed. Closing the stream closes every
// subscriber channel and fails every waiter with the close error.
type Stream[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan T
	waiters map[uint64]*Waiter[T]
	closed  bool
	err     error
	onDrop  func()
}

// NewStream creates an open stream. onDrop, if set, is called whenever a
// subscriber's buffer is full and a value is dropped for it.
func NewStream[T any](onDrop func()) *Stream[T] {
	return &Stream[T]{
		subs:    make(map[uint64]chan T),
		waiters: make(map[uint64]*Waiter[T]),
		onDrop:  onDrop,
	}
}

// Subscribe returns a channel receiving every value published from now on,
// and a function that unsubscribes. Subscribing to a closed stream returns a
// closed channel.
func (s *Stream[T]) Subscribe(buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Expect registers a single-use waiter for the first value satisfying filter.
func (s *Stream[T]) Expect(filter func(T) bool) (*Waiter[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, s.err
	}

	w := &Waiter[T]{
		stream: s,
		id:     s.nextID,
		filter: filter,
		ch:     make(chan T, 1),
		done:   make(chan struct{}),
	}
	s.nextID++
	s.waiters[w.id] = w
	return w, nil
}

// Publish delivers v to every waiter whose filter matches and to every
// subscriber. It never blocks.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for id, w := range s.waiters {
		if w.filter(v) {
			w.ch <- v
			delete(s.waiters, id)
		}
	}

	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			if s.onDrop != nil {
				s.onDrop()
			}
		}
	}
}

// Close terminates the stream with err. A nil err is reported as
// protocol.ErrClosed. Closing twice keeps the first error.
func (s *Stream[T]) Close(err error) {
	if err == nil {
		err = protocol.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.err = err

	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	for id, w := range s.waiters {
		w.err = err
		close(w.done)
		delete(s.waiters, id)
	}
}

// Err returns the error the stream was closed with, or nil while it is open.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Closed reports whether Close has been called.
func (s *Stream[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Waiter is a pending single-use match registered with Stream.Expect.
type Waiter[T any] struct {
	stream *Stream[T]
	id     uint64
	filter func(T) bool
	ch     chan T
	done   chan struct{}
	err    error
}

// Wait blocks until a matching value arrives, the stream closes or ctx ends.
// Returning because of ctx cancels the waiter.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	var zero T

	select {
	case v := <-w.ch:
		return v, nil
	case <-w.done:
		return zero, w.err
	case <-ctx.Done():
		w.Cancel()
		// A value may have been delivered while cancelling.
		select {
		case v := <-w.ch:
			return v, nil
		default:
		}
		return zero, ctx.Err()
	}
}

// Cancel removes the waiter from its stream. It is safe to call more than once.
func (w *Waiter[T]) Cancel() {
	if w == nil {
		return
	}
	s := w.stream
	s.mu.Lock()
	delete(s.waiters, w.id)
	s.mu.Unlock()
}
