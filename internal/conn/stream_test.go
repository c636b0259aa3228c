package conn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStream_SubscribersSeeEveryValueInOrder(t *testing.T) {
	s := NewStream[int](nil)
	a, cancelA := s.Subscribe(8)
	b, _ := s.Subscribe(8)

	for i := 1; i <= 3; i++ {
		s.Publish(i)
	}
	cancelA()
	s.Publish(4)

	var got []int
	for v := range a {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("unsubscribed reader got %v, want [1 2 3]", got)
	}

	for want := 1; want <= 4; want++ {
		if v := <-b; v != want {
			t.Fatalf("got %d, want %d", v, want)
		}
	}
}

func TestStream_WaiterIsSingleUse(t *testing.T) {
	s := NewStream[int](nil)
	w, err := s.Expect(func(v int) bool { return v%2 == 0 })
	if err != nil {
		t.Fatal(err)
	}

	s.Publish(1)
	s.Publish(2)
	s.Publish(4)

	v, err := w.Wait(context.Background())
	if err != nil || v != 2 {
		t.Fatalf("Wait() = %d, %v; want 2", v, err)
	}

	s.mu.Lock()
	n := len(s.waiters)
	s.mu.Unlock()
	if n != 0 {
		t.Errorf("%d waiters still registered", n)
	}
}

func TestStream_WaiterTimeout(t *testing.T) {
	s := NewStream[int](nil)
	w, _ := s.Expect(func(int) bool { return true })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want deadline exceeded", err)
	}

	// The stream carries on for everyone else.
	w2, _ := s.Expect(func(int) bool { return true })
	s.Publish(7)
	if v, err := w2.Wait(context.Background()); err != nil || v != 7 {
		t.Errorf("second waiter got %d, %v", v, err)
	}
}

func TestStream_CloseFailsWaitersAndEndsSubscribers(t *testing.T) {
	s := NewStream[int](nil)
	sub, _ := s.Subscribe(1)
	w, _ := s.Expect(func(int) bool { return true })

	boom := errors.New("boom")
	s.Close(boom)
	s.Close(errors.New("second close is ignored"))

	if _, err := w.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Wait() error = %v, want boom", err)
	}
	if _, ok := <-sub; ok {
		t.Error("subscriber channel still open")
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want boom", s.Err())
	}
	if _, err := s.Expect(func(int) bool { return true }); !errors.Is(err, boom) {
		t.Errorf("Expect() on closed stream error = %v", err)
	}
	late, _ := s.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed stream should yield a closed channel")
	}
	s.Publish(1) // no panic on closed stream
}

func TestStream_SlowSubscriberDrops(t *testing.T) {
	dropped := 0
	s := NewStream[int](func() { dropped++ })
	sub, _ := s.Subscribe(1)

	s.Publish(1)
	s.Publish(2)

	if v := <-sub; v != 1 {
		t.Errorf("got %d, want 1", v)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}
