package inproc_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/queue/inproc"
)

func TestScheduleAtRunsHandler(t *testing.T) {
	s := inproc.New(2, nil)
	defer s.Close()

	done := make(chan id.ID, 1)
	s.Bind(func(_ context.Context, delID id.ID) error {
		done <- delID
		return nil
	})

	delID := id.NewDeliveryID()
	if err := s.ScheduleAt(context.Background(), time.Now(), delID); err != nil {
		t.Fatalf("ScheduleAt() error: %v", err)
	}

	select {
	case got := <-done:
		if got.String() != delID.String() {
			t.Errorf("handler got %s, want %s", got, delID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestScheduleAtWaitsForDueTime(t *testing.T) {
	s := inproc.New(1, nil)
	defer s.Close()

	ran := make(chan time.Time, 1)
	s.Bind(func(context.Context, id.ID) error {
		ran <- time.Now()
		return nil
	})

	delay := 100 * time.Millisecond
	scheduled := time.Now()
	if err := s.ScheduleAt(context.Background(), scheduled.Add(delay), id.NewDeliveryID()); err != nil {
		t.Fatal(err)
	}

	select {
	case at := <-ran:
		if at.Sub(scheduled) < delay-10*time.Millisecond {
			t.Errorf("handler ran after %v, want at least %v", at.Sub(scheduled), delay)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestScheduleAtRequiresHandler(t *testing.T) {
	s := inproc.New(1, nil)
	defer s.Close()

	if err := s.ScheduleAt(context.Background(), time.Now(), id.NewDeliveryID()); err == nil {
		t.Fatal("ScheduleAt() without a bound handler should fail")
	}
}

func TestConcurrencyBound(t *testing.T) {
	s := inproc.New(2, nil)
	defer s.Close()

	var running, peak int32
	var mu sync.Mutex

	s.Bind(func(context.Context, id.ID) error {
		n := atomic.AddInt32(&running, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	for i := 0; i < 10; i++ {
		if err := s.ScheduleAt(context.Background(), time.Now(), id.NewDeliveryID()); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
}

func TestCloseCancelsPendingTimers(t *testing.T) {
	s := inproc.New(1, nil)

	var ran atomic.Bool
	s.Bind(func(context.Context, id.ID) error {
		ran.Store(true)
		return nil
	})

	if err := s.ScheduleAt(context.Background(), time.Now().Add(time.Hour), id.NewDeliveryID()); err != nil {
		t.Fatal(err)
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return; pending timer not cancelled")
	}
	if ran.Load() {
		t.Error("handler ran for a cancelled future task")
	}
}
