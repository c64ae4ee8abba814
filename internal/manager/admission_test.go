package manager

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquire_SerializesAndReleasesIdempotently(t *testing.T) {
	m, pub := newTestManager(t, newFakeRuntime(), func(c *ManagerConfig) {
		c.MaxQueueDepth = 2
		c.MaxWait = time.Second
	})
	rel, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	got := make(chan struct{})
	go func() {
		rel2, err := m.Acquire(context.Background())
		if err != nil {
			t.Errorf("second acquire: %v", err)
			close(got)
			return
		}
		close(got)
		rel2()
	}()
	select {
	case <-got:
		t.Fatalf("second acquire should block while the lock is held")
	case <-time.After(20 * time.Millisecond):
	}
	rel()
	rel()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("second acquire did not proceed after release")
	}
	if pub.Count("lock_released") < 1 {
		t.Fatalf("lock_released event missing")
	}
	st := m.Status()
	if st.Inflight != 0 && st.Inflight != 1 {
		t.Fatalf("inflight=%d", st.Inflight)
	}
}

func TestAcquire_QueueTimeout(t *testing.T) {
	m, _ := newTestManager(t, newFakeRuntime(), func(c *ManagerConfig) {
		c.MaxQueueDepth = 1
		c.MaxWait = 20 * time.Millisecond
	})
	rel, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer rel()
	// depth=1: the holder occupies the only queue slot.
	if _, err := m.Acquire(context.Background()); !IsTooBusy(err) {
		t.Fatalf("expected too busy, got %v", err)
	}
}

func TestAcquire_GenTimeout(t *testing.T) {
	m, _ := newTestManager(t, newFakeRuntime(), func(c *ManagerConfig) {
		c.MaxQueueDepth = 3
		c.MaxWait = 20 * time.Millisecond
	})
	rel, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rel()
	if _, err := m.Acquire(context.Background()); !IsTooBusy(err) {
		t.Fatalf("expected too busy on slot wait, got %v", err)
	}
	if st := m.Status(); st.QueueLen != 1 {
		t.Fatalf("queue slot leaked: %+v", st)
	}
}

func TestAcquire_ContextCancel(t *testing.T) {
	m, _ := newTestManager(t, newFakeRuntime(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}

	rel, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	if _, err := m.Acquire(ctx2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
