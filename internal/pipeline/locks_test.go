package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionLocks_ReleaseDropsEntry(t *testing.T) {
	t.Parallel()
	l := newSessionLocks()
	ctx := context.Background()

	unlock, err := l.lock(ctx, "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if l.len() != 1 {
		t.Errorf("len = %d, want 1", l.len())
	}
	unlock()
	unlock()
	if l.len() != 0 {
		t.Errorf("len after unlock = %d, want 0", l.len())
	}
}

func TestSessionLocks_WaitHonorsContext(t *testing.T) {
	t.Parallel()
	l := newSessionLocks()

	unlock, err := l.lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lock err = %v, want deadline exceeded", err)
	}
	if l.len() != 1 {
		t.Errorf("waiter leaked an entry: len = %d", l.len())
	}

	other, err := l.lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("lock other session: %v", err)
	}
	other()
}

func TestSessionLocks_HandsOver(t *testing.T) {
	t.Parallel()
	l := newSessionLocks()
	unlock, _ := l.lock(context.Background(), "a")

	acquired := make(chan func())
	go func() {
		u, err := l.lock(context.Background(), "a")
		if err != nil {
			t.Errorf("lock: %v", err)
		}
		acquired <- u
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case u := <-acquired:
		u()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	if l.len() != 0 {
		t.Errorf("len = %d, want 0", l.len())
	}
}
