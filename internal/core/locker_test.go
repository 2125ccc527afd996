package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Other keys are independent.
	unlockB, err := m.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b: %v", err)
	}
	unlockB()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(waitCtx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the held key to block, got %v", err)
	}

	unlock()
	unlock() // second call is a no-op

	again, err := m.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()

	if len(m.slots) != 0 {
		t.Fatalf("expected idle slots to be released, got %d", len(m.slots))
	}
}
