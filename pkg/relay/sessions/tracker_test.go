package sessions

import (
	"context"
	"testing"
	"time"
)

func TestTracker_RegisterAndUnregister(t *testing.T) {
	tr := NewTracker()

	unregister := tr.Register("tok_1", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", tr.Count())
	}

	unregister()
	if tr.Count() != 0 {
		t.Fatalf("Count() = %d after unregister, want 0", tr.Count())
	}

	// Second call is a no-op.
	unregister()
	if tr.Count() != 0 {
		t.Fatalf("Count() = %d after double unregister, want 0", tr.Count())
	}
}

func TestTracker_ReregisterEvictsPrevious(t *testing.T) {
	tr := NewTracker()

	firstTerminated := false
	tr.Register("tok_1", Handle{Terminate: func() { firstTerminated = true }})
	second := tr.Register("tok_1", Handle{})

	if tr.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 live relay per token", tr.Count())
	}
	if firstTerminated {
		t.Fatalf("eviction unregisters; it must not terminate the old relay itself")
	}

	second()
	if tr.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", tr.Count())
	}
}

func TestTracker_NotifyAllAndTerminateAll(t *testing.T) {
	tr := NewTracker()

	var notified []string
	terminated := 0
	tr.Register("tok_1", Handle{
		Notify:    func(reason string) { notified = append(notified, reason) },
		Terminate: func() { terminated++ },
	})
	tr.Register("tok_2", Handle{
		Notify:    func(reason string) { notified = append(notified, reason) },
		Terminate: func() { terminated++ },
	})

	if sent := tr.NotifyAll("server_shutdown"); sent != 2 {
		t.Fatalf("NotifyAll() = %d, want 2", sent)
	}
	for _, reason := range notified {
		if reason != "server_shutdown" {
			t.Fatalf("notified reason = %q", reason)
		}
	}

	if n := tr.TerminateAll(); n != 2 {
		t.Fatalf("TerminateAll() = %d, want 2", n)
	}
	if terminated != 2 {
		t.Fatalf("terminate callbacks = %d, want 2", terminated)
	}
}

func TestTracker_WaitReturnsWhenDrained(t *testing.T) {
	tr := NewTracker()
	unregister := tr.Register("tok_1", Handle{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		unregister()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("Wait() should return true once all relays unregister")
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := NewTracker()
	defer tr.Register("tok_1", Handle{})()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("Wait() should report false when relays are still live")
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	tr.Register("tok", Handle{})()
	if tr.Count() != 0 {
		t.Fatalf("nil tracker Count() = %d", tr.Count())
	}
	if tr.NotifyAll("x") != 0 || tr.TerminateAll() != 0 {
		t.Fatalf("nil tracker should fan out to nothing")
	}
	if !tr.Wait(context.Background()) {
		t.Fatalf("nil tracker Wait() should return true")
	}
}
