package cell

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMemoryConn_ThrottleScenario(t *testing.T) {
	t.Parallel()

	// Pin the clock so all eleven calls land in the same instant.
	conn := NewMemoryConn()
	now := time.Now()
	conn.now = func() time.Time { return now }

	ctx := context.Background()
	p := Policy{Burst: 1, Tokens: 10, Period: 60 * time.Second, Apply: 1}

	// First ten calls: allowed, remaining counting down from 9 to 0.
	for i := 0; i < 10; i++ {
		v, err := Throttle(ctx, conn, "user123", p)
		if err != nil {
			t.Fatalf("call %d: Throttle() error: %v", i+1, err)
		}
		if v.Blocked {
			t.Fatalf("call %d: blocked, want allowed", i+1)
		}
		want := int64(9 - i)
		if got := v.AllowedDetails().Remaining; got != want {
			t.Errorf("call %d: Remaining = %d, want %d", i+1, got, want)
		}
	}

	// Eleventh call: blocked with a non-negative retry hint.
	v, err := Throttle(ctx, conn, "user123", p)
	if err != nil {
		t.Fatalf("call 11: Throttle() error: %v", err)
	}
	if !v.Blocked {
		t.Fatal("call 11: allowed, want blocked")
	}
	if got := v.BlockedDetails().RetryAfter; got < 0 {
		t.Errorf("call 11: RetryAfter = %s, want >= 0", got)
	}
}

func TestMemoryConn_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	conn := NewMemoryConn()
	ctx := context.Background()
	p := PerMinute(1)

	for _, key := range []string{"a", "b", "c"} {
		v, err := Throttle(ctx, conn, key, p)
		if err != nil {
			t.Fatalf("Throttle(%q) error: %v", key, err)
		}
		if v.Blocked {
			t.Errorf("first request for %q should be allowed", key)
		}
	}
	if conn.Size() != 3 {
		t.Errorf("Size() = %d, want 3", conn.Size())
	}
}

func TestMemoryConn_TokensRegenerate(t *testing.T) {
	t.Parallel()

	conn := NewMemoryConn()
	now := time.Now()
	conn.now = func() time.Time { return now }

	ctx := context.Background()
	p := PerMinute(10)

	// Exhaust the window.
	for i := 0; i < 10; i++ {
		if v, _ := Throttle(ctx, conn, "k", p); v.Blocked {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if v, _ := Throttle(ctx, conn, "k", p); !v.Blocked {
		t.Fatal("call 11 should be blocked")
	}

	// One emission interval later there is room for exactly one more.
	now = now.Add(6 * time.Second)
	if v, _ := Throttle(ctx, conn, "k", p); v.Blocked {
		t.Error("call after one emission interval should be allowed")
	}
	if v, _ := Throttle(ctx, conn, "k", p); !v.Blocked {
		t.Error("second call after one emission interval should be blocked")
	}
}

func TestMemoryConn_RejectsForeignCommands(t *testing.T) {
	t.Parallel()

	conn := NewMemoryConn()

	cmd := conn.Do(context.Background(), "GET", "k")
	if cmd.Err() == nil {
		t.Error("non-throttle command should be answered with an error")
	}

	cmd = conn.Do(context.Background(), "CL.THROTTLE", "k", "not-a-number", 10, 60, 1)
	if cmd.Err() == nil {
		t.Error("malformed throttle command should be answered with an error")
	}
}

func TestMemoryConn_CleanupDropsIdleKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := NewMemoryConnWithConfig(10*time.Millisecond, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = Throttle(ctx, conn, "idle", PerMinute(10))
	if conn.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", conn.Size())
	}

	// Backdate the clock far enough that the key looks ancient.
	conn.mu.Lock()
	conn.cells["idle"] = time.Now().Add(-2 * time.Hour)
	conn.mu.Unlock()

	conn.StartCleanup(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for conn.Size() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.Size() != 0 {
		t.Error("idle key was not cleaned up")
	}

	conn.Stop()
}
