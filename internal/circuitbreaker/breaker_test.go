package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func TestAllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("model") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestTripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("model")
	b.RecordFailure("model")
	if !b.Allow("model") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("model")
	if b.Allow("model") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("model") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("model"))
	}
}

func TestOpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("model")
	b.RecordFailure("model")
	if b.Allow("model") {
		t.Fatal("should be open")
	}

	time.Sleep(60 * time.Millisecond)

	// One probe is allowed once the open window has elapsed.
	if !b.Allow("model") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("model") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("model"))
	}

	if b.Allow("model") {
		t.Fatal("should reject second request while probe is in flight")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("model")
	b.RecordFailure("model")
	time.Sleep(60 * time.Millisecond)
	b.Allow("model") // transitions to half-open

	b.RecordSuccess("model")
	if b.State("model") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("model"))
	}
	if !b.Allow("model") {
		t.Fatal("should allow after recovery")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("model")
	b.RecordFailure("model")
	time.Sleep(60 * time.Millisecond)
	b.Allow("model") // transitions to half-open

	b.RecordFailure("model")
	if b.State("model") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("model"))
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("model")
	b.RecordFailure("model")
	b.RecordSuccess("model")

	// Counter was reset, one more failure must not trip the circuit.
	b.RecordFailure("model")
	if !b.Allow("model") {
		t.Fatal("should still be closed after reset")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("model")
	b.RecordFailure("model")

	if b.Allow("model") {
		t.Fatal("model circuit should be open")
	}
	if !b.Allow("fallback") {
		t.Fatal("fallback circuit should be closed")
	}
}

func TestUnknownKeyIsClosed(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	if b.State("never-seen") != StateClosed {
		t.Fatalf("expected StateClosed for unknown key, got %v", b.State("never-seen"))
	}
}

func TestTransitionCallback(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	b.OnTransition(func(key string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	b.RecordFailure("model")
	b.RecordFailure("model")

	// Callback runs on its own goroutine.
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Fatalf("expected closed to open, got %v to %v", transitions[0].from, transitions[0].to)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
