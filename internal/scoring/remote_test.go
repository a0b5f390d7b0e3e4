package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/fraudgate/internal/features"
)

func TestRemoteScoreSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req struct {
			Features *features.Vector `json:"features"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Features == nil || req.Features.Amount != 2500 {
			t.Errorf("unexpected features payload: %+v", req.Features)
		}
		fmt.Fprint(w, `{"fraud_score": 0.42}`)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	score, err := r.Score(context.Background(), &features.Vector{Amount: 2500})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 0.42 {
		t.Fatalf("score = %v, want 0.42", score)
	}
}

func TestRemoteServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	_, err := r.Score(context.Background(), &features.Vector{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRemoteRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"fraud_score": 0.1}`)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	score, err := r.Score(context.Background(), &features.Vector{})
	if err != nil {
		t.Fatalf("score after retry: %v", err)
	}
	if score != 0.1 {
		t.Fatalf("score = %v, want 0.1", score)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestRemoteDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	_, err := r.Score(context.Background(), &features.Vector{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx should not be retried, got %d calls", calls.Load())
	}
}

func TestRemoteRejectsOutOfRangeScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"fraud_score": 1.7}`)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	_, err := r.Score(context.Background(), &features.Vector{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for out-of-range score, got %v", err)
	}
}

func TestRemoteCircuitOpensAfterSustainedFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	ctx := context.Background()

	// Trip the breaker.
	for i := 0; i < breakerThreshold; i++ {
		if _, err := r.Score(ctx, &features.Vector{}); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected ErrUnavailable, got %v", i, err)
		}
	}

	before := calls.Load()
	_, err := r.Score(ctx, &features.Vector{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while open, got %v", err)
	}
	if calls.Load() != before {
		t.Fatal("open circuit should fail fast without hitting the endpoint")
	}
}

func TestRemoteUnreachableEndpoint(t *testing.T) {
	r := NewRemote("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := r.Score(context.Background(), &features.Vector{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
