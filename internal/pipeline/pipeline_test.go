package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/fraudgate/internal/decision"
	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/scoring"
)

// fixedScorer returns a constant score, or an error if set.
type fixedScorer struct {
	score float64
	err   error
}

func (f *fixedScorer) Name() string { return "fixed" }
func (f *fixedScorer) Score(ctx context.Context, vec *features.Vector) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.score, nil
}

// captureFeed records broadcast decisions.
type captureFeed struct {
	mu        sync.Mutex
	decisions []*decision.Decision
}

func (c *captureFeed) BroadcastDecision(d *decision.Decision) {
	c.mu.Lock()
	c.decisions = append(c.decisions, d)
	c.mu.Unlock()
}

func (c *captureFeed) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.decisions)
}

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func testTx(id string) *features.Transaction {
	return &features.Transaction{
		TransactionID:     id,
		SenderID:          "user_123@okbank",
		ReceiverID:        "merchant_456@okbank",
		Amount:            2500,
		TransactionTime:   14,
		FrequencyLast24h:  3,
		AvgAmountLastWeek: 2000,
		DeviceID:          "device_123",
		IPAddress:         "192.168.1.100",
		ReceiverAgeDays:   intPtr(365),
		TimeToPaySeconds:  floatPtr(12.5),
		OTPDelaySeconds:   floatPtr(8.0),
	}
}

func TestEvaluateEndToEnd(t *testing.T) {
	store := decision.NewMemoryStore()
	feed := &captureFeed{}
	p, err := New(&fixedScorer{score: 0.2}, decision.DefaultThresholds(),
		WithStore(store), WithFeed(feed))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	d, err := p.Evaluate(context.Background(), testTx("TXN001"), time.Time{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != decision.ActionAllow {
		t.Fatalf("action = %v, want ALLOW", d.Action)
	}
	if d.TransactionID != "TXN001" {
		t.Errorf("transaction_id = %s", d.TransactionID)
	}

	if feed.count() != 1 {
		t.Errorf("feed received %d decisions, want 1", feed.count())
	}

	// The audit write is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := store.ListBySender(context.Background(), "user_123@okbank", 10)
		if len(got) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("decision never reached the store")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEvaluateScorerFailure(t *testing.T) {
	p, err := New(&fixedScorer{err: scoring.ErrUnavailable}, decision.DefaultThresholds())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	_, err = p.Evaluate(context.Background(), testTx("TXN001"), time.Time{})
	if !errors.Is(err, scoring.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEvaluateInvalidInput(t *testing.T) {
	p, _ := New(&fixedScorer{score: 0.2}, decision.DefaultThresholds())

	tx := testTx("TXN001")
	tx.SenderID = ""
	_, err := p.Evaluate(context.Background(), tx, time.Time{})
	if !errors.Is(err, features.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNewRejectsInvalidThresholds(t *testing.T) {
	_, err := New(&fixedScorer{}, decision.Thresholds{AllowMax: 0.9, BlockMin: 0.1})
	if !errors.Is(err, decision.ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
}

func TestUpdateThresholdsSwap(t *testing.T) {
	p, _ := New(&fixedScorer{score: 0.5}, decision.DefaultThresholds())

	d, err := p.Evaluate(context.Background(), testTx("TXN001"), time.Time{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != decision.ActionVerify {
		t.Fatalf("action = %v, want VERIFY at defaults", d.Action)
	}

	// Widen the allow band past 0.5.
	if err := p.UpdateThresholds(decision.Thresholds{AllowMax: 0.6, BlockMin: 0.8}); err != nil {
		t.Fatalf("update thresholds: %v", err)
	}

	d, err = p.Evaluate(context.Background(), testTx("TXN002"), time.Time{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Action != decision.ActionAllow {
		t.Fatalf("action = %v, want ALLOW after widening", d.Action)
	}

	if err := p.UpdateThresholds(decision.Thresholds{AllowMax: 0.9, BlockMin: 0.1}); !errors.Is(err, decision.ErrInvalidThreshold) {
		t.Fatalf("invalid update should be rejected, got %v", err)
	}
	// The rejected update must not have touched the active pair.
	if th := p.Thresholds(); th.AllowMax != 0.6 || th.BlockMin != 0.8 {
		t.Fatalf("thresholds changed after rejected update: %+v", th)
	}
}

func TestEvaluateBatchIsolation(t *testing.T) {
	p, _ := New(&fixedScorer{score: 0.2}, decision.DefaultThresholds())

	bad := testTx("TXN_BAD")
	bad.TransactionTime = 99

	results := p.EvaluateBatch(context.Background(),
		[]*features.Transaction{testTx("TXN_OK"), bad, testTx("TXN_OK2")}, time.Time{})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Error != "" || results[0].Decision == nil {
		t.Errorf("first entry should succeed: %+v", results[0])
	}
	if results[1].Error == "" || results[1].Decision != nil {
		t.Errorf("malformed entry should fail alone: %+v", results[1])
	}
	if results[2].Error != "" || results[2].Decision == nil {
		t.Errorf("entry after a failure should still succeed: %+v", results[2])
	}
}

func TestEvaluateBatchAssignsIDs(t *testing.T) {
	p, _ := New(&fixedScorer{score: 0.2}, decision.DefaultThresholds())

	anon := testTx("")
	results := p.EvaluateBatch(context.Background(), []*features.Transaction{anon}, time.Time{})

	if results[0].TransactionID != "BATCH_0001" {
		t.Fatalf("assigned ID = %q, want BATCH_0001", results[0].TransactionID)
	}
	if results[0].Decision.TransactionID != "BATCH_0001" {
		t.Errorf("decision ID = %q, want BATCH_0001", results[0].Decision.TransactionID)
	}
	// The fallback ID goes onto a copy, never the caller's transaction.
	if anon.TransactionID != "" {
		t.Errorf("input transaction was mutated, ID = %q", anon.TransactionID)
	}
}

func TestInfo(t *testing.T) {
	p, _ := New(&fixedScorer{score: 0.2}, decision.DefaultThresholds())

	info := p.Info()
	if info["scorer"] != "fixed" {
		t.Errorf("scorer = %v", info["scorer"])
	}
	if info["features"] != len(features.Names()) {
		t.Errorf("features = %v, want %d", info["features"], len(features.Names()))
	}
	th, ok := info["thresholds"].(map[string]float64)
	if !ok || th["allow_max"] != decision.DefaultAllowMax {
		t.Errorf("thresholds = %v", info["thresholds"])
	}
}

func TestSampleTransactionIsValid(t *testing.T) {
	tx := SampleTransaction()
	if _, err := features.Derive(tx, time.Now()); err != nil {
		t.Fatalf("sample transaction should derive cleanly: %v", err)
	}
	if !strings.HasPrefix(tx.TransactionID, "txn_") {
		t.Errorf("sample transaction ID = %q", tx.TransactionID)
	}
}
