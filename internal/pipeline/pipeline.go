// Package pipeline wires feature derivation, scoring, and the decision
// engine into a single evaluation path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/fraudgate/internal/decision"
	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/idgen"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/metrics"
	"github.com/mbd888/fraudgate/internal/realtime"
	"github.com/mbd888/fraudgate/internal/scoring"
	"github.com/mbd888/fraudgate/internal/traces"
)

// Feed receives every decision as it is made.
type Feed interface {
	BroadcastDecision(d *decision.Decision)
}

var _ Feed = (*realtime.Hub)(nil)

// Pipeline evaluates transactions end to end. Thresholds live behind an
// atomic pointer so a runtime update swaps the whole pair at once;
// in-flight evaluations see either the old pair or the new one, never a
// mix.
type Pipeline struct {
	scorer scoring.Scorer
	store  decision.Store
	feed   Feed
	logger *slog.Logger

	thresholds atomic.Pointer[decision.Thresholds]
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithStore sets the decision audit store.
func WithStore(s decision.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithFeed sets the realtime decision feed.
func WithFeed(f Feed) Option {
	return func(p *Pipeline) { p.feed = f }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline with the given scorer and thresholds.
func New(scorer scoring.Scorer, th decision.Thresholds, opts ...Option) (*Pipeline, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		scorer: scorer,
		logger: logging.NewNop(),
	}
	p.thresholds.Store(&th)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Thresholds returns the currently active threshold pair.
func (p *Pipeline) Thresholds() decision.Thresholds {
	return *p.thresholds.Load()
}

// UpdateThresholds validates and atomically swaps the threshold pair.
func (p *Pipeline) UpdateThresholds(th decision.Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	old := p.thresholds.Swap(&th)
	p.logger.Info("thresholds updated",
		"old_allow_max", old.AllowMax, "old_block_min", old.BlockMin,
		"allow_max", th.AllowMax, "block_min", th.BlockMin,
	)
	return nil
}

// Evaluate runs derive -> score -> decide for one transaction. ref is
// the transaction's reference time (zero if unknown). The returned
// decision is recorded to the audit store and published to the feed
// best-effort; those side channels never fail the evaluation.
func (p *Pipeline) Evaluate(ctx context.Context, tx *features.Transaction, ref time.Time) (*decision.Decision, error) {
	ctx, span := traces.StartSpan(ctx, "pipeline.evaluate", traces.TransactionID(tx.TransactionID))
	defer span.End()

	start := time.Now()

	vec, err := features.Derive(tx, ref)
	if err != nil {
		return nil, err
	}

	score, err := p.scorer.Score(ctx, vec)
	if err != nil {
		metrics.ScoringFailuresTotal.Inc()
		return nil, fmt.Errorf("score transaction %s: %w", tx.TransactionID, err)
	}

	th := p.thresholds.Load()
	d, err := decision.Evaluate(tx, vec, score, *th)
	if err != nil {
		return nil, err
	}

	metrics.FraudScore.Observe(d.FraudScore)
	metrics.DecisionsTotal.WithLabelValues(d.Action.String()).Inc()
	metrics.DecisionDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(traces.Action(d.Action.String()), traces.Score(d.FraudScore))

	logging.L(ctx).Info("decision made",
		"transaction_id", d.TransactionID,
		"action", d.Action.String(),
		"score", d.FraudScore,
		"risk_level", string(d.RiskLevel),
		"indicators", d.RiskIndicators,
	)

	if p.store != nil {
		go func(rec decision.Decision) {
			if err := p.store.Record(context.Background(), &rec); err != nil {
				p.logger.Error("failed to record decision", "id", rec.ID, "error", err)
			}
		}(*d)
	}
	if p.feed != nil {
		p.feed.BroadcastDecision(d)
	}

	return d, nil
}

// BatchResult is the outcome of one transaction in a batch: either a
// decision or an error, never both.
type BatchResult struct {
	TransactionID string             `json:"transaction_id"`
	Decision      *decision.Decision `json:"decision,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// EvaluateBatch evaluates transactions independently: one malformed
// entry yields an error result for that entry only. Transactions
// without an ID get a sequential batch ID.
func (p *Pipeline) EvaluateBatch(ctx context.Context, txs []*features.Transaction, ref time.Time) []BatchResult {
	metrics.BatchSize.Observe(float64(len(txs)))

	results := make([]BatchResult, len(txs))
	for i, tx := range txs {
		if tx.TransactionID == "" {
			// Work on a copy; the caller's transaction stays untouched.
			cp := *tx
			cp.TransactionID = fmt.Sprintf("BATCH_%04d", i+1)
			tx = &cp
		}
		d, err := p.Evaluate(ctx, tx, ref)
		if err != nil {
			results[i] = BatchResult{TransactionID: tx.TransactionID, Error: err.Error()}
			continue
		}
		results[i] = BatchResult{TransactionID: tx.TransactionID, Decision: d}
	}
	return results
}

// Info describes the active scorer and thresholds.
func (p *Pipeline) Info() map[string]any {
	th := p.thresholds.Load()
	return map[string]any{
		"scorer":        p.scorer.Name(),
		"features":      len(features.Names()),
		"feature_names": features.Names(),
		"thresholds": map[string]float64{
			"allow_max": th.AllowMax,
			"block_min": th.BlockMin,
		},
		"risk_levels": map[string]string{
			"LOW":    "score below allow_max",
			"MEDIUM": "score in [allow_max, block_min)",
			"HIGH":   "score at or above block_min",
		},
	}
}

// SampleTransaction returns a plausible well-formed transaction for
// integration smoke tests against the API.
func SampleTransaction() *features.Transaction {
	age := 365
	toPay := 12.5
	otp := 8.0
	return &features.Transaction{
		TransactionID:           idgen.WithPrefix("txn_"),
		SenderID:                "user_123@okbank",
		ReceiverID:              "merchant_456@okbank",
		Amount:                  2500,
		TransactionTime:         14,
		FrequencyLast24h:        3,
		AvgAmountLastWeek:       2000,
		DeviceID:                "device_123",
		OSVersion:               "Android_13",
		IPAddress:               "192.168.1.100",
		GeoDistanceKm:           5.2,
		ReceiverAgeDays:         &age,
		ReceiverFraudReports:    0,
		UniqueSendersToReceiver: 150,
		TimeToPaySeconds:        &toPay,
		OTPDelaySeconds:         &otp,
	}
}
