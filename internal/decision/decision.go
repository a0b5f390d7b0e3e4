// Package decision turns a fraud-probability score plus transaction
// context into a final verdict (ALLOW / VERIFY / BLOCK).
//
// Evaluation runs in three ordered stages: threshold classification of
// the raw score, a risk-indicator count over the derived flags, and a
// fixed ladder of business rules that may escalate or de-escalate the
// action one tier at a time. Every stage appends to a human-readable
// reasoning trail so the verdict is auditable after the fact.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Action is the three-valued verdict, totally ordered:
// ALLOW < VERIFY < BLOCK.
type Action int

const (
	ActionAllow Action = iota
	ActionVerify
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "ALLOW"
	case ActionVerify:
		return "VERIFY"
	case ActionBlock:
		return "BLOCK"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// MarshalJSON encodes the action as its string form.
func (a Action) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes an action from its string form.
func (a *Action) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"ALLOW"`:
		*a = ActionAllow
	case `"VERIFY"`:
		*a = ActionVerify
	case `"BLOCK"`:
		*a = ActionBlock
	default:
		return fmt.Errorf("unknown action %s", b)
	}
	return nil
}

// RiskLevel is derived from the final action, never from the raw score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// levelFor maps an action to its risk level.
func levelFor(a Action) RiskLevel {
	switch a {
	case ActionBlock:
		return RiskHigh
	case ActionVerify:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Default score thresholds.
const (
	DefaultAllowMax = 0.4
	DefaultBlockMin = 0.7
)

var (
	// ErrInvalidScore marks a fraud score outside [0, 1].
	ErrInvalidScore = errors.New("fraud score out of range")
	// ErrInvalidThreshold marks a misconfigured threshold pair.
	ErrInvalidThreshold = errors.New("invalid decision thresholds")
)

// Thresholds is the score configuration for stage A. Immutable once
// validated; callers thread it into Evaluate explicitly so concurrent
// evaluations with different thresholds never cross-talk.
type Thresholds struct {
	AllowMax float64 `json:"allow_max"` // score below this allows
	BlockMin float64 `json:"block_min"` // score at or above this blocks
}

// DefaultThresholds returns the standard 0.4 / 0.7 configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{AllowMax: DefaultAllowMax, BlockMin: DefaultBlockMin}
}

// Validate rejects threshold pairs outside [0,1] or out of order.
func (t Thresholds) Validate() error {
	if t.AllowMax < 0 || t.AllowMax > 1 {
		return fmt.Errorf("%w: allow_max %v outside [0,1]", ErrInvalidThreshold, t.AllowMax)
	}
	if t.BlockMin < 0 || t.BlockMin > 1 {
		return fmt.Errorf("%w: block_min %v outside [0,1]", ErrInvalidThreshold, t.BlockMin)
	}
	if t.AllowMax > t.BlockMin {
		return fmt.Errorf("%w: allow_max %v exceeds block_min %v", ErrInvalidThreshold, t.AllowMax, t.BlockMin)
	}
	return nil
}

// Decision is the immutable result of evaluating one transaction.
type Decision struct {
	ID             string    `json:"id"`
	TransactionID  string    `json:"transaction_id"`
	SenderID       string    `json:"sender_id"`
	Action         Action    `json:"action"`
	FraudScore     float64   `json:"fraud_score"`
	RiskLevel      RiskLevel `json:"risk_level"`
	Confidence     float64   `json:"confidence"`
	RiskIndicators int       `json:"risk_indicator_count"`
	Reasoning      []string  `json:"reasoning"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// Store persists decisions for the audit trail.
type Store interface {
	Record(ctx context.Context, d *Decision) error
	ListBySender(ctx context.Context, senderID string, limit int) ([]*Decision, error)
}
