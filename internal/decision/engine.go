package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/idgen"
	"github.com/mbd888/fraudgate/internal/metrics"
)

// RuleConfidence is reported whenever any business rule adjusted the
// action: the verdict no longer purely reflects the model, so it is
// pinned at moderate confidence regardless of the raw score.
const RuleConfidence = 0.6

// newReceiverAmountFallback is the high-amount cutoff for the
// new-receiver rule when the sender has no weekly average to compare
// against.
const newReceiverAmountFallback = 10000.0

// state is the token moving along the ALLOW -> VERIFY -> BLOCK chain as
// the rule ladder folds over it.
type state struct {
	action     Action
	indicators int
	reasons    []string
	fired      []string // names of rules that changed the action
}

// escalate raises the action to target if that is an increase.
func (st state) escalate(name string, target Action, reason string) state {
	if target <= st.action {
		return st
	}
	st.action = target
	st.reasons = append(st.reasons, reason)
	st.fired = append(st.fired, name)
	return st
}

// deescalate lowers the action to target if that is a decrease.
func (st state) deescalate(name string, target Action, reason string) state {
	if target >= st.action {
		return st
	}
	st.action = target
	st.reasons = append(st.reasons, reason)
	st.fired = append(st.fired, name)
	return st
}

func (st state) skip(reason string) state {
	st.reasons = append(st.reasons, reason)
	return st
}

type rule struct {
	name  string
	apply func(st state, tx *features.Transaction, vec *features.Vector) state
}

// ladder is the ordered business-rule chain. Order is load-bearing:
// each rule sees the action left by the previous one, and the VIP
// de-escalation must run after all score-driven escalations but before
// the night-micro rule so a VIP's night micro-payment still lands on
// VERIFY, never BLOCK.
var ladder = []rule{
	{"high_amount", ruleHighAmount},
	{"new_receiver", ruleNewReceiver},
	{"multiple_indicators", ruleMultipleIndicators},
	{"vip_protection", ruleVIPProtection},
	{"night_micro", ruleNightMicro},
}

func ruleHighAmount(st state, tx *features.Transaction, vec *features.Vector) state {
	if st.action == ActionAllow && tx.AvgAmountLastWeek == 0 {
		return st.skip("High-amount rule skipped: no spending history")
	}
	if vec.HighAmountFlag == 1 && st.action == ActionAllow {
		return st.escalate("high_amount", ActionVerify,
			"Amount exceeds 5x average — upgraded to VERIFY")
	}
	return st
}

func ruleNewReceiver(st state, tx *features.Transaction, vec *features.Vector) state {
	if st.action != ActionAllow {
		return st
	}
	if tx.ReceiverAgeDays == nil {
		return st.skip("New-receiver rule skipped: receiver age unknown")
	}
	if vec.NewReceiverFlag != 1 {
		return st
	}
	limit := tx.AvgAmountLastWeek
	if limit == 0 {
		limit = newReceiverAmountFallback
	}
	if tx.Amount > limit {
		return st.escalate("new_receiver", ActionVerify,
			fmt.Sprintf("New receiver (%dd old) with high amount - upgraded to VERIFY", *tx.ReceiverAgeDays))
	}
	return st
}

func ruleMultipleIndicators(st state, tx *features.Transaction, vec *features.Vector) state {
	// Both steps apply in sequence so re-running the ladder on the
	// final action is a no-op: an ALLOW with 5+ indicators goes all
	// the way to BLOCK in a single pass.
	if st.indicators >= 3 && st.action == ActionAllow {
		st = st.escalate("multiple_indicators", ActionVerify,
			fmt.Sprintf("Multiple risk indicators (%d) - upgraded to VERIFY", st.indicators))
	}
	if st.indicators >= 5 && st.action == ActionVerify {
		st = st.escalate("multiple_indicators", ActionBlock,
			fmt.Sprintf("Too many risk indicators (%d) - upgraded to BLOCK", st.indicators))
	}
	return st
}

func ruleVIPProtection(st state, tx *features.Transaction, vec *features.Vector) state {
	if tx.IsVIP && st.action == ActionBlock {
		return st.deescalate("vip_protection", ActionVerify,
			"VIP downgrade: BLOCK→VERIFY")
	}
	return st
}

func ruleNightMicro(st state, tx *features.Transaction, vec *features.Vector) state {
	if vec.MicroAmountFlag == 1 && vec.NightTransaction == 1 && st.action == ActionAllow {
		return st.escalate("night_micro", ActionVerify,
			"Micro transaction during night hours - upgraded to VERIFY")
	}
	return st
}

// baseAction classifies the raw score against the thresholds (stage A).
func baseAction(score float64, th Thresholds) Action {
	switch {
	case score < th.AllowMax:
		return ActionAllow
	case score < th.BlockMin:
		return ActionVerify
	default:
		return ActionBlock
	}
}

// countIndicators tallies the stage-B risk indicators from the vector.
func countIndicators(vec *features.Vector) int {
	n := 0
	for _, f := range []float64{
		vec.UnusualHour,
		vec.NewReceiverFlag,
		vec.LocationRisk,
		vec.HighFrequencyFlag,
		vec.HighRiskReceiver,
		vec.QuickTransaction,
		vec.SlowOTPEntry,
	} {
		if f == 1 {
			n++
		}
	}
	return n
}

// applyRules folds the rule ladder over an initial state.
func applyRules(st state, tx *features.Transaction, vec *features.Vector) state {
	for _, r := range ladder {
		st = r.apply(st, tx, vec)
	}
	return st
}

// confidence is the distance from the decision boundary when the model
// alone decided, or RuleConfidence when any rule changed the action.
func confidence(score float64, ruleFired bool) float64 {
	if ruleFired {
		return RuleConfidence
	}
	c := 1 - 2*math.Abs(score-0.5)
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// Evaluate runs the full decision sequence for one transaction. It is
// pure aside from the decision ID and timestamp: no clock reads or
// stored state influence the verdict, so concurrent calls need no
// coordination.
func Evaluate(tx *features.Transaction, vec *features.Vector, score float64, th Thresholds) (*Decision, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: %v not in [0,1]", ErrInvalidScore, score)
	}

	base := baseAction(score, th)
	st := state{
		action:     base,
		indicators: countIndicators(vec),
		reasons: []string{
			fmt.Sprintf("Fraud score: %.4f | Base action: %s", score, base),
		},
	}

	st = applyRules(st, tx, vec)
	st.reasons = append(st.reasons, fmt.Sprintf("Final action: %s", st.action))

	for _, name := range st.fired {
		metrics.RuleFiredTotal.WithLabelValues(name).Inc()
	}

	return &Decision{
		ID:             idgen.WithPrefix("dec_"),
		TransactionID:  tx.TransactionID,
		SenderID:       tx.SenderID,
		Action:         st.action,
		FraudScore:     math.Round(score*10000) / 10000,
		RiskLevel:      levelFor(st.action),
		Confidence:     math.Round(confidence(score, len(st.fired) > 0)*1000) / 1000,
		RiskIndicators: st.indicators,
		Reasoning:      st.reasons,
		EvaluatedAt:    time.Now().UTC(),
	}, nil
}
