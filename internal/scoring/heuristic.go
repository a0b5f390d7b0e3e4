package scoring

import (
	"context"
	"math"

	"github.com/mbd888/fraudgate/internal/features"
)

// Heuristic is a deterministic logistic baseline over the derived risk
// flags. It stands in when no model endpoint is configured; the weights
// roughly follow the trained model's feature importances, with the
// receiver-history and amount-anomaly signals dominating.
type Heuristic struct{}

// NewHeuristic creates the baseline scorer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Name() string { return "heuristic-v1" }

// Score is a pure function of the vector; identical vectors always get
// identical scores.
func (h *Heuristic) Score(ctx context.Context, vec *features.Vector) (float64, error) {
	// Clamp the z-score so a single absurd amount cannot saturate the
	// logit on its own.
	z := vec.AmountZScore
	if z > 5 {
		z = 5
	}
	if z < -5 {
		z = -5
	}

	logit := -3.0 +
		1.4*vec.HighRiskReceiver +
		1.1*vec.HighAmountFlag +
		0.9*vec.NewReceiverFlag +
		0.7*vec.LocationRisk +
		0.6*vec.HighFrequencyFlag +
		0.5*vec.QuickTransaction +
		0.5*vec.SlowOTPEntry +
		0.4*vec.UnusualHour +
		0.3*vec.NightTransaction +
		0.25*z

	return 1 / (1 + math.Exp(-logit)), nil
}
