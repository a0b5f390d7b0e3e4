// Package scoring defines the fraud-probability scorer contract.
//
// The decision engine consumes a probability in [0,1] but does not care
// where it comes from. A Scorer failure is never papered over with a
// default score: the error propagates so the caller can surface it
// instead of silently allowing the transaction.
package scoring

import (
	"context"
	"errors"

	"github.com/mbd888/fraudgate/internal/features"
)

// ErrUnavailable marks a scorer that could not produce a score.
// Callers should test with errors.Is.
var ErrUnavailable = errors.New("scoring unavailable")

// Scorer estimates the fraud probability for a feature vector.
type Scorer interface {
	// Score returns a probability in [0,1]. A failed estimate returns
	// an error wrapping ErrUnavailable; no fallback score is invented.
	Score(ctx context.Context, vec *features.Vector) (float64, error)

	// Name identifies the scorer for the model-info endpoint.
	Name() string
}
