package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mbd888/fraudgate/internal/circuitbreaker"
	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/retry"
)

// Tunables for calls to the model endpoint.
const (
	DefaultRemoteTimeout = 2 * time.Second

	remoteMaxAttempts = 2
	remoteRetryDelay  = 50 * time.Millisecond

	breakerThreshold    = 5
	breakerOpenDuration = 15 * time.Second
	breakerKey          = "model"
)

// Remote calls an external model-serving endpoint to score a vector.
// Any transport failure, non-200 response, or out-of-range score maps
// to ErrUnavailable; the decision layer never sees a fabricated score.
//
// Transient failures get one immediate retry. Sustained failure trips a
// circuit breaker so a down endpoint fails fast instead of stacking up
// timed-out requests.
type Remote struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewRemote creates a scorer backed by the given HTTP endpoint.
func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Remote{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(breakerThreshold, breakerOpenDuration),
	}
}

func (r *Remote) Name() string { return "remote:" + r.url }

type remoteRequest struct {
	Features *features.Vector `json:"features"`
}

type remoteResponse struct {
	FraudScore float64 `json:"fraud_score"`
}

func (r *Remote) Score(ctx context.Context, vec *features.Vector) (float64, error) {
	if !r.breaker.Allow(breakerKey) {
		return 0, fmt.Errorf("%w: circuit open for model endpoint", ErrUnavailable)
	}

	var score float64
	err := retry.Do(ctx, remoteMaxAttempts, remoteRetryDelay, func() error {
		s, err := r.scoreOnce(ctx, vec)
		if err != nil {
			return err
		}
		score = s
		return nil
	})
	if err != nil {
		r.breaker.RecordFailure(breakerKey)
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return 0, err
	}

	r.breaker.RecordSuccess(breakerKey)
	return score, nil
}

func (r *Remote) scoreOnce(ctx context.Context, vec *features.Vector) (float64, error) {
	body, err := json.Marshal(remoteRequest{Features: vec})
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("%w: encode request: %v", ErrUnavailable, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("%w: build request: %v", ErrUnavailable, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		wrapped := fmt.Errorf("%w: model endpoint returned %d", ErrUnavailable, resp.StatusCode)
		// A 4xx means our request is bad; retrying won't change that.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, retry.Permanent(wrapped)
		}
		return 0, wrapped
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if out.FraudScore < 0 || out.FraudScore > 1 {
		return 0, retry.Permanent(fmt.Errorf("%w: score %v outside [0,1]", ErrUnavailable, out.FraudScore))
	}
	return out.FraudScore, nil
}
