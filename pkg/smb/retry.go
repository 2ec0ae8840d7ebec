package smb

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// RetryPolicy holds the attempt budget and the two backoff ladders
type RetryPolicy struct {
	MaxAttempts int
	// Delays are waited after the n-th failed attempt of a generic error
	Delays []time.Duration
	// SharingDelays replace Delays while the file is locked remotely
	SharingDelays []time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 60/120/180s and 30/60/90s ladders
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		Delays:        []time.Duration{60 * time.Second, 120 * time.Second, 180 * time.Second},
		SharingDelays: []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second},
	}
}

// NextDelay returns the wait after failed attempt n (1-based)
func (p RetryPolicy) NextDelay(attempt int, err error) time.Duration {
	ladder := p.Delays
	if IsSharingViolation(err) {
		ladder = p.SharingDelays
	}
	if len(ladder) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(ladder) {
		return ladder[len(ladder)-1]
	}
	return ladder[attempt-1]
}

// retryable excludes classified errors other than transport failures, such
// as a missing configuration
func retryable(err error) bool {
	if IsSharingViolation(err) {
		return true
	}
	if e, ok := apperrors.As(err); ok {
		return e.Kind == apperrors.KindTransport
	}
	return true
}

type retrier struct {
	policy  RetryPolicy
	clock   clock.Clock
	metrics *observability.Metrics
	logger  *logrus.Entry
}

// do runs fn until it succeeds, the budget runs out or ctx ends
func (r *retrier) do(ctx context.Context, op, path string, fn func(ctx context.Context) error) error {
	attempts := r.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !retryable(err) {
			break
		}

		reason := "error"
		if IsSharingViolation(err) {
			reason = "sharing_violation"
		}
		delay := r.policy.NextDelay(attempt, err)
		r.metrics.SMBRetriesTotal.WithLabelValues(reason).Inc()
		r.logger.WithError(err).WithFields(logrus.Fields{
			"op":          op,
			"remote_path": path,
			"attempt":     attempt,
			"delay":       delay.String(),
		}).Warn("smb operation failed, retrying")

		if serr := r.clock.Sleep(ctx, delay); serr != nil {
			return classify(path, err)
		}
	}
	return classify(path, err)
}
