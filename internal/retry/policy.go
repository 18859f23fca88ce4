// File: internal/retry/policy.go

// Package retry implements the deterministic retry policy and the per-phase
// timeout watchdog. The policy layer is mechanism only: classification of
// failures into codes is supplied by the caller, keeping this package free of
// classifier dependencies.
package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/config"
)

// Classifier maps a raw failure to its canonical record. Supplied by the
// caller so the policy never inspects raw errors itself.
type Classifier func(err error, phase schemas.Phase, attempt int) *schemas.ErrorRecord

// Policy computes attempt ceilings and backoff delays. All decisions are
// derived from configuration and the failure code; nothing is sampled except
// the jitter, which is drawn fresh for every delay.
type Policy struct {
	cfg    config.RetryConfig
	logger *zap.Logger

	// now and jitter are swappable for tests.
	now    func() time.Time
	jitter func(max time.Duration) time.Duration
}

// NewPolicy builds a policy from configuration.
func NewPolicy(cfg config.RetryConfig, logger *zap.Logger) *Policy {
	return &Policy{
		cfg:    cfg,
		logger: logger.Named("retry"),
		now:    time.Now,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// MaxAttempts returns the attempt ceiling for a phase, given the failure code
// of the most recent attempt. A phase override replaces the base ceiling: the
// configured value is the number of retries on top of the first attempt. The
// upload phase never retries, except that a blocking overlay grants a single
// extra attempt.
func (p *Policy) MaxAttempts(phase schemas.Phase, code schemas.ErrorCode) int {
	switch phase {
	case schemas.PhaseLogin:
		return 1 + p.cfg.LoginExtra
	case schemas.PhaseNavigation:
		return 1 + p.cfg.NavigationExtra
	case schemas.PhaseGridLoad:
		return 1 + p.cfg.GridLoadExtra
	case schemas.PhaseUpload:
		if code == schemas.CodeOverlayBlocking {
			return 2 + p.cfg.UploadExtra
		}
		return 1 + p.cfg.UploadExtra
	case schemas.PhaseVerification:
		return 1 + p.cfg.VerificationExtra
	}
	return p.cfg.MaxAttempts
}

// Backoff returns the delay before the given attempt number (2 for the first
// retry). The deterministic part grows geometrically; jitter is additive and
// freshly drawn.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := float64(p.cfg.BackoffBase)
	for i := 2; i < attempt; i++ {
		delay *= p.cfg.BackoffFactor
	}
	return time.Duration(delay) + p.jitter(p.cfg.JitterMax)
}

// Do runs op under the retry policy for the given phase. Each failure is
// classified; retries happen only while the record is transient and the
// attempt ceiling has not been reached. The last record is returned on
// exhaustion.
func (p *Policy) Do(ctx context.Context, phase schemas.Phase, classify Classifier,
	op func(ctx context.Context, attempt int) error) *schemas.ErrorRecord {

	for attempt := 1; ; attempt++ {
		if delay := p.Backoff(attempt); delay > 0 {
			p.logger.Debug("Backing off before retry.",
				zap.String("phase", string(phase)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return classify(ctx.Err(), phase, attempt)
			case <-time.After(delay):
			}
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}

		rec := classify(err, phase, attempt)
		if !rec.Transient || attempt >= p.MaxAttempts(phase, rec.Code) {
			return rec
		}
		p.logger.Info("Attempt failed, retrying.",
			zap.String("phase", string(phase)),
			zap.String("code", string(rec.Code)),
			zap.Int("attempt", attempt))
	}
}
