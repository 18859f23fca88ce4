// File: internal/retry/policy_test.go
package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/config"
)

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       500 * time.Millisecond,
		BackoffFactor:     1.5,
		JitterMax:         250 * time.Millisecond,
		LoginExtra:        1,
		NavigationExtra:   2,
		GridLoadExtra:     2,
		UploadExtra:       0,
		VerificationExtra: 1,
	}
}

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p := NewPolicy(testRetryConfig(), zaptest.NewLogger(t))
	p.jitter = func(time.Duration) time.Duration { return 0 }
	return p
}

func TestMaxAttemptsPerPhase(t *testing.T) {
	p := newTestPolicy(t)

	cases := []struct {
		phase schemas.Phase
		code  schemas.ErrorCode
		want  int
	}{
		{schemas.PhaseLogin, schemas.CodeLoginTimeout, 2},
		{schemas.PhaseNavigation, schemas.CodeNavigationTimeout, 3},
		{schemas.PhaseGridLoad, schemas.CodeGridLoadTimeout, 3},
		{schemas.PhaseUpload, schemas.CodeDownloadFailed, 1},
		{schemas.PhaseUpload, schemas.CodeOverlayBlocking, 2},
		{schemas.PhaseVerification, schemas.CodeVerificationTimeout, 2},
		{schemas.PhasePagination, schemas.CodePaginationTimeout, 2},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, p.MaxAttempts(tc.phase, tc.code), "%s/%s", tc.phase, tc.code)
	}
}

func TestBackoffGrowsGeometrically(t *testing.T) {
	p := newTestPolicy(t)

	assert.Equal(t, time.Duration(0), p.Backoff(1), "first attempt has no delay")
	assert.Equal(t, 500*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 750*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 1125*time.Millisecond, p.Backoff(4))
}

func TestBackoffJitterIsAdditiveAndBounded(t *testing.T) {
	p := NewPolicy(testRetryConfig(), zaptest.NewLogger(t))
	for i := 0; i < 50; i++ {
		d := p.Backoff(2)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 750*time.Millisecond)
	}
}

func classifyTransient(code schemas.ErrorCode) Classifier {
	return func(err error, phase schemas.Phase, attempt int) *schemas.ErrorRecord {
		return &schemas.ErrorRecord{Phase: phase, Code: code, Message: err.Error(), Transient: true, Attempt: attempt}
	}
}

func TestDoRetriesTransientUntilCeiling(t *testing.T) {
	p := newTestPolicy(t)
	p.jitter = func(time.Duration) time.Duration { return 0 }
	// Shrink delays so the test stays fast.
	p.cfg.BackoffBase = time.Millisecond

	var calls int
	rec := p.Do(context.Background(), schemas.PhaseGridLoad,
		classifyTransient(schemas.CodeGridLoadTimeout),
		func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("grid still empty")
		})
	require.NotNil(t, rec)
	assert.Equal(t, 3, calls, "grid-load allows 2 retries on top of the first attempt")
	assert.Equal(t, 3, rec.Attempt)
	assert.Equal(t, schemas.CodeGridLoadTimeout, rec.Code)
}

func TestDoNeverRetriesUploadForNonOverlayFailures(t *testing.T) {
	p := newTestPolicy(t)
	p.cfg.BackoffBase = time.Millisecond

	var calls int
	rec := p.Do(context.Background(), schemas.PhaseUpload,
		classifyTransient(schemas.CodeDownloadFailed),
		func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("upload widget lost the file")
		})
	require.NotNil(t, rec)
	assert.Equal(t, 1, calls, "the upload phase gets exactly one attempt")
	assert.Equal(t, 1, rec.Attempt)
}

func TestDoGrantsUploadOneExtraAttemptForOverlay(t *testing.T) {
	p := newTestPolicy(t)
	p.cfg.BackoffBase = time.Millisecond

	var calls int
	rec := p.Do(context.Background(), schemas.PhaseUpload,
		classifyTransient(schemas.CodeOverlayBlocking),
		func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("spinner intercepts pointer events")
		})
	require.NotNil(t, rec)
	assert.Equal(t, 2, calls, "a blocking overlay grants a single extra upload attempt")
	assert.Equal(t, 2, rec.Attempt)
}

func TestDoStopsImmediatelyOnFatal(t *testing.T) {
	p := newTestPolicy(t)

	var calls int
	rec := p.Do(context.Background(), schemas.PhaseNavigation,
		func(err error, phase schemas.Phase, attempt int) *schemas.ErrorRecord {
			return &schemas.ErrorRecord{Phase: phase, Code: schemas.CodeTargetNotFound, Attempt: attempt}
		},
		func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("missing")
		})
	require.NotNil(t, rec)
	assert.Equal(t, 1, calls)
	assert.False(t, rec.Transient)
}

func TestDoSucceedsAfterTransientFailure(t *testing.T) {
	p := newTestPolicy(t)
	p.cfg.BackoffBase = time.Millisecond

	var calls int
	rec := p.Do(context.Background(), schemas.PhaseLogin,
		classifyTransient(schemas.CodeLoginTimeout),
		func(ctx context.Context, attempt int) error {
			calls++
			if calls < 2 {
				return errors.New("slow login form")
			}
			return nil
		})
	assert.Nil(t, rec)
	assert.Equal(t, 2, calls)
}

func TestWatchdogReturnsPhaseTimeout(t *testing.T) {
	timeouts := config.TimeoutsConfig{Upload: 10 * time.Millisecond, Navigation: 10 * time.Millisecond}
	w := NewWatchdog(timeouts, zaptest.NewLogger(t))

	var expired schemas.Phase
	w.OnExpire(func(ctx context.Context, phase schemas.Phase) { expired = phase })

	err := w.Guard(context.Background(), schemas.PhaseUpload, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var pte *PhaseTimeoutError
	require.ErrorAs(t, err, &pte)
	assert.Equal(t, schemas.PhaseUpload, pte.Phase)
	assert.Equal(t, schemas.PhaseUpload, expired)
}

func TestWatchdogPassesThroughOtherErrors(t *testing.T) {
	timeouts := config.TimeoutsConfig{Navigation: time.Second}
	w := NewWatchdog(timeouts, zaptest.NewLogger(t))

	boom := errors.New("boom")
	err := w.Guard(context.Background(), schemas.PhaseNavigation, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWatchdogDoesNotBlameCallerCancellation(t *testing.T) {
	timeouts := config.TimeoutsConfig{Navigation: time.Minute}
	w := NewWatchdog(timeouts, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := w.Guard(ctx, schemas.PhaseNavigation, func(c context.Context) error {
		<-c.Done()
		return c.Err()
	})
	var pte *PhaseTimeoutError
	assert.False(t, errors.As(err, &pte), "caller deadline is not a phase timeout")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
