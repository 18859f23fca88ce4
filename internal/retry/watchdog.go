// File: internal/retry/watchdog.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/config"
)

// PhaseTimeoutError reports that a phase exceeded its hard deadline. The
// classifier maps it to the phase-specific timeout code.
type PhaseTimeoutError struct {
	Phase schemas.Phase
	Limit time.Duration
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("phase %s exceeded its %s deadline", e.Phase, e.Limit)
}

// Watchdog enforces per-phase deadlines. The expiry hook runs before the
// timeout error is returned so callers can capture page evidence while the
// session is still alive.
type Watchdog struct {
	timeouts config.TimeoutsConfig
	logger   *zap.Logger
	onExpire func(ctx context.Context, phase schemas.Phase)
}

// NewWatchdog builds a watchdog from the configured phase deadlines.
func NewWatchdog(timeouts config.TimeoutsConfig, logger *zap.Logger) *Watchdog {
	return &Watchdog{
		timeouts: timeouts,
		logger:   logger.Named("watchdog"),
	}
}

// OnExpire registers a hook invoked when a phase deadline fires. The hook
// receives a context not bound to the expired deadline.
func (w *Watchdog) OnExpire(fn func(ctx context.Context, phase schemas.Phase)) {
	w.onExpire = fn
}

// Guard runs fn under the phase's deadline. A deadline hit is surfaced as a
// *PhaseTimeoutError; other failures pass through untouched.
func (w *Watchdog) Guard(ctx context.Context, phase schemas.Phase, fn func(ctx context.Context) error) error {
	limit := w.timeouts.ForPhase(phase)
	phaseCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err := fn(phaseCtx)
	if err == nil {
		return nil
	}

	// Attribute the timeout to the phase deadline only when it was this
	// watchdog's deadline that fired, not the caller's.
	if errors.Is(err, context.DeadlineExceeded) && phaseCtx.Err() != nil && ctx.Err() == nil {
		w.logger.Warn("Phase deadline exceeded.",
			zap.String("phase", string(phase)),
			zap.Duration("limit", limit))
		if w.onExpire != nil {
			w.onExpire(ctx, phase)
		}
		return &PhaseTimeoutError{Phase: phase, Limit: limit}
	}
	return err
}
