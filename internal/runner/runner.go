// File: internal/runner/runner.go

// Package runner executes one action spec at a time as a small state
// machine: resolve the target, enforce preconditions, perform the single
// write, then verify postconditions. Every attempt leaves a trace event and a
// lightweight evidence snapshot.
package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/browser"
	"github.com/coordops/caerun/internal/conditions"
	"github.com/coordops/caerun/internal/errclass"
	"github.com/coordops/caerun/internal/evidence"
	"github.com/coordops/caerun/internal/resolve"
	"github.com/coordops/caerun/internal/retry"
	"github.com/coordops/caerun/internal/trace"
)

// State names one stage of the per-action state machine. States appear in
// trace payloads.
type State string

const (
	StatePending   State = "pending"
	StateResolving State = "resolving"
	StatePre       State = "pre"
	StateExecuting State = "executing"
	StatePost      State = "post"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Result reports the outcome of one action beyond success/failure.
type Result struct {
	// Stopped is set when the action was a stop sentinel; the executor ends
	// the script cleanly.
	Stopped bool
	// Snapshot is the lightweight evidence captured after the action, used by
	// the executor's loop guard.
	Snapshot *evidence.LightweightSnapshot
}

// Runner drives single actions. It owns attempt bookkeeping; script-level
// sequencing and policy belong to the executor.
type Runner struct {
	driver    browser.Driver
	resolver  *resolve.Resolver
	evaluator *conditions.Evaluator
	policy    *retry.Policy
	watchdog  *retry.Watchdog
	recorder  *evidence.Recorder
	tracer    *trace.Writer
	limiter   *rate.Limiter
	logger    *zap.Logger
	runID     string
}

// New wires a runner. All collaborators are mandatory.
func New(runID string, driver browser.Driver, resolver *resolve.Resolver,
	evaluator *conditions.Evaluator, policy *retry.Policy, watchdog *retry.Watchdog,
	recorder *evidence.Recorder, tracer *trace.Writer, limiter *rate.Limiter,
	logger *zap.Logger) (*Runner, error) {

	if driver == nil || resolver == nil || evaluator == nil || policy == nil ||
		watchdog == nil || recorder == nil || tracer == nil || limiter == nil {
		return nil, errors.New("runner requires all collaborators")
	}
	r := &Runner{
		driver:    driver,
		resolver:  resolver,
		evaluator: evaluator,
		policy:    policy,
		watchdog:  watchdog,
		recorder:  recorder,
		tracer:    tracer,
		limiter:   limiter,
		logger:    logger.Named("runner").With(zap.String("run_id", runID)),
		runID:     runID,
	}
	watchdog.OnExpire(func(ctx context.Context, phase schemas.Phase) {
		// Capture what the page looked like when the deadline fired. The
		// expired phase context is useless here, so a short detached one is
		// used.
		if err := r.recorder.CaptureFull(ctx, phase, 0, "", nil); err != nil {
			r.logger.Warn("Failed to capture timeout evidence.", zap.Error(err))
		}
	})
	return r, nil
}

// Run executes one action under the retry policy and the phase watchdog. A
// nil error record means the action succeeded (or was a stop sentinel).
func (r *Runner) Run(ctx context.Context, spec *schemas.ActionSpec) (Result, *schemas.ErrorRecord) {
	var res Result

	if err := spec.Validate(); err != nil {
		rec := errclass.Classify(err, spec.Phase, 1)
		r.traceEvent(spec, schemas.EventFailure, 1, map[string]string{
			"state": string(StateFailed), "code": string(rec.Code),
		})
		return res, rec
	}
	if spec.Kind == schemas.ActionStop {
		res.Stopped = true
		r.traceEvent(spec, schemas.EventSuccess, 1, map[string]string{"state": string(StateSucceeded)})
		return res, nil
	}

	rec := r.policy.Do(ctx, spec.Phase, errclass.Classify, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			r.traceEvent(spec, schemas.EventRetry, attempt, nil)
		}
		return r.watchdog.Guard(ctx, spec.Phase, func(ctx context.Context) error {
			snap, err := r.attempt(ctx, spec, attempt)
			if snap != nil {
				res.Snapshot = snap
			}
			return err
		})
	})

	if rec != nil {
		r.traceEvent(spec, r.failureEventKind(rec), rec.Attempt, map[string]string{
			"state": string(StateFailed), "code": string(rec.Code), "message": rec.Message,
		})
		return res, rec
	}
	r.traceEvent(spec, schemas.EventSuccess, 0, map[string]string{"state": string(StateSucceeded)})
	return res, nil
}

// attempt runs one pass of the state machine. Any returned error is raw; the
// retry policy classifies it.
func (r *Runner) attempt(ctx context.Context, spec *schemas.ActionSpec, attempt int) (*evidence.LightweightSnapshot, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	r.traceEvent(spec, schemas.EventAttempt, attempt, map[string]string{"state": string(StatePending)})

	actionCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	// resolving
	var node browser.Node
	if spec.Target != nil && spec.Kind.SideEffecting() {
		n, err := r.resolver.ResolveUnique(actionCtx, spec.Target)
		if err != nil {
			return nil, err
		}
		node = n
	}

	// pre
	if failed, ok, err := r.evaluator.EvalAll(actionCtx, spec.Preconditions); err != nil {
		return nil, err
	} else if !ok {
		return nil, &errclass.ConditionFailure{
			Stage:      errclass.StagePre,
			Kind:       failed.Condition.Kind,
			Diagnostic: failed.Diagnostic,
		}
	}

	// executing; critical writes get a before screenshot for the full capture.
	var beforePNG []byte
	if spec.Criticality == schemas.CriticalityCritical {
		if png, err := r.driver.Screenshot(actionCtx); err == nil {
			beforePNG = png
		}
	}
	if err := r.execute(actionCtx, spec, node); err != nil {
		r.captureFailure(ctx, spec, attempt, beforePNG)
		return nil, err
	}

	// post
	if err := r.verify(actionCtx, spec); err != nil {
		r.captureFailure(ctx, spec, attempt, beforePNG)
		return nil, err
	}

	snap := r.captureSuccess(ctx, spec, attempt, beforePNG)
	return snap, nil
}

func (r *Runner) execute(ctx context.Context, spec *schemas.ActionSpec, node browser.Node) error {
	switch spec.Kind {
	case schemas.ActionNavigate:
		return r.driver.Navigate(ctx, spec.URL)
	case schemas.ActionClick:
		return r.driver.Click(ctx, node.ID)
	case schemas.ActionFill:
		return r.driver.Fill(ctx, node.ID, spec.Value)
	case schemas.ActionSelect:
		return r.driver.SelectOption(ctx, node.ID, spec.Value)
	case schemas.ActionUpload:
		return r.driver.SetFiles(ctx, node.ID, spec.Files)
	case schemas.ActionWaitFor, schemas.ActionAssert:
		// Pure observation; verification happens in the post stage.
		return nil
	}
	return &schemas.SpecError{ActionID: spec.ID, Reason: fmt.Sprintf("unexecutable kind %q", spec.Kind)}
}

// verify enforces postconditions. Pages settle asynchronously, so the checks
// poll under the action deadline instead of sampling once.
func (r *Runner) verify(ctx context.Context, spec *schemas.ActionSpec) error {
	// Runtime re-check for dynamically assembled specs: a critical action
	// without strong evidence available must not be reported as succeeded.
	if spec.Criticality == schemas.CriticalityCritical &&
		!schemas.HasStrongPostcondition(spec.Postconditions) {
		return &schemas.SpecError{ActionID: spec.ID, Reason: "critical action carries no strong postcondition"}
	}

	last, err := r.evaluator.WaitFor(ctx, spec.Postconditions)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &errclass.ConditionFailure{
			Stage:         errclass.StagePost,
			Kind:          last.Condition.Kind,
			SideEffecting: spec.Kind.SideEffecting(),
			Diagnostic:    last.Diagnostic,
		}
	}
	return err
}

// captureSuccess records the always-on lightweight snapshot, plus the full
// capture for critical actions.
func (r *Runner) captureSuccess(ctx context.Context, spec *schemas.ActionSpec, attempt int, beforePNG []byte) *evidence.LightweightSnapshot {
	snap, err := r.recorder.CaptureLightweight(ctx, spec.Phase, attempt, spec.ID)
	if err != nil {
		r.logger.Warn("Failed to capture lightweight evidence.", zap.Error(err))
	}
	if spec.Criticality == schemas.CriticalityCritical {
		if err := r.recorder.CaptureFull(ctx, spec.Phase, attempt, spec.ID, beforePNG); err != nil {
			r.logger.Warn("Failed to capture critical-action evidence.", zap.Error(err))
		}
	}
	return snap
}

// captureFailure upgrades evidence to a full capture. Best effort: evidence
// problems never mask the original failure.
func (r *Runner) captureFailure(ctx context.Context, spec *schemas.ActionSpec, attempt int, beforePNG []byte) {
	if _, err := r.recorder.CaptureLightweight(ctx, spec.Phase, attempt, spec.ID); err != nil {
		r.logger.Warn("Failed to capture lightweight evidence.", zap.Error(err))
	}
	if err := r.recorder.CaptureFull(ctx, spec.Phase, attempt, spec.ID, beforePNG); err != nil {
		r.logger.Warn("Failed to capture failure evidence.", zap.Error(err))
	}
}

func (r *Runner) failureEventKind(rec *schemas.ErrorRecord) schemas.EventKind {
	switch rec.Code {
	case schemas.CodeLoginTimeout, schemas.CodeNavigationTimeout, schemas.CodeGridLoadTimeout,
		schemas.CodeUploadTimeout, schemas.CodeVerificationTimeout, schemas.CodePaginationTimeout:
		return schemas.EventTimeout
	}
	return schemas.EventFailure
}

func (r *Runner) traceEvent(spec *schemas.ActionSpec, kind schemas.EventKind, attempt int, payload map[string]string) {
	ev := schemas.ExecutionEvent{
		RunID:    r.runID,
		Phase:    spec.Phase,
		ActionID: spec.ID,
		Kind:     kind,
		Attempt:  attempt,
		Payload:  payload,
	}
	if err := r.tracer.Append(ev); err != nil {
		r.logger.Error("Failed to append trace event.", zap.Error(err))
	}
}
