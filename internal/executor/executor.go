// File: internal/executor/executor.go

// Package executor orchestrates whole runs: it plans dedup decisions before
// any side effect, executes each work item's script strictly in order, and
// enforces the run-level policies (context locking, loop detection, domain
// and payment blocking).
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/catalog"
	"github.com/coordops/caerun/internal/config"
	"github.com/coordops/caerun/internal/runner"
	"github.com/coordops/caerun/internal/trace"
)

// Ledger is the dedup store surface the executor needs.
type Ledger interface {
	Decide(ctx context.Context, item schemas.WorkItem) (*schemas.Decision, error)
	RecordPlanned(ctx context.Context, runID string, item schemas.WorkItem) error
	Promote(ctx context.Context, runID string, item schemas.WorkItem, reason string) error
	Demote(ctx context.Context, runID string, item schemas.WorkItem, cause *schemas.ErrorRecord) error
	RecordSkip(ctx context.Context, runID string, item schemas.WorkItem, reason string) error
	AcquireRunLock(ctx context.Context, rc schemas.RunContext, runID string, ttl time.Duration) error
	HeartbeatRunLock(ctx context.Context, rc schemas.RunContext, runID string) error
	ReleaseRunLock(ctx context.Context, rc schemas.RunContext, runID string) error
}

// ActionRunner executes one action spec.
type ActionRunner interface {
	Run(ctx context.Context, spec *schemas.ActionSpec) (runner.Result, *schemas.ErrorRecord)
}

// Executor drives one run over a batch of work items.
type Executor struct {
	cfg     config.ExecutorConfig
	ledger  Ledger
	catalog catalog.Catalog
	runner  ActionRunner
	guard   *trace.LoopGuard
	tracer  *trace.Writer
	logger  *zap.Logger
	runID   string
	now     func() time.Time
}

// New wires an executor for one run. All collaborators are mandatory.
func New(runID string, cfg config.ExecutorConfig, ledger Ledger, cat catalog.Catalog,
	actionRunner ActionRunner, tracer *trace.Writer, logger *zap.Logger) (*Executor, error) {

	if ledger == nil || cat == nil || actionRunner == nil || tracer == nil {
		return nil, errors.New("executor requires all collaborators")
	}
	return &Executor{
		cfg:     cfg,
		ledger:  ledger,
		catalog: cat,
		runner:  actionRunner,
		guard:   trace.NewLoopGuard(cfg.LoopThreshold),
		tracer:  tracer,
		logger:  logger.Named("executor").With(zap.String("run_id", runID)),
		runID:   runID,
		now:     time.Now,
	}, nil
}

// Plan computes the dedup verdict for every item without touching the
// browser or writing anything. The order of decisions mirrors the input.
func (e *Executor) Plan(ctx context.Context, items []schemas.WorkItem) ([]schemas.Decision, error) {
	decisions := make([]schemas.Decision, 0, len(items))
	for i := range items {
		dec, err := e.planItem(ctx, items[i])
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *dec)
	}
	return decisions, nil
}

func (e *Executor) planItem(ctx context.Context, item schemas.WorkItem) (*schemas.Decision, error) {
	dec, err := e.ledger.Decide(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("dedup decision failed: %w", err)
	}
	if dec.Kind != schemas.DecisionProceed {
		return dec, nil
	}

	doc, err := e.catalog.Find(ctx, catalog.Lookup{
		DocumentType: item.DocumentType,
		Company:      item.Company,
		Worker:       item.Worker,
		PeriodKey:    item.PeriodKey,
	})
	if errors.Is(err, catalog.ErrNoDocument) {
		dec.Kind = schemas.DecisionSkipNoDocument
		dec.Reason = err.Error()
		return dec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("document lookup failed: %w", err)
	}
	dec.DocumentPath = doc.Path
	return dec, nil
}

// Execute runs the batch under the context lock. Planned-before-acting: the
// ledger sees the intent for each item before its first side effect.
func (e *Executor) Execute(ctx context.Context, rc schemas.RunContext, items []schemas.WorkItem) (*schemas.RunSummary, error) {
	summary := &schemas.RunSummary{
		RunID:     e.runID,
		Context:   rc,
		Decisions: make(map[schemas.DecisionKind]int),
		StartedAt: e.now().UTC(),
	}

	if err := e.ledger.AcquireRunLock(ctx, rc, e.runID, e.cfg.LockTTL); err != nil {
		summary.Status = schemas.RunBlocked
		summary.FinishedAt = e.now().UTC()
		return summary, err
	}
	defer func() {
		if err := e.ledger.ReleaseRunLock(context.WithoutCancel(ctx), rc, e.runID); err != nil {
			e.logger.Warn("Failed to release run lock.", zap.Error(err))
		}
	}()

	halted := e.executeItems(ctx, rc, summary, items)

	summary.FinishedAt = e.now().UTC()
	summary.Status = e.status(summary, halted)
	e.logger.Info("Run finished.",
		zap.String("status", string(summary.Status)),
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// executeItems walks the batch in order. It reports whether the run was
// halted by policy.
func (e *Executor) executeItems(ctx context.Context, rc schemas.RunContext, summary *schemas.RunSummary, items []schemas.WorkItem) bool {
	for i := range items {
		if i > 0 {
			// Long batches must not let the lock go stale under another run.
			if err := e.ledger.HeartbeatRunLock(ctx, rc, e.runID); err != nil {
				e.logger.Warn("Failed to heartbeat run lock.", zap.Error(err))
			}
		}
		// Cancellation is honored between actions, never mid-action.
		if ctx.Err() != nil {
			e.recordRunError(summary, &schemas.ErrorRecord{
				Phase: schemas.PhaseNavigation, Code: schemas.CodeUnclassified,
				Message: "run canceled: " + ctx.Err().Error(),
			})
			return false
		}

		dec, err := e.planItem(ctx, items[i])
		if err != nil {
			e.recordRunError(summary, &schemas.ErrorRecord{
				Phase: schemas.PhaseNavigation, Code: schemas.CodeUnclassified, Message: err.Error(),
			})
			return false
		}
		summary.Decisions[dec.Kind]++

		switch dec.Kind {
		case schemas.DecisionSkipAlreadySubmitted, schemas.DecisionSkipAlreadyPlanned:
			// The ledger already holds the governing record; appending a skip
			// would supersede it and reopen the unit.
			e.logger.Info("Skipping work item.",
				zap.String("kind", string(dec.Kind)),
				zap.String("fingerprint", dec.Fingerprint))
			continue
		case schemas.DecisionSkipNoDocument:
			if err := e.ledger.RecordSkip(ctx, e.runID, items[i], dec.Reason); err != nil {
				e.logger.Warn("Failed to record skip.", zap.Error(err))
			}
			continue
		}

		halted := e.executeItem(ctx, summary, items[i], dec)
		if halted {
			return true
		}
	}
	return false
}

// executeItem runs one item's script. It reports whether the whole run must
// halt.
func (e *Executor) executeItem(ctx context.Context, summary *schemas.RunSummary, item schemas.WorkItem, dec *schemas.Decision) bool {
	if err := e.ledger.RecordPlanned(ctx, e.runID, item); err != nil {
		e.recordRunError(summary, &schemas.ErrorRecord{
			Phase: schemas.PhaseNavigation, Code: schemas.CodeUnclassified,
			Message: "failed to record plan: " + err.Error(),
		})
		return false
	}
	summary.Attempted++

	for i := range item.Script {
		if ctx.Err() != nil {
			// Cancellation fabricates no outcome: the planned record stays
			// planned so the next run surfaces it for operator review.
			summary.Failed++
			e.recordRunError(summary, &schemas.ErrorRecord{
				Phase: item.Script[i].Phase, Code: schemas.CodeUnclassified,
				Message: "run canceled: " + ctx.Err().Error(),
			})
			return true
		}
		spec := &item.Script[i]

		if rec := e.policyGate(spec); rec != nil {
			e.traceHalt(spec, rec)
			e.failItem(ctx, summary, item, rec)
			return true
		}

		res, rec := e.runner.Run(ctx, spec)
		if rec != nil {
			e.failItem(ctx, summary, item, rec)
			// Failures before any side effect leave the page consistent;
			// continue_on_error may move on to the next item. A failure at or
			// after the write leaves unknown state and always ends the run.
			if e.cfg.ContinueOnError && preSideEffect(rec.Code) {
				return false
			}
			return true
		}
		if res.Stopped {
			break
		}
		if res.Snapshot != nil {
			sig := trace.Signature(res.Snapshot.URL, res.Snapshot.StructuralDigest)
			if n, tripped := e.guard.Observe(sig); tripped {
				rec := &schemas.ErrorRecord{
					Phase:   spec.Phase,
					Code:    schemas.CodePolicyHalt,
					Message: fmt.Sprintf("page state recurred %d times, aborting to break the loop", n),
				}
				e.traceHalt(spec, rec)
				e.failItem(ctx, summary, item, rec)
				return true
			}
		}
	}

	summary.Succeeded++
	e.guard.Reset()
	if err := e.ledger.Promote(ctx, e.runID, item, "script completed with postconditions verified"); err != nil {
		e.recordRunError(summary, &schemas.ErrorRecord{
			Phase: schemas.PhaseVerification, Code: schemas.CodeUnclassified,
			Message: "failed to promote submission: " + err.Error(),
		})
	}
	return false
}

func (e *Executor) failItem(ctx context.Context, summary *schemas.RunSummary, item schemas.WorkItem, rec *schemas.ErrorRecord) {
	summary.Failed++
	summary.Errors = append(summary.Errors, *rec)
	if err := e.ledger.Demote(context.WithoutCancel(ctx), e.runID, item, rec); err != nil {
		e.logger.Error("Failed to demote planned submission.", zap.Error(err))
	}
}

func (e *Executor) recordRunError(summary *schemas.RunSummary, rec *schemas.ErrorRecord) {
	summary.Errors = append(summary.Errors, *rec)
}

// policyGate enforces the domain blocklist and the payment workflow ban.
// Both verdicts are fatal and halt the run.
func (e *Executor) policyGate(spec *schemas.ActionSpec) *schemas.ErrorRecord {
	if spec.Kind == schemas.ActionNavigate {
		if host := hostOf(spec.URL); host != "" && e.domainBlocked(host) {
			return &schemas.ErrorRecord{
				Phase:   spec.Phase,
				Code:    schemas.CodeDomainBlocked,
				Message: fmt.Sprintf("navigation to blocked domain %q refused", host),
			}
		}
	}
	if (spec.Kind.SideEffecting() || spec.Kind == schemas.ActionNavigate) && e.paymentRelated(spec) {
		return &schemas.ErrorRecord{
			Phase:   spec.Phase,
			Code:    schemas.CodeActionCriticalBlocked,
			Message: fmt.Sprintf("action %q touches a payment workflow and is never automated", spec.ID),
		}
	}
	return nil
}

func (e *Executor) domainBlocked(host string) bool {
	host = strings.ToLower(host)
	for _, blocked := range e.cfg.BlockedDomains {
		b := strings.ToLower(strings.TrimSpace(blocked))
		if b == "" {
			continue
		}
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

// paymentRelated scans the action's addressable surface for payment keywords.
func (e *Executor) paymentRelated(spec *schemas.ActionSpec) bool {
	var surface []string
	surface = append(surface, spec.URL, spec.Value)
	surface = append(surface, spec.Tags...)
	if spec.Target != nil {
		surface = append(surface, spec.Target.Value, spec.Target.Name)
	}
	for _, s := range surface {
		ls := strings.ToLower(s)
		for _, kw := range e.cfg.PaymentKeywords {
			if kw != "" && strings.Contains(ls, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func (e *Executor) traceHalt(spec *schemas.ActionSpec, rec *schemas.ErrorRecord) {
	ev := schemas.ExecutionEvent{
		RunID:    e.runID,
		Phase:    spec.Phase,
		ActionID: spec.ID,
		Kind:     schemas.EventHalt,
		Payload:  map[string]string{"code": string(rec.Code), "message": rec.Message},
	}
	if err := e.tracer.Append(ev); err != nil {
		e.logger.Error("Failed to append halt event.", zap.Error(err))
	}
}

// status derives the aggregate run outcome.
func (e *Executor) status(summary *schemas.RunSummary, halted bool) schemas.RunStatus {
	if halted && e.haltWasPolicy(summary) {
		return schemas.RunBlocked
	}
	switch {
	case summary.Attempted == 0 && len(summary.Errors) == 0:
		return schemas.RunSuccess
	case summary.Failed == 0 && len(summary.Errors) == 0:
		return schemas.RunSuccess
	case summary.Succeeded > 0:
		return schemas.RunPartialSuccess
	default:
		return schemas.RunError
	}
}

func (e *Executor) haltWasPolicy(summary *schemas.RunSummary) bool {
	for _, rec := range summary.Errors {
		switch rec.Code {
		case schemas.CodePolicyHalt, schemas.CodeDomainBlocked, schemas.CodeActionCriticalBlocked:
			return true
		}
	}
	return false
}

// preSideEffect reports whether a failure code can only arise before the
// action's write reached the page.
func preSideEffect(code schemas.ErrorCode) bool {
	switch code {
	case schemas.CodeTargetNotFound,
		schemas.CodeTargetNotUnique,
		schemas.CodeInvalidActionSpec,
		schemas.CodePreconditionFailed,
		schemas.CodeOverlayBlocking,
		schemas.CodeDomainBlocked,
		schemas.CodeActionCriticalBlocked:
		return true
	}
	return false
}

// hostOf extracts the lowercase host from a URL, empty when unparseable.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// NewRunID mints the identifier for one run.
func NewRunID() string {
	return uuid.New().String()
}
