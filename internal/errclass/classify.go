// File: internal/errclass/classify.go

// Package errclass maps raw failures onto the closed error taxonomy. The
// mapping is a pure function of the error shape and the phase: the same
// failure in the same phase always yields the same code.
package errclass

import (
	"context"
	"errors"
	"strings"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/resolve"
	"github.com/coordops/caerun/internal/retry"
)

// Stage distinguishes which side of an action a condition guarded.
type Stage string

const (
	StagePre  Stage = "pre"
	StagePost Stage = "post"
)

// ConditionFailure is raised by the runner when a pre- or postcondition does
// not hold. It carries the condition kind so the classifier can distinguish
// overlay blocks and transfer failures from plain condition violations.
type ConditionFailure struct {
	Stage Stage
	Kind  schemas.ConditionKind
	// SideEffecting records whether the guarded action wrote to the page.
	// Post-stage failures of side-effecting actions must classify as fatal: a
	// retry would re-execute the write.
	SideEffecting bool
	Diagnostic    string
}

func (f *ConditionFailure) Error() string {
	msg := string(f.Stage) + "condition " + string(f.Kind) + " does not hold"
	if f.Diagnostic != "" {
		msg += ": " + f.Diagnostic
	}
	return msg
}

// TimeoutCode returns the phase-specific timeout code.
func TimeoutCode(phase schemas.Phase) schemas.ErrorCode {
	switch phase {
	case schemas.PhaseLogin:
		return schemas.CodeLoginTimeout
	case schemas.PhaseNavigation:
		return schemas.CodeNavigationTimeout
	case schemas.PhaseGridLoad:
		return schemas.CodeGridLoadTimeout
	case schemas.PhaseUpload:
		return schemas.CodeUploadTimeout
	case schemas.PhaseVerification:
		return schemas.CodeVerificationTimeout
	case schemas.PhasePagination:
		return schemas.CodePaginationTimeout
	}
	return schemas.CodeUnclassified
}

// Transient reports whether a code permits a retry. Upload timeouts are
// fatal: after an upload deadline the submission state is unknown and a blind
// retry risks a duplicate.
func Transient(code schemas.ErrorCode) bool {
	switch code {
	case schemas.CodePreconditionFailed,
		schemas.CodeOverlayBlocking,
		schemas.CodeLoginTimeout,
		schemas.CodeNavigationTimeout,
		schemas.CodeGridLoadTimeout,
		schemas.CodeVerificationTimeout,
		schemas.CodePaginationTimeout,
		schemas.CodeDownloadFailed:
		return true
	}
	return false
}

// Classify maps err onto the closed taxonomy. Matching order is fixed:
// already-classified records pass through, then typed failures, then sentinel
// errors, then driver error shapes, then the terminal UNCLASSIFIED bucket.
func Classify(err error, phase schemas.Phase, attempt int) *schemas.ErrorRecord {
	if err == nil {
		return nil
	}

	var rec *schemas.ErrorRecord
	if errors.As(err, &rec) {
		out := *rec
		if out.Attempt == 0 {
			out.Attempt = attempt
		}
		return &out
	}

	code := classifyCode(err, phase)
	return &schemas.ErrorRecord{
		Phase:     phase,
		Code:      code,
		Message:   err.Error(),
		Transient: Transient(code),
		Attempt:   attempt,
	}
}

func classifyCode(err error, phase schemas.Phase) schemas.ErrorCode {
	var condFail *ConditionFailure
	if errors.As(err, &condFail) {
		return conditionCode(condFail)
	}

	var pte *retry.PhaseTimeoutError
	if errors.As(err, &pte) {
		return TimeoutCode(pte.Phase)
	}

	if errors.Is(err, resolve.ErrTargetNotFound) {
		return schemas.CodeTargetNotFound
	}
	if errors.Is(err, resolve.ErrTargetNotUnique) {
		return schemas.CodeTargetNotUnique
	}

	var specErr *schemas.SpecError
	if errors.As(err, &specErr) {
		return schemas.CodeInvalidActionSpec
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutCode(phase)
	}

	return driverCode(err, phase)
}

func conditionCode(f *ConditionFailure) schemas.ErrorCode {
	if f.Stage == StagePre {
		// An overlay found before the write is the one failure that can grant
		// an extra upload attempt.
		if f.Kind == schemas.CondNoOverlay {
			return schemas.CodeOverlayBlocking
		}
		return schemas.CodePreconditionFailed
	}

	// Post stage: the write already happened. No code that permits a retry may
	// surface for an action that wrote to the page, or the retry would repeat
	// the side effect.
	switch f.Kind {
	case schemas.CondUploadConfirmed:
		return schemas.CodeUploadFailed
	case schemas.CondDownloadCompleted:
		if f.SideEffecting {
			return schemas.CodePostconditionFailed
		}
		return schemas.CodeDownloadFailed
	}
	return schemas.CodePostconditionFailed
}

// driverCode recognizes well-known driver error texts. Message matching is
// last resort; typed errors above always win.
func driverCode(err error, phase schemas.Phase) schemas.ErrorCode {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "intercepts pointer events"),
		strings.Contains(msg, "element is obscured"),
		strings.Contains(msg, "not clickable"):
		return schemas.CodeOverlayBlocking

	case phase == schemas.PhaseLogin &&
		(strings.Contains(msg, "invalid credentials") ||
			strings.Contains(msg, "401") ||
			strings.Contains(msg, "403") ||
			strings.Contains(msg, "unauthorized")):
		return schemas.CodeAuthFailed

	case strings.Contains(msg, "net::err_"),
		strings.Contains(msg, "page load error"):
		return TimeoutCode(phase)
	}

	return schemas.CodeUnclassified
}
