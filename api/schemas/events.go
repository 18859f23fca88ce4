package schemas

import "time"

// -- Execution Trace Schemas --

// Phase names one stage of a submission workflow. Retry ceilings and
// watchdog deadlines are scoped per phase.
type Phase string

const (
	PhaseLogin        Phase = "login"
	PhaseNavigation   Phase = "navigation"
	PhaseGridLoad     Phase = "grid-load"
	PhaseUpload       Phase = "upload"
	PhaseVerification Phase = "verification"
	PhasePagination   Phase = "pagination"
)

func (p Phase) valid() bool {
	switch p {
	case PhaseLogin, PhaseNavigation, PhaseGridLoad, PhaseUpload,
		PhaseVerification, PhasePagination:
		return true
	}
	return false
}

// Phases lists all phases in workflow order.
func Phases() []Phase {
	return []Phase{
		PhaseLogin, PhaseNavigation, PhaseGridLoad,
		PhaseUpload, PhaseVerification, PhasePagination,
	}
}

// EventKind is the closed set of trace record kinds.
type EventKind string

const (
	EventAttempt EventKind = "attempt"
	EventSuccess EventKind = "success"
	EventFailure EventKind = "failure"
	EventRetry   EventKind = "retry"
	EventTimeout EventKind = "timeout"
	EventHalt    EventKind = "halt"
)

// ExecutionEvent is one append-only trace record. Events are immutable once
// written; the trace is the system of record for what happened.
type ExecutionEvent struct {
	Timestamp time.Time         `json:"ts"`
	RunID     string            `json:"run_id"`
	Phase     Phase             `json:"phase"`
	ActionID  string            `json:"action_id,omitempty"`
	Kind      EventKind         `json:"kind"`
	Attempt   int               `json:"attempt,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// -- Evidence Schemas --

// ArtifactKind is the closed set of evidence artifact types.
type ArtifactKind string

const (
	ArtifactLightweightSnapshot ArtifactKind = "lightweight-snapshot"
	ArtifactFullSnapshot        ArtifactKind = "full-snapshot"
	ArtifactVisualBefore        ArtifactKind = "visual-before"
	ArtifactVisualAfter         ArtifactKind = "visual-after"
)

// EvidenceArtifact describes one captured artifact. Artifacts are
// content-addressed and never overwritten.
type EvidenceArtifact struct {
	Phase        Phase        `json:"phase"`
	Attempt      int          `json:"attempt"`
	ActionID     string       `json:"action_id,omitempty"`
	Kind         ArtifactKind `json:"artifact_kind"`
	ContentHash  string       `json:"content_hash"`
	RelativePath string       `json:"relative_path"`
	CapturedAt   time.Time    `json:"captured_at"`
}

// EvidenceManifest indexes all artifacts captured during one run.
type EvidenceManifest struct {
	RunID     string             `json:"run_id"`
	Artifacts []EvidenceArtifact `json:"artifacts"`
}
