package schemas

import (
	"strings"
	"time"
)

// -- Submission Ledger Schemas --

// SubmissionAction is the lifecycle state recorded for one logical unit of
// work. Records are append-only: promotion and demotion append new records
// that supersede older ones for dedup lookups.
type SubmissionAction string

const (
	SubmissionPlanned   SubmissionAction = "planned"
	SubmissionSubmitted SubmissionAction = "submitted"
	SubmissionSkipped   SubmissionAction = "skipped"
	SubmissionFailed    SubmissionAction = "failed"
)

// SubmissionRecord is one durable decision about one logical unit of work.
type SubmissionRecord struct {
	ID             string           `json:"id"`
	Fingerprint    string           `json:"fingerprint"`
	Action         SubmissionAction `json:"action"`
	DecisionReason string           `json:"decision_reason,omitempty"`
	RunID          string           `json:"run_id"`
	Platform       string           `json:"platform"`
	Coordination   string           `json:"coordination"`
	Company        string           `json:"company"`
	Worker         string           `json:"worker,omitempty"`
	Error          *ErrorRecord     `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// -- Work Items and Decisions --

// WorkItem is one logical unit of submittable work: a document of a given
// type for a given element (worker or company) on a given platform and
// coordination, plus the compiled action script that submits it.
type WorkItem struct {
	Platform     string `json:"platform"`
	Coordination string `json:"coordination"`
	DocumentType string `json:"document_type"`
	Element      string `json:"element"`
	Company      string `json:"company"`
	WorkCenter   string `json:"work_center,omitempty"`
	Worker       string `json:"worker,omitempty"`

	// PeriodKey narrows document lookup to a validity period (e.g. "2026-08").
	PeriodKey string `json:"period_key,omitempty"`

	Script []ActionSpec `json:"script"`
}

// RunContext identifies the logical context a run mutates. At most one run
// may hold the lock for a given context at a time.
type RunContext struct {
	Company      string `json:"company"`
	Platform     string `json:"platform"`
	Coordination string `json:"coordination"`
}

// Key returns the stable lock key for the context.
func (rc RunContext) Key() string {
	return strings.ToLower(strings.TrimSpace(rc.Company)) + "|" +
		strings.ToLower(strings.TrimSpace(rc.Platform)) + "|" +
		strings.ToLower(strings.TrimSpace(rc.Coordination))
}

// DecisionKind is the closed set of per-item go/no-go outcomes.
type DecisionKind string

const (
	DecisionProceed              DecisionKind = "PROCEED"
	DecisionSkipAlreadySubmitted DecisionKind = "SKIP_ALREADY_SUBMITTED"
	DecisionSkipAlreadyPlanned   DecisionKind = "SKIP_ALREADY_PLANNED"
	DecisionSkipNoDocument       DecisionKind = "SKIP_NO_DOCUMENT"
)

// Decision is the dedup verdict for one work item, evaluated before any side
// effect.
type Decision struct {
	Item        WorkItem     `json:"item"`
	Kind        DecisionKind `json:"kind"`
	Fingerprint string       `json:"fingerprint"`
	Confidence  float64      `json:"confidence"`
	Reason      string       `json:"reason,omitempty"`
	// DocumentPath is the resolved artifact for PROCEED decisions.
	DocumentPath string `json:"document_path,omitempty"`
}

// -- Run Summary --

// RunStatus is the aggregate outcome of one execution.
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunBlocked        RunStatus = "blocked"
	RunError          RunStatus = "error"
)

// RunSummary aggregates one execution. It is owned exclusively by the
// executor and written once at run completion.
type RunSummary struct {
	RunID      string               `json:"run_id"`
	Context    RunContext           `json:"context"`
	Status     RunStatus            `json:"status"`
	Decisions  map[DecisionKind]int `json:"decisions"`
	Attempted  int                  `json:"attempted"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Errors     []ErrorRecord        `json:"errors,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}
