package schemas

import (
	"fmt"
	"time"
)

// -- Action Schemas --

// ActionKind is the closed set of step kinds the runner can execute.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionFill     ActionKind = "fill"
	ActionSelect   ActionKind = "select"
	ActionUpload   ActionKind = "upload"
	ActionWaitFor  ActionKind = "wait-for"
	ActionAssert   ActionKind = "assert"
	ActionStop     ActionKind = "stop"
)

// Criticality marks actions whose success must be backed by strong evidence.
type Criticality string

const (
	CriticalityNormal   Criticality = "normal"
	CriticalityCritical Criticality = "critical"
)

// ActionSpec is one declarative, verifiable step of a browser script. Specs
// are produced by an upstream planner and consumed over the wire; they are
// never authored as free text.
type ActionSpec struct {
	ID          string      `json:"id"`
	Kind        ActionKind  `json:"kind"`
	Criticality Criticality `json:"criticality,omitempty"`
	Phase       Phase       `json:"phase"`

	// Target is required for element-directed kinds (click, fill, select,
	// upload). Navigate addresses a URL, wait-for addresses conditions, and
	// assert/stop address nothing.
	Target *Target `json:"target,omitempty"`

	// URL is the destination for navigate actions.
	URL string `json:"url,omitempty"`
	// Value carries the input for fill and the option value for select.
	Value string `json:"value,omitempty"`
	// Files carries the local paths for upload.
	Files []string `json:"files,omitempty"`

	Preconditions  []Condition `json:"preconditions"`
	Postconditions []Condition `json:"postconditions"`

	Timeout  time.Duration     `json:"timeout"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SideEffecting reports whether the action writes to the page. Side-effecting
// actions are subject to the uniqueness rule and to the dedup ledger gate.
func (k ActionKind) SideEffecting() bool {
	switch k {
	case ActionClick, ActionFill, ActionSelect, ActionUpload:
		return true
	}
	return false
}

func (k ActionKind) valid() bool {
	switch k {
	case ActionNavigate, ActionClick, ActionFill, ActionSelect, ActionUpload,
		ActionWaitFor, ActionAssert, ActionStop:
		return true
	}
	return false
}

// SpecError describes a compile-time rejection of an ActionSpec. It always
// classifies as INVALID_ACTIONSPEC.
type SpecError struct {
	ActionID string
	Reason   string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid action spec %q: %s", e.ActionID, e.Reason)
}

// ApplyDefaults fills optional fields after decode. An empty criticality
// means normal.
func (s *ActionSpec) ApplyDefaults() {
	if s.Criticality == "" {
		s.Criticality = CriticalityNormal
	}
}

// Validate enforces the structural rules of the data model. Violations are
// rejected before the spec ever reaches the runner. Validate never mutates
// the spec; defaulting happens at decode via ApplyDefaults.
func (s *ActionSpec) Validate() error {
	fail := func(reason string) error {
		return &SpecError{ActionID: s.ID, Reason: reason}
	}

	if s.ID == "" {
		return fail("missing id")
	}
	if !s.Kind.valid() {
		return fail(fmt.Sprintf("unknown kind %q", s.Kind))
	}
	if s.Criticality != "" && s.Criticality != CriticalityNormal && s.Criticality != CriticalityCritical {
		return fail(fmt.Sprintf("unknown criticality %q", s.Criticality))
	}
	if !s.Phase.valid() {
		return fail(fmt.Sprintf("unknown phase %q", s.Phase))
	}
	if s.Timeout <= 0 {
		return fail("timeout must be positive")
	}

	switch s.Kind {
	case ActionNavigate:
		if s.URL == "" {
			return fail("navigate requires a url")
		}
	case ActionClick, ActionFill, ActionSelect, ActionUpload:
		if s.Target == nil {
			return fail(fmt.Sprintf("%s requires a target", s.Kind))
		}
	}
	if s.Kind == ActionUpload && len(s.Files) == 0 {
		return fail("upload requires at least one file")
	}
	if (s.Kind == ActionFill || s.Kind == ActionSelect) && s.Value == "" {
		return fail(fmt.Sprintf("%s requires a value", s.Kind))
	}

	if s.Target != nil {
		if err := s.Target.Validate(); err != nil {
			return fail(err.Error())
		}
	}

	if len(s.Preconditions) == 0 && s.Kind != ActionStop {
		return fail("preconditions must not be empty")
	}
	if len(s.Postconditions) == 0 && s.Kind != ActionStop {
		return fail("postconditions must not be empty")
	}
	for i := range s.Preconditions {
		if err := s.Preconditions[i].Validate(); err != nil {
			return fail(fmt.Sprintf("precondition %d: %v", i, err))
		}
	}
	for i := range s.Postconditions {
		if err := s.Postconditions[i].Validate(); err != nil {
			return fail(fmt.Sprintf("postcondition %d: %v", i, err))
		}
	}

	// Critical actions must carry at least one strong postcondition. This is
	// re-checked at runtime by the runner for specs assembled dynamically.
	if s.Criticality == CriticalityCritical && !HasStrongPostcondition(s.Postconditions) {
		return fail("critical action carries no strong postcondition")
	}

	return nil
}

// HasStrongPostcondition reports whether at least one condition in the list
// is sufficient evidence that a critical action truly succeeded.
func HasStrongPostcondition(conds []Condition) bool {
	for i := range conds {
		if conds[i].Strong() {
			return true
		}
	}
	return false
}

// ValidateScript validates a whole action script and checks id uniqueness.
func ValidateScript(specs []ActionSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[specs[i].ID]; dup {
			return &SpecError{ActionID: specs[i].ID, Reason: "duplicate action id"}
		}
		seen[specs[i].ID] = struct{}{}
	}
	return nil
}
