package schemas

import "errors"

// -- Target Schemas --

// TargetKind is the closed set of element reference strategies. Resolution
// precedence is fixed: stable identifier first, path selector and visible
// text last. The resolver never reorders or substitutes strategies per call.
type TargetKind string

const (
	TargetStableID TargetKind = "stable-id"
	TargetRole     TargetKind = "role"
	TargetLabel    TargetKind = "label"
	TargetCSS      TargetKind = "css"
	TargetXPath    TargetKind = "xpath"
	TargetText     TargetKind = "text"
)

// Precedence returns the fixed resolution rank of a target kind. Lower is
// stronger. Unknown kinds rank last.
func (k TargetKind) Precedence() int {
	switch k {
	case TargetStableID:
		return 0
	case TargetRole:
		return 1
	case TargetLabel:
		return 2
	case TargetCSS:
		return 3
	case TargetXPath:
		return 4
	case TargetText:
		return 5
	}
	return 6
}

// Stable reports whether the kind identifies elements robustly enough to
// anchor an "nth of" selection.
func (k TargetKind) Stable() bool {
	switch k {
	case TargetStableID, TargetRole, TargetLabel:
		return true
	}
	return false
}

// Target is a declarative reference to a page element.
type Target struct {
	Kind TargetKind `json:"kind"`
	// Value is the identifier, role, label text, selector, or visible text,
	// depending on Kind.
	Value string `json:"value"`
	// Name optionally narrows a role target by accessible name.
	Name string `json:"name,omitempty"`

	// Frame scopes resolution to a single iframe, located by the given
	// target. At most one nesting level is supported.
	Frame *Target `json:"frame,omitempty"`

	// Nth selects the n-th match (1-based) of an otherwise-stable base
	// target. A non-empty rationale is mandatory; positional selection
	// without a recorded justification fails closed.
	Nth          int    `json:"nth,omitempty"`
	NthRationale string `json:"nth_rationale,omitempty"`
}

func (k TargetKind) valid() bool {
	return k.Precedence() < 6
}

// Validate checks the structural rules for a target, including the frame
// nesting limit and the nth-of constraints.
func (t *Target) Validate() error {
	if t == nil {
		return errors.New("nil target")
	}
	if !t.Kind.valid() {
		return errors.New("unknown target kind " + string(t.Kind))
	}
	if t.Value == "" {
		return errors.New("target value must not be empty")
	}
	if t.Nth < 0 {
		return errors.New("nth must be positive")
	}
	if t.Nth > 0 {
		if !t.Kind.Stable() {
			return errors.New("nth requires a stable base target")
		}
		if t.NthRationale == "" {
			return errors.New("nth requires a rationale")
		}
	}
	if t.Frame != nil {
		if t.Frame.Frame != nil {
			return errors.New("frame targets nest at most one level")
		}
		if err := t.Frame.Validate(); err != nil {
			return err
		}
	}
	return nil
}
