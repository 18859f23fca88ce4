package schemas

import "errors"

// -- Condition Schemas --

// ConditionKind is the closed set of boolean checks over observable page
// state. Conditions are pure predicates; evaluating one never mutates the
// page.
type ConditionKind string

const (
	// URL / scope.
	CondURLEquals   ConditionKind = "url-equals"
	CondURLContains ConditionKind = "url-contains"
	CondURLPrefix   ConditionKind = "url-prefix"

	// Element / DOM state.
	CondElementPresent    ConditionKind = "element-present"
	CondElementAbsent     ConditionKind = "element-absent"
	CondElementEnabled    ConditionKind = "element-enabled"
	CondElementTextEquals ConditionKind = "element-text-equals"
	CondElementCountMin   ConditionKind = "element-count-min"

	// UI / overlay state.
	CondNoOverlay    ConditionKind = "no-overlay"
	CondToastMatches ConditionKind = "toast-matches"

	// Download / upload state.
	CondDownloadCompleted ConditionKind = "download-completed"
	CondUploadConfirmed   ConditionKind = "upload-confirmed"
)

// ConditionCategory groups kinds for reporting.
type ConditionCategory string

const (
	CategoryURL      ConditionCategory = "url"
	CategoryElement  ConditionCategory = "element"
	CategoryUI       ConditionCategory = "ui"
	CategoryTransfer ConditionCategory = "transfer"
)

// ToastSeverity qualifies toast-matches conditions. Only critical-severity
// matches count as strong evidence.
type ToastSeverity string

const (
	ToastInfo     ToastSeverity = "info"
	ToastCritical ToastSeverity = "critical"
)

// Condition is one pure predicate used for preconditions, postconditions and
// wait-for loops. Which fields are meaningful depends on Kind.
type Condition struct {
	Kind ConditionKind `json:"kind"`
	// Target locates the element(s) for element and transfer checks. For
	// toast-matches it optionally overrides the default toast region.
	Target *Target `json:"target,omitempty"`
	// Value is the expected URL fragment, text, or option value.
	Value string `json:"value,omitempty"`
	// Count is the minimum for element-count-min and download-completed.
	Count int `json:"count,omitempty"`
	// Severity applies to toast-matches.
	Severity ToastSeverity `json:"severity,omitempty"`
}

// Category returns the reporting group of the condition kind.
func (c *Condition) Category() ConditionCategory {
	switch c.Kind {
	case CondURLEquals, CondURLContains, CondURLPrefix:
		return CategoryURL
	case CondElementPresent, CondElementAbsent, CondElementEnabled,
		CondElementTextEquals, CondElementCountMin:
		return CategoryElement
	case CondNoOverlay, CondToastMatches:
		return CategoryUI
	case CondDownloadCompleted, CondUploadConfirmed:
		return CategoryTransfer
	}
	return ""
}

// Strong reports whether the condition is acceptable as the sole evidence of
// a critical action's success: a URL match, a confirmed transfer, or a
// critical-severity toast match.
func (c *Condition) Strong() bool {
	switch c.Kind {
	case CondURLEquals, CondURLContains, CondURLPrefix:
		return true
	case CondDownloadCompleted, CondUploadConfirmed:
		return true
	case CondToastMatches:
		return c.Severity == ToastCritical
	}
	return false
}

// Validate checks that the fields required by the kind are present.
func (c *Condition) Validate() error {
	switch c.Kind {
	case CondURLEquals, CondURLContains, CondURLPrefix:
		if c.Value == "" {
			return errors.New(string(c.Kind) + " requires a value")
		}
	case CondElementPresent, CondElementAbsent, CondElementEnabled:
		if c.Target == nil {
			return errors.New(string(c.Kind) + " requires a target")
		}
	case CondElementTextEquals:
		if c.Target == nil || c.Value == "" {
			return errors.New("element-text-equals requires a target and a value")
		}
	case CondElementCountMin:
		if c.Target == nil || c.Count <= 0 {
			return errors.New("element-count-min requires a target and a positive count")
		}
	case CondNoOverlay:
		// Target is optional; the evaluator falls back to its overlay set.
	case CondToastMatches:
		if c.Value == "" {
			return errors.New("toast-matches requires a value")
		}
	case CondDownloadCompleted:
		// Count defaults to 1.
	case CondUploadConfirmed:
		if c.Target == nil {
			return errors.New("upload-confirmed requires a target")
		}
	default:
		return errors.New("unknown condition kind " + string(c.Kind))
	}
	if c.Target != nil {
		if err := c.Target.Validate(); err != nil {
			return err
		}
	}
	return nil
}
