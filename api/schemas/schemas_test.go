package schemas_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordops/caerun/api/schemas"
)

// validSpec returns a minimal spec that passes validation, for tests to
// break one rule at a time.
func validSpec() schemas.ActionSpec {
	return schemas.ActionSpec{
		ID:    "click-upload",
		Kind:  schemas.ActionClick,
		Phase: schemas.PhaseUpload,
		Target: &schemas.Target{
			Kind:  schemas.TargetStableID,
			Value: "btn-adjuntar",
		},
		Preconditions: []schemas.Condition{
			{Kind: schemas.CondNoOverlay},
		},
		Postconditions: []schemas.Condition{
			{Kind: schemas.CondElementPresent, Target: &schemas.Target{Kind: schemas.TargetCSS, Value: ".upload-dialog"}},
		},
		Timeout: 10 * time.Second,
	}
}

func TestActionSpecValidateAcceptsMinimalSpec(t *testing.T) {
	t.Parallel()
	spec := validSpec()
	require.NoError(t, spec.Validate())
	// An omitted criticality is accepted and reads as normal; defaulting is
	// ApplyDefaults' job, not Validate's.
	assert.Empty(t, spec.Criticality)
}

func TestActionSpecValidateNeverMutates(t *testing.T) {
	t.Parallel()
	spec := validSpec()
	before := spec
	require.NoError(t, spec.Validate())
	if diff := cmp.Diff(before, spec); diff != "" {
		t.Errorf("Validate mutated the spec (-before +after):\n%s", diff)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	spec := validSpec()
	spec.ApplyDefaults()
	assert.Equal(t, schemas.CriticalityNormal, spec.Criticality)

	spec.Criticality = schemas.CriticalityCritical
	spec.ApplyDefaults()
	assert.Equal(t, schemas.CriticalityCritical, spec.Criticality, "explicit values survive")
}

func TestActionSpecValidateRejections(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name   string
		mutate func(*schemas.ActionSpec)
		reason string
	}{
		{"missing id", func(s *schemas.ActionSpec) { s.ID = "" }, "missing id"},
		{"unknown kind", func(s *schemas.ActionSpec) { s.Kind = "hover" }, "unknown kind"},
		{"unknown criticality", func(s *schemas.ActionSpec) { s.Criticality = "urgent" }, "unknown criticality"},
		{"unknown phase", func(s *schemas.ActionSpec) { s.Phase = "cleanup" }, "unknown phase"},
		{"zero timeout", func(s *schemas.ActionSpec) { s.Timeout = 0 }, "timeout must be positive"},
		{"navigate without url", func(s *schemas.ActionSpec) {
			s.Kind = schemas.ActionNavigate
			s.Target = nil
		}, "navigate requires a url"},
		{"click without target", func(s *schemas.ActionSpec) { s.Target = nil }, "click requires a target"},
		{"upload without files", func(s *schemas.ActionSpec) { s.Kind = schemas.ActionUpload }, "upload requires at least one file"},
		{"fill without value", func(s *schemas.ActionSpec) { s.Kind = schemas.ActionFill }, "fill requires a value"},
		{"empty preconditions", func(s *schemas.ActionSpec) { s.Preconditions = nil }, "preconditions must not be empty"},
		{"empty postconditions", func(s *schemas.ActionSpec) { s.Postconditions = nil }, "postconditions must not be empty"},
		{"invalid precondition", func(s *schemas.ActionSpec) {
			s.Preconditions = []schemas.Condition{{Kind: schemas.CondURLEquals}}
		}, "precondition 0"},
		{"critical without strong postcondition", func(s *schemas.ActionSpec) {
			s.Criticality = schemas.CriticalityCritical
		}, "no strong postcondition"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			spec := validSpec()
			tc.mutate(&spec)
			err := spec.Validate()
			require.Error(t, err)
			var specErr *schemas.SpecError
			require.ErrorAs(t, err, &specErr)
			assert.Contains(t, specErr.Reason, tc.reason)
		})
	}
}

func TestCriticalSpecWithStrongPostconditionPasses(t *testing.T) {
	t.Parallel()
	spec := validSpec()
	spec.Criticality = schemas.CriticalityCritical
	spec.Postconditions = []schemas.Condition{
		{Kind: schemas.CondToastMatches, Value: "documento adjuntado", Severity: schemas.ToastCritical},
	}
	assert.NoError(t, spec.Validate())
}

func TestStopSpecNeedsNoConditions(t *testing.T) {
	t.Parallel()
	spec := schemas.ActionSpec{
		ID:      "stop-on-done",
		Kind:    schemas.ActionStop,
		Phase:   schemas.PhaseVerification,
		Timeout: time.Second,
	}
	assert.NoError(t, spec.Validate())
}

func TestTargetValidate(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		target  schemas.Target
		wantErr string
	}{
		{
			name:   "valid nth on stable base",
			target: schemas.Target{Kind: schemas.TargetRole, Value: "row", Nth: 2, NthRationale: "second grid row is the pending document"},
		},
		{
			name:    "nth on unstable base",
			target:  schemas.Target{Kind: schemas.TargetCSS, Value: ".row", Nth: 2, NthRationale: "why not"},
			wantErr: "nth requires a stable base target",
		},
		{
			name:    "nth without rationale",
			target:  schemas.Target{Kind: schemas.TargetStableID, Value: "grid", Nth: 3},
			wantErr: "nth requires a rationale",
		},
		{
			name:    "negative nth",
			target:  schemas.Target{Kind: schemas.TargetStableID, Value: "grid", Nth: -1},
			wantErr: "nth must be positive",
		},
		{
			name:    "empty value",
			target:  schemas.Target{Kind: schemas.TargetText},
			wantErr: "target value must not be empty",
		},
		{
			name:    "unknown kind",
			target:  schemas.Target{Kind: "shadow", Value: "x"},
			wantErr: "unknown target kind",
		},
		{
			name: "one frame level allowed",
			target: schemas.Target{
				Kind: schemas.TargetCSS, Value: ".submit",
				Frame: &schemas.Target{Kind: schemas.TargetStableID, Value: "upload-frame"},
			},
		},
		{
			name: "two frame levels rejected",
			target: schemas.Target{
				Kind: schemas.TargetCSS, Value: ".submit",
				Frame: &schemas.Target{
					Kind: schemas.TargetStableID, Value: "outer",
					Frame: &schemas.Target{Kind: schemas.TargetStableID, Value: "inner"},
				},
			},
			wantErr: "nest at most one level",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.target.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestTargetKindPrecedenceIsFixed(t *testing.T) {
	t.Parallel()
	ordered := []schemas.TargetKind{
		schemas.TargetStableID, schemas.TargetRole, schemas.TargetLabel,
		schemas.TargetCSS, schemas.TargetXPath, schemas.TargetText,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Precedence(), ordered[i].Precedence(),
			"%s must outrank %s", ordered[i-1], ordered[i])
	}
	assert.Equal(t, 6, schemas.TargetKind("bogus").Precedence())
}

func TestConditionStrength(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name   string
		cond   schemas.Condition
		strong bool
	}{
		{"url match", schemas.Condition{Kind: schemas.CondURLContains, Value: "/confirmacion"}, true},
		{"upload confirmed", schemas.Condition{Kind: schemas.CondUploadConfirmed}, true},
		{"download completed", schemas.Condition{Kind: schemas.CondDownloadCompleted}, true},
		{"critical toast", schemas.Condition{Kind: schemas.CondToastMatches, Severity: schemas.ToastCritical}, true},
		{"info toast", schemas.Condition{Kind: schemas.CondToastMatches, Severity: schemas.ToastInfo}, false},
		{"element present", schemas.Condition{Kind: schemas.CondElementPresent}, false},
		{"no overlay", schemas.Condition{Kind: schemas.CondNoOverlay}, false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.strong, tc.cond.Strong())
		})
	}
}

func TestConditionCategories(t *testing.T) {
	t.Parallel()
	assert.Equal(t, schemas.CategoryURL, (&schemas.Condition{Kind: schemas.CondURLPrefix}).Category())
	assert.Equal(t, schemas.CategoryElement, (&schemas.Condition{Kind: schemas.CondElementCountMin}).Category())
	assert.Equal(t, schemas.CategoryUI, (&schemas.Condition{Kind: schemas.CondToastMatches}).Category())
	assert.Equal(t, schemas.CategoryTransfer, (&schemas.Condition{Kind: schemas.CondDownloadCompleted}).Category())
}

func TestSideEffectingKinds(t *testing.T) {
	t.Parallel()
	assert.True(t, schemas.ActionClick.SideEffecting())
	assert.True(t, schemas.ActionFill.SideEffecting())
	assert.True(t, schemas.ActionSelect.SideEffecting())
	assert.True(t, schemas.ActionUpload.SideEffecting())
	assert.False(t, schemas.ActionNavigate.SideEffecting())
	assert.False(t, schemas.ActionWaitFor.SideEffecting())
	assert.False(t, schemas.ActionAssert.SideEffecting())
	assert.False(t, schemas.ActionStop.SideEffecting())
}

func TestValidateScriptRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()
	a := validSpec()
	b := validSpec()
	b.Phase = schemas.PhaseVerification

	require.NoError(t, schemas.ValidateScript([]schemas.ActionSpec{a}))

	err := schemas.ValidateScript([]schemas.ActionSpec{a, b})
	require.Error(t, err)
	var specErr *schemas.SpecError
	require.ErrorAs(t, err, &specErr)
	assert.Equal(t, "duplicate action id", specErr.Reason)
	assert.Equal(t, a.ID, specErr.ActionID)
}

func TestRunContextKeyNormalizes(t *testing.T) {
	t.Parallel()
	a := schemas.RunContext{Company: " ACME Obras ", Platform: "eGestiona", Coordination: "Kern"}
	b := schemas.RunContext{Company: "acme obras", Platform: "egestiona", Coordination: "kern"}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "acme obras|egestiona|kern", a.Key())
}

// The spec wire format is the contract with the upstream planner: a decoded
// spec must survive a round trip unchanged.
func TestActionSpecJSONRoundTrip(t *testing.T) {
	t.Parallel()
	spec := validSpec()
	spec.Criticality = schemas.CriticalityCritical
	spec.Kind = schemas.ActionUpload
	spec.Files = []string{"/srv/docs/recibo-ss-2026-08.pdf"}
	spec.Postconditions = []schemas.Condition{
		{Kind: schemas.CondUploadConfirmed, Target: &schemas.Target{Kind: schemas.TargetCSS, Value: ".uploaded-row"}},
	}
	spec.Tags = []string{"cae", "monthly"}
	spec.Metadata = map[string]string{"period": "2026-08"}

	data, err := json.Marshal(&spec)
	require.NoError(t, err)

	var decoded schemas.ActionSpec
	require.NoError(t, json.Unmarshal(data, &decoded))

	if diff := cmp.Diff(spec, decoded); diff != "" {
		t.Errorf("spec changed across round trip (-want +got):\n%s", diff)
	}
}

func TestPhasesCoverEveryTimeoutScope(t *testing.T) {
	t.Parallel()
	phases := schemas.Phases()
	require.Len(t, phases, 6)
	assert.Equal(t, schemas.PhaseLogin, phases[0])
	assert.Equal(t, schemas.PhasePagination, phases[5])
	seen := make(map[schemas.Phase]struct{}, len(phases))
	for _, p := range phases {
		seen[p] = struct{}{}
	}
	assert.Len(t, seen, len(phases))
}
