// File: internal/conditions/evaluator_test.go
package conditions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/browser"
	"github.com/coordops/caerun/internal/resolve"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *browser.FakeDriver) {
	t.Helper()
	fake := browser.NewFakeDriver()
	logger := zaptest.NewLogger(t)
	e := New(fake, resolve.New(fake, logger), logger)
	e.pollInterval = 5 * time.Millisecond
	return e, fake
}

func TestEvalURLConditions(t *testing.T) {
	e, fake := newTestEvaluator(t)
	fake.URL = "https://portal.example.com/egestiona/documents?page=2"

	cases := []struct {
		kind  schemas.ConditionKind
		value string
		holds bool
	}{
		{schemas.CondURLEquals, "https://portal.example.com/egestiona/documents?page=2", true},
		{schemas.CondURLEquals, "https://portal.example.com/egestiona/documents", false},
		{schemas.CondURLContains, "/egestiona/", true},
		{schemas.CondURLContains, "/other/", false},
		{schemas.CondURLPrefix, "https://portal.example.com/", true},
		{schemas.CondURLPrefix, "https://elsewhere.example.com/", false},
	}
	for _, tc := range cases {
		res, err := e.Eval(context.Background(), &schemas.Condition{Kind: tc.kind, Value: tc.value})
		require.NoError(t, err)
		assert.Equalf(t, tc.holds, res.Holds, "%s %q", tc.kind, tc.value)
		if !tc.holds {
			assert.Contains(t, res.Diagnostic, "url is")
		}
	}
}

func TestEvalElementConditions(t *testing.T) {
	e, fake := newTestEvaluator(t)
	fake.StubCSS(".row", browser.Node{ID: 1}, browser.Node{ID: 2})
	fake.StubCSS("#submit", browser.Node{ID: 3, Attrs: map[string]string{"disabled": ""}})
	fake.StubCSS("#status", browser.Node{ID: 4, Text: "  Pendiente de  validar "})

	target := func(css string) *schemas.Target {
		return &schemas.Target{Kind: schemas.TargetCSS, Value: css}
	}

	res, err := e.Eval(context.Background(), &schemas.Condition{
		Kind: schemas.CondElementPresent, Target: target(".row"),
	})
	require.NoError(t, err)
	assert.True(t, res.Holds)

	res, err = e.Eval(context.Background(), &schemas.Condition{
		Kind: schemas.CondElementAbsent, Target: target(".row"),
	})
	require.NoError(t, err)
	assert.False(t, res.Holds)
	assert.Contains(t, res.Diagnostic, "still present")

	res, err = e.Eval(context.Background(), &schemas.Condition{
		Kind: schemas.CondElementEnabled, Target: target("#submit"),
	})
	require.NoError(t, err)
	assert.False(t, res.Holds)

	res, err = e.Eval(context.Background(), &schemas.Condition{
		Kind: schemas.CondElementTextEquals, Target: target("#status"),
		Value: "Pendiente de validar",
	})
	require.NoError(t, err)
	assert.True(t, res.Holds, "text comparison is exact after whitespace normalization")

	res, err = e.Eval(context.Background(), &schemas.Condition{
		Kind: schemas.CondElementCountMin, Target: target(".row"), Count: 3,
	})
	require.NoError(t, err)
	assert.False(t, res.Holds)
	assert.Contains(t, res.Diagnostic, "want at least 3")
}

func TestEvalNoOverlayDefaultSelector(t *testing.T) {
	e, fake := newTestEvaluator(t)

	res, err := e.Eval(context.Background(), &schemas.Condition{Kind: schemas.CondNoOverlay})
	require.NoError(t, err)
	assert.True(t, res.Holds)

	fake.StubCSS(defaultOverlaySelector, browser.Node{ID: 9, Tag: "DIV"})
	res, err = e.Eval(context.Background(), &schemas.Condition{Kind: schemas.CondNoOverlay})
	require.NoError(t, err)
	assert.False(t, res.Holds)
	assert.Contains(t, res.Diagnostic, "overlay")
}

func TestEvalToastMatchesSubstring(t *testing.T) {
	e, fake := newTestEvaluator(t)
	fake.StubCSS(defaultToastSelector,
		browser.Node{ID: 1, Text: "Aviso:\n  Documento subido  correctamente."})

	res, err := e.Eval(context.Background(), &schemas.Condition{
		Kind: schemas.CondToastMatches, Value: "Documento subido correctamente",
	})
	require.NoError(t, err)
	assert.True(t, res.Holds)

	res, err = e.Eval(context.Background(), &schemas.Condition{
		Kind: schemas.CondToastMatches, Value: "Error inesperado",
	})
	require.NoError(t, err)
	assert.False(t, res.Holds)
}

func TestEvalDownloadCompleted(t *testing.T) {
	e, fake := newTestEvaluator(t)

	res, err := e.Eval(context.Background(), &schemas.Condition{Kind: schemas.CondDownloadCompleted})
	require.NoError(t, err)
	assert.False(t, res.Holds, "count defaults to 1")

	fake.Downloads = 1
	res, err = e.Eval(context.Background(), &schemas.Condition{Kind: schemas.CondDownloadCompleted})
	require.NoError(t, err)
	assert.True(t, res.Holds)
}

func TestEvalAllShortCircuitsOnFirstFailure(t *testing.T) {
	e, fake := newTestEvaluator(t)
	fake.URL = "https://portal.example.com/login"

	conds := []schemas.Condition{
		{Kind: schemas.CondURLContains, Value: "/login"},
		{Kind: schemas.CondElementPresent, Target: &schemas.Target{Kind: schemas.TargetCSS, Value: "#missing"}},
		{Kind: schemas.CondURLContains, Value: "/never-checked"},
	}
	res, ok, err := e.EvalAll(context.Background(), conds)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, schemas.CondElementPresent, res.Condition.Kind)
}

func TestWaitForSucceedsOnceConditionHolds(t *testing.T) {
	e, fake := newTestEvaluator(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fake.StubCSS("#ready", browser.Node{ID: 1})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := e.WaitFor(ctx, []schemas.Condition{
		{Kind: schemas.CondElementPresent, Target: &schemas.Target{Kind: schemas.TargetCSS, Value: "#ready"}},
	})
	require.NoError(t, err)
}

func TestWaitForReturnsLastFailureAtDeadline(t *testing.T) {
	e, _ := newTestEvaluator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := e.WaitFor(ctx, []schemas.Condition{
		{Kind: schemas.CondElementPresent, Target: &schemas.Target{Kind: schemas.TargetCSS, Value: "#never"}},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, schemas.CondElementPresent, res.Condition.Kind)
}

func TestEvalRejectsInvalidCondition(t *testing.T) {
	e, _ := newTestEvaluator(t)
	var specErr *schemas.SpecError
	_, err := e.Eval(context.Background(), &schemas.Condition{Kind: schemas.CondURLEquals})
	assert.ErrorAs(t, err, &specErr)
}
