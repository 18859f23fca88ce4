// File: internal/resolve/resolver_test.go
package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/browser"
)

func newTestResolver(t *testing.T) (*Resolver, *browser.FakeDriver) {
	t.Helper()
	fake := browser.NewFakeDriver()
	return New(fake, zaptest.NewLogger(t)), fake
}

func TestResolveStableID(t *testing.T) {
	r, fake := newTestResolver(t)
	fake.StubCSS(`[id="upload-btn"], [data-testid="upload-btn"], [name="upload-btn"]`,
		browser.Node{ID: 7, Tag: "BUTTON"})

	nodes, err := r.Resolve(context.Background(), &schemas.Target{
		Kind:  schemas.TargetStableID,
		Value: "upload-btn",
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, browser.NodeID(7), nodes[0].ID)
}

func TestResolveRoleFiltersByAccessibleName(t *testing.T) {
	r, fake := newTestResolver(t)
	fake.StubCSS(`[role="button"], button, input[type="button"], input[type="submit"]`,
		browser.Node{ID: 1, Tag: "BUTTON", Text: "  Aceptar "},
		browser.Node{ID: 2, Tag: "BUTTON", Text: "Cancelar"},
		browser.Node{ID: 3, Tag: "BUTTON", Attrs: map[string]string{"aria-label": "Aceptar"}},
	)

	nodes, err := r.Resolve(context.Background(), &schemas.Target{
		Kind:  schemas.TargetRole,
		Value: "button",
		Name:  "Aceptar",
	})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, browser.NodeID(1), nodes[0].ID)
	assert.Equal(t, browser.NodeID(3), nodes[1].ID)
}

func TestResolveLabelFollowsForAttribute(t *testing.T) {
	r, fake := newTestResolver(t)
	fake.StubCSS("label",
		browser.Node{ID: 10, Tag: "LABEL", Text: "Número de  documento", Attrs: map[string]string{"for": "doc-number"}},
		browser.Node{ID: 11, Tag: "LABEL", Text: "Empresa", Attrs: map[string]string{"for": "company"}},
	)
	fake.StubCSS(`[id="doc-number"]`, browser.Node{ID: 20, Tag: "INPUT"})

	nodes, err := r.Resolve(context.Background(), &schemas.Target{
		Kind:  schemas.TargetLabel,
		Value: "Número de documento",
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, browser.NodeID(20), nodes[0].ID)
}

func TestResolveTextExactAfterNormalization(t *testing.T) {
	r, fake := newTestResolver(t)
	fake.StubCSS(textCandidateSelector,
		browser.Node{ID: 1, Tag: "A", Text: "Subir  documento\n"},
		browser.Node{ID: 2, Tag: "A", Text: "Subir documento adjunto"},
	)

	nodes, err := r.Resolve(context.Background(), &schemas.Target{
		Kind:  schemas.TargetText,
		Value: "Subir documento",
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1, "substring matches must not count")
	assert.Equal(t, browser.NodeID(1), nodes[0].ID)
}

func TestResolveUniqueEnforcesExactlyOne(t *testing.T) {
	r, fake := newTestResolver(t)

	_, err := r.ResolveUnique(context.Background(), &schemas.Target{
		Kind: schemas.TargetCSS, Value: ".missing",
	})
	assert.ErrorIs(t, err, ErrTargetNotFound)

	fake.StubCSS(".dup", browser.Node{ID: 1}, browser.Node{ID: 2})
	_, err = r.ResolveUnique(context.Background(), &schemas.Target{
		Kind: schemas.TargetCSS, Value: ".dup",
	})
	assert.ErrorIs(t, err, ErrTargetNotUnique)

	fake.StubCSS(".one", browser.Node{ID: 5})
	node, err := r.ResolveUnique(context.Background(), &schemas.Target{
		Kind: schemas.TargetCSS, Value: ".one",
	})
	require.NoError(t, err)
	assert.Equal(t, browser.NodeID(5), node.ID)
}

func TestResolveNthRequiresStableBaseAndRationale(t *testing.T) {
	r, fake := newTestResolver(t)
	fake.StubCSS(`[role="row"], tr`,
		browser.Node{ID: 1}, browser.Node{ID: 2}, browser.Node{ID: 3})

	// Unstable base fails closed regardless of rationale.
	var specErr *schemas.SpecError
	_, err := r.Resolve(context.Background(), &schemas.Target{
		Kind: schemas.TargetCSS, Value: "tr", Nth: 2, NthRationale: "second grid row",
	})
	assert.ErrorAs(t, err, &specErr)

	// Missing rationale fails closed.
	_, err = r.Resolve(context.Background(), &schemas.Target{
		Kind: schemas.TargetRole, Value: "row", Nth: 2,
	})
	assert.ErrorAs(t, err, &specErr)

	// Stable base with rationale selects the n-th match.
	nodes, err := r.Resolve(context.Background(), &schemas.Target{
		Kind: schemas.TargetRole, Value: "row", Nth: 2,
		NthRationale: "grid sorted by period, second row is current month",
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, browser.NodeID(2), nodes[0].ID)

	// Out of range is a not-found, not an index panic.
	_, err = r.Resolve(context.Background(), &schemas.Target{
		Kind: schemas.TargetRole, Value: "row", Nth: 9,
		NthRationale: "grid sorted by period",
	})
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestResolveFrameScopedQuery(t *testing.T) {
	r, fake := newTestResolver(t)
	fake.Stub(browser.Query{CSS: ".inner", FrameCSS: "iframe#upload"},
		browser.Node{ID: 42})

	nodes, err := r.Resolve(context.Background(), &schemas.Target{
		Kind:  schemas.TargetCSS,
		Value: ".inner",
		Frame: &schemas.Target{Kind: schemas.TargetCSS, Value: "iframe#upload"},
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, browser.NodeID(42), nodes[0].ID)
}

func TestResolveFrameKindMustBeSelectorExpressible(t *testing.T) {
	r, _ := newTestResolver(t)
	var specErr *schemas.SpecError
	_, err := r.Resolve(context.Background(), &schemas.Target{
		Kind:  schemas.TargetCSS,
		Value: ".inner",
		Frame: &schemas.Target{Kind: schemas.TargetText, Value: "Documentos"},
	})
	assert.ErrorAs(t, err, &specErr)
}

func TestResolvePropagatesDriverError(t *testing.T) {
	r, fake := newTestResolver(t)
	fake.QueryErr = errors.New("tab crashed")

	_, err := r.Resolve(context.Background(), &schemas.Target{
		Kind: schemas.TargetCSS, Value: ".x",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTargetNotFound)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeText("  a \t b\n c  "))
	assert.Equal(t, "", NormalizeText("   "))
}
