// File: internal/resolve/resolver.go
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/browser"
)

// Sentinel errors for the uniqueness rule. Both are fatal for the attempt
// that raised them; the resolver never falls back to a different strategy.
var (
	ErrTargetNotFound  = errors.New("target matched no elements")
	ErrTargetNotUnique = errors.New("target matched multiple elements")
)

// Resolver maps declarative targets to concrete page elements. Resolution
// strategy per target kind is fixed and not configurable per call.
type Resolver struct {
	driver browser.Driver
	logger *zap.Logger
}

// New creates a resolver over the given driver.
func New(driver browser.Driver, logger *zap.Logger) *Resolver {
	return &Resolver{
		driver: driver,
		logger: logger.Named("resolver"),
	}
}

// Resolve returns the full match set for a target. An "nth of" target
// narrows the set to a single element and fails closed when the base target
// is not stable or the rationale is missing.
func (r *Resolver) Resolve(ctx context.Context, t *schemas.Target) ([]browser.Node, error) {
	if err := t.Validate(); err != nil {
		return nil, &schemas.SpecError{Reason: err.Error()}
	}

	frameCSS := ""
	if t.Frame != nil {
		css, err := selectorFor(t.Frame)
		if err != nil {
			return nil, &schemas.SpecError{Reason: fmt.Sprintf("frame target: %v", err)}
		}
		frameCSS = css
	}

	nodes, err := r.resolveBase(ctx, t, frameCSS)
	if err != nil {
		return nil, err
	}

	if t.Nth > 0 {
		// Validate already guarantees a stable base and a rationale; this is
		// the runtime fail-closed re-check for dynamically assembled targets.
		if !t.Kind.Stable() || t.NthRationale == "" {
			return nil, &schemas.SpecError{Reason: "nth selection requires a stable base target and a rationale"}
		}
		if t.Nth > len(nodes) {
			return nil, fmt.Errorf("%w: nth=%d but only %d matches", ErrTargetNotFound, t.Nth, len(nodes))
		}
		r.logger.Debug("Positional selection applied.",
			zap.Int("nth", t.Nth),
			zap.String("rationale", t.NthRationale))
		return []browser.Node{nodes[t.Nth-1]}, nil
	}

	return nodes, nil
}

// ResolveUnique enforces the uniqueness rule for side-effecting actions: the
// target must match exactly one element.
func (r *Resolver) ResolveUnique(ctx context.Context, t *schemas.Target) (browser.Node, error) {
	nodes, err := r.Resolve(ctx, t)
	if err != nil {
		return browser.Node{}, err
	}
	switch len(nodes) {
	case 0:
		return browser.Node{}, fmt.Errorf("%w: %s %q", ErrTargetNotFound, t.Kind, t.Value)
	case 1:
		return nodes[0], nil
	default:
		return browser.Node{}, fmt.Errorf("%w: %s %q matched %d elements",
			ErrTargetNotUnique, t.Kind, t.Value, len(nodes))
	}
}

func (r *Resolver) resolveBase(ctx context.Context, t *schemas.Target, frameCSS string) ([]browser.Node, error) {
	switch t.Kind {
	case schemas.TargetStableID:
		return r.query(ctx, browser.Query{CSS: stableIDSelector(t.Value), FrameCSS: frameCSS})

	case schemas.TargetRole:
		nodes, err := r.query(ctx, browser.Query{CSS: roleSelector(t.Value), FrameCSS: frameCSS})
		if err != nil {
			return nil, err
		}
		if t.Name == "" {
			return nodes, nil
		}
		want := NormalizeText(t.Name)
		var matched []browser.Node
		for _, n := range nodes {
			if accessibleName(n) == want {
				matched = append(matched, n)
			}
		}
		return matched, nil

	case schemas.TargetLabel:
		return r.resolveByLabel(ctx, t.Value, frameCSS)

	case schemas.TargetCSS:
		return r.query(ctx, browser.Query{CSS: t.Value, FrameCSS: frameCSS})

	case schemas.TargetXPath:
		return r.query(ctx, browser.Query{XPath: t.Value, FrameCSS: frameCSS})

	case schemas.TargetText:
		nodes, err := r.query(ctx, browser.Query{CSS: textCandidateSelector, FrameCSS: frameCSS})
		if err != nil {
			return nil, err
		}
		want := NormalizeText(t.Value)
		var matched []browser.Node
		for _, n := range nodes {
			if NormalizeText(n.Text) == want {
				matched = append(matched, n)
			}
		}
		return matched, nil
	}
	return nil, &schemas.SpecError{Reason: fmt.Sprintf("unknown target kind %q", t.Kind)}
}

// resolveByLabel finds <label> elements whose normalized text matches, then
// resolves the controls they reference via the for attribute.
func (r *Resolver) resolveByLabel(ctx context.Context, labelText, frameCSS string) ([]browser.Node, error) {
	labels, err := r.query(ctx, browser.Query{CSS: "label", FrameCSS: frameCSS})
	if err != nil {
		return nil, err
	}

	want := NormalizeText(labelText)
	var ids []string
	for _, l := range labels {
		if NormalizeText(l.Text) != want {
			continue
		}
		if forID := l.Attr("for"); forID != "" {
			ids = append(ids, forID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = `[id="` + cssEscape(id) + `"]`
	}
	return r.query(ctx, browser.Query{CSS: strings.Join(parts, ", "), FrameCSS: frameCSS})
}

func (r *Resolver) query(ctx context.Context, q browser.Query) ([]browser.Node, error) {
	nodes, err := r.driver.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("dom query failed: %w", err)
	}
	return nodes, nil
}

// -- Selector construction --

const textCandidateSelector = `a, button, input[type="button"], input[type="submit"], ` +
	`[role="button"], [role="link"], [role="menuitem"], [role="tab"], td, th, li, span, label`

func stableIDSelector(value string) string {
	v := cssEscape(value)
	return `[id="` + v + `"], [data-testid="` + v + `"], [name="` + v + `"]`
}

// roleSelector unions the explicit role attribute with the implicit HTML
// roles that matter on portal grids and forms.
func roleSelector(role string) string {
	parts := []string{`[role="` + cssEscape(role) + `"]`}
	switch role {
	case "button":
		parts = append(parts, "button", `input[type="button"]`, `input[type="submit"]`)
	case "link":
		parts = append(parts, "a[href]")
	case "textbox":
		parts = append(parts, `input[type="text"]`, "input:not([type])", "textarea")
	case "combobox":
		parts = append(parts, "select")
	case "checkbox":
		parts = append(parts, `input[type="checkbox"]`)
	case "radio":
		parts = append(parts, `input[type="radio"]`)
	case "row":
		parts = append(parts, "tr")
	case "gridcell", "cell":
		parts = append(parts, "td")
	}
	return strings.Join(parts, ", ")
}

// selectorFor expresses a target as a single CSS selector where possible.
// Frame locators must be selector-expressible.
func selectorFor(t *schemas.Target) (string, error) {
	switch t.Kind {
	case schemas.TargetStableID:
		return stableIDSelector(t.Value), nil
	case schemas.TargetCSS:
		return t.Value, nil
	}
	return "", fmt.Errorf("target kind %q cannot locate a frame", t.Kind)
}

// accessibleName approximates the accessible name: aria-label wins, then
// visible text, then the value attribute.
func accessibleName(n browser.Node) string {
	if label := n.Attr("aria-label"); label != "" {
		return NormalizeText(label)
	}
	if text := NormalizeText(n.Text); text != "" {
		return text
	}
	return NormalizeText(n.Attr("value"))
}

// NormalizeText trims and collapses internal whitespace. Text and label
// matching is exact after normalization; substring matching is not offered.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cssEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
