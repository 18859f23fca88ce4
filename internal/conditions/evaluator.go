// File: internal/conditions/evaluator.go

// Package conditions evaluates declarative predicates over observable page
// state. Evaluation never mutates the page; a condition is answered from the
// current DOM, URL and transfer counters only.
package conditions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/browser"
	"github.com/coordops/caerun/internal/resolve"
)

// defaultOverlaySelector covers the blocking surfaces portals typically throw
// in front of forms: modal dialogs, spinners and full-page loading masks.
const defaultOverlaySelector = `.modal.show, .modal.in, [role="dialog"][aria-modal="true"], ` +
	`.ui-widget-overlay, .blockUI, .loading-overlay, .spinner-overlay, [data-loading="true"]`

// defaultToastSelector is where toast-matches looks when the condition does
// not pin a region.
const defaultToastSelector = `.toast, .alert, [role="alert"], [role="status"], .notification`

// Result is the outcome of evaluating one condition. Diagnostic carries the
// observed value that explains a false outcome.
type Result struct {
	Condition  schemas.Condition
	Holds      bool
	Diagnostic string
}

// Evaluator answers conditions against a live page through the resolver.
type Evaluator struct {
	driver   browser.Driver
	resolver *resolve.Resolver
	logger   *zap.Logger

	// pollInterval governs WaitFor sampling.
	pollInterval time.Duration
}

// New creates an evaluator over the given driver and resolver.
func New(driver browser.Driver, resolver *resolve.Resolver, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		driver:       driver,
		resolver:     resolver,
		logger:       logger.Named("conditions"),
		pollInterval: 250 * time.Millisecond,
	}
}

// Eval evaluates a single condition. The returned error signals an
// observation failure (driver error, invalid condition), not a false outcome.
func (e *Evaluator) Eval(ctx context.Context, c *schemas.Condition) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, &schemas.SpecError{Reason: err.Error()}
	}

	res := Result{Condition: *c}
	switch c.Kind {
	case schemas.CondURLEquals, schemas.CondURLContains, schemas.CondURLPrefix:
		return e.evalURL(ctx, c)

	case schemas.CondElementPresent:
		nodes, err := e.resolver.Resolve(ctx, c.Target)
		if err != nil {
			return res, err
		}
		res.Holds = len(nodes) > 0
		if !res.Holds {
			res.Diagnostic = "element not present"
		}
		return res, nil

	case schemas.CondElementAbsent:
		nodes, err := e.resolver.Resolve(ctx, c.Target)
		if err != nil {
			return res, err
		}
		res.Holds = len(nodes) == 0
		if !res.Holds {
			res.Diagnostic = fmt.Sprintf("%d matching elements still present", len(nodes))
		}
		return res, nil

	case schemas.CondElementEnabled:
		node, err := e.resolver.ResolveUnique(ctx, c.Target)
		if err != nil {
			return res, err
		}
		res.Holds = !node.Disabled()
		if !res.Holds {
			res.Diagnostic = "element is disabled"
		}
		return res, nil

	case schemas.CondElementTextEquals:
		node, err := e.resolver.ResolveUnique(ctx, c.Target)
		if err != nil {
			return res, err
		}
		got := resolve.NormalizeText(node.Text)
		want := resolve.NormalizeText(c.Value)
		res.Holds = got == want
		if !res.Holds {
			res.Diagnostic = fmt.Sprintf("text %q, want %q", got, want)
		}
		return res, nil

	case schemas.CondElementCountMin:
		nodes, err := e.resolver.Resolve(ctx, c.Target)
		if err != nil {
			return res, err
		}
		res.Holds = len(nodes) >= c.Count
		if !res.Holds {
			res.Diagnostic = fmt.Sprintf("%d matching elements, want at least %d", len(nodes), c.Count)
		}
		return res, nil

	case schemas.CondNoOverlay:
		return e.evalNoOverlay(ctx, c)

	case schemas.CondToastMatches:
		return e.evalToast(ctx, c)

	case schemas.CondDownloadCompleted:
		want := c.Count
		if want <= 0 {
			want = 1
		}
		got := e.driver.CompletedDownloads()
		res.Holds = got >= want
		if !res.Holds {
			res.Diagnostic = fmt.Sprintf("%d downloads completed, want at least %d", got, want)
		}
		return res, nil

	case schemas.CondUploadConfirmed:
		nodes, err := e.resolver.Resolve(ctx, c.Target)
		if err != nil {
			return res, err
		}
		res.Holds = len(nodes) > 0
		if !res.Holds {
			res.Diagnostic = "upload confirmation element not present"
		}
		return res, nil
	}
	return res, &schemas.SpecError{Reason: fmt.Sprintf("unknown condition kind %q", c.Kind)}
}

// EvalAll evaluates conditions in order and stops at the first that does not
// hold. The failing result, diagnostic included, is returned alongside.
func (e *Evaluator) EvalAll(ctx context.Context, conds []schemas.Condition) (Result, bool, error) {
	for i := range conds {
		res, err := e.Eval(ctx, &conds[i])
		if err != nil {
			return res, false, err
		}
		if !res.Holds {
			e.logger.Debug("Condition does not hold.",
				zap.String("kind", string(res.Condition.Kind)),
				zap.String("diagnostic", res.Diagnostic))
			return res, false, nil
		}
	}
	return Result{Holds: true}, true, nil
}

// WaitFor polls the conditions until they all hold or the context expires.
// The last failing result is returned with the context error so callers can
// report which check was still pending at the deadline.
func (e *Evaluator) WaitFor(ctx context.Context, conds []schemas.Condition) (Result, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var last Result
	for {
		res, ok, err := e.EvalAll(ctx, conds)
		if err != nil {
			return res, err
		}
		if ok {
			return res, nil
		}
		last = res

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Evaluator) evalURL(ctx context.Context, c *schemas.Condition) (Result, error) {
	res := Result{Condition: *c}
	url, err := e.driver.Location(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to observe url: %w", err)
	}

	switch c.Kind {
	case schemas.CondURLEquals:
		res.Holds = url == c.Value
	case schemas.CondURLContains:
		res.Holds = strings.Contains(url, c.Value)
	case schemas.CondURLPrefix:
		res.Holds = strings.HasPrefix(url, c.Value)
	}
	if !res.Holds {
		res.Diagnostic = fmt.Sprintf("url is %q", url)
	}
	return res, nil
}

func (e *Evaluator) evalNoOverlay(ctx context.Context, c *schemas.Condition) (Result, error) {
	res := Result{Condition: *c}
	var nodes []browser.Node
	var err error
	if c.Target != nil {
		nodes, err = e.resolver.Resolve(ctx, c.Target)
	} else {
		nodes, err = e.driver.Query(ctx, browser.Query{CSS: defaultOverlaySelector})
	}
	if err != nil {
		return res, err
	}
	res.Holds = len(nodes) == 0
	if !res.Holds {
		res.Diagnostic = fmt.Sprintf("%d blocking overlays visible", len(nodes))
	}
	return res, nil
}

// evalToast matches the expected text against any visible toast. Matching is
// substring over normalized text; toasts wrap their message in markup.
func (e *Evaluator) evalToast(ctx context.Context, c *schemas.Condition) (Result, error) {
	res := Result{Condition: *c}
	var nodes []browser.Node
	var err error
	if c.Target != nil {
		nodes, err = e.resolver.Resolve(ctx, c.Target)
	} else {
		nodes, err = e.driver.Query(ctx, browser.Query{CSS: defaultToastSelector})
	}
	if err != nil {
		return res, err
	}

	want := resolve.NormalizeText(c.Value)
	for _, n := range nodes {
		if strings.Contains(resolve.NormalizeText(n.Text), want) {
			res.Holds = true
			return res, nil
		}
	}
	res.Diagnostic = fmt.Sprintf("no toast matching %q among %d visible", c.Value, len(nodes))
	return res, nil
}
