// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coordops/caerun/internal/config"
)

// Session is the chromedp-backed Driver. One session owns one browser tab;
// its context carries the CDP connection for the whole session lifetime.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	allocCancel context.CancelFunc

	downloads atomic.Int64

	mu       sync.Mutex
	isClosed bool
}

var _ Driver = (*Session)(nil)

// NewSession launches a browser and opens a tab configured per cfg. The
// returned session stays alive until Close.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	sessionID := uuid.New().String()
	s := &Session{
		id:          sessionID,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      logger.Named("browser").With(zap.String("session_id", sessionID)),
	}

	// Ensure the tab exists and the CDP connection is up.
	if err := chromedp.Run(tabCtx); err != nil {
		s.shutdown()
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}

	// Track download completion so transfer conditions can observe it.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*browser.EventDownloadProgress); ok &&
			e.State == browser.DownloadProgressStateCompleted {
			s.downloads.Add(1)
		}
	})
	if cfg.DownloadDir != "" {
		err := chromedp.Run(tabCtx,
			browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
				WithDownloadPath(cfg.DownloadDir).
				WithEventsEnabled(true),
		)
		if err != nil {
			s.shutdown()
			return nil, fmt.Errorf("failed to configure download behavior: %w", err)
		}
	}

	s.logger.Debug("Browser session started.")
	return s, nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// runActions executes chromedp actions respecting both the session lifetime
// and the operational context.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the given URL and waits for the document to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.runActions(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Location returns the current page URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.runActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Query resolves a DOM lookup to driver-neutral nodes. A query matching
// nothing returns an empty slice, not an error.
func (s *Session) Query(ctx context.Context, q Query) ([]Node, error) {
	if (q.CSS == "") == (q.XPath == "") {
		return nil, fmt.Errorf("query requires exactly one of css or xpath")
	}

	var raw []*cdp.Node
	var actions []chromedp.Action

	var queryOpts []chromedp.QueryOption
	sel := q.CSS
	if q.XPath != "" {
		sel = q.XPath
		queryOpts = append(queryOpts, chromedp.BySearch)
	} else {
		queryOpts = append(queryOpts, chromedp.ByQueryAll)
	}
	queryOpts = append(queryOpts, chromedp.AtLeast(0))

	if q.FrameCSS != "" {
		// Locate the iframe first, then resolve the inner query within it.
		var frames []*cdp.Node
		if err := s.runActions(ctx,
			chromedp.Nodes(q.FrameCSS, &frames, chromedp.ByQueryAll, chromedp.AtLeast(0)),
		); err != nil {
			return nil, fmt.Errorf("frame query %q failed: %w", q.FrameCSS, err)
		}
		if len(frames) != 1 {
			return nil, fmt.Errorf("frame query %q matched %d frames, want 1", q.FrameCSS, len(frames))
		}
		queryOpts = append(queryOpts, chromedp.FromNode(frames[0]))
	}

	actions = append(actions, chromedp.Nodes(sel, &raw, queryOpts...))
	if err := s.runActions(ctx, actions...); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", sel, err)
	}

	nodes := make([]Node, 0, len(raw))
	for _, n := range raw {
		if n == nil {
			continue
		}
		node := Node{
			ID:    NodeID(n.NodeID),
			Tag:   n.NodeName,
			Attrs: attributeMap(n),
		}
		// Text content is fetched separately; node children are not always
		// populated by the query.
		var text string
		if err := s.runActions(ctx,
			chromedp.Text([]cdp.NodeID{n.NodeID}, &text, chromedp.ByNodeID, chromedp.AtLeast(0)),
		); err == nil {
			node.Text = text
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Click dispatches a click on the node.
func (s *Session) Click(ctx context.Context, id NodeID) error {
	sel := []cdp.NodeID{cdp.NodeID(id)}
	if err := s.runActions(ctx, chromedp.Click(sel, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("click on node %d failed: %w", id, err)
	}
	return nil
}

// Fill clears the node's value and types the given text.
func (s *Session) Fill(ctx context.Context, id NodeID, text string) error {
	sel := []cdp.NodeID{cdp.NodeID(id)}
	if err := s.runActions(ctx,
		chromedp.SetValue(sel, "", chromedp.ByNodeID),
		chromedp.SendKeys(sel, text, chromedp.ByNodeID),
	); err != nil {
		return fmt.Errorf("fill on node %d failed: %w", id, err)
	}
	return nil
}

// SelectOption sets a <select>'s value and dispatches a change event, which
// programmatic value assignment does not trigger on its own.
func (s *Session) SelectOption(ctx context.Context, id NodeID, value string) error {
	sel := []cdp.NodeID{cdp.NodeID(id)}
	const dispatchChange = `document.activeElement &&
		document.activeElement.dispatchEvent(new Event('change', { bubbles: true }));`
	if err := s.runActions(ctx,
		chromedp.ActionFunc(func(c context.Context) error {
			return dom.Focus().WithNodeID(cdp.NodeID(id)).Do(c)
		}),
		chromedp.SetValue(sel, value, chromedp.ByNodeID),
		chromedp.Evaluate(dispatchChange, nil),
	); err != nil {
		return fmt.Errorf("select on node %d failed: %w", id, err)
	}
	return nil
}

// SetFiles attaches local files to a file input.
func (s *Session) SetFiles(ctx context.Context, id NodeID, paths []string) error {
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return dom.SetFileInputFiles(paths).WithNodeID(cdp.NodeID(id)).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("set files on node %d failed: %w", id, err)
	}
	return nil
}

// OuterHTML returns the full document markup.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.runActions(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture document html: %w", err)
	}
	return html, nil
}

// Screenshot captures the viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// CompletedDownloads reports finished downloads since session start.
func (s *Session) CompletedDownloads() int {
	return int(s.downloads.Load())
}

// Close terminates the browser session gracefully. Safe to call twice.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	s.shutdown()
	return nil
}

func (s *Session) shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// attributeMap flattens a cdp node's attribute list into a map.
func attributeMap(node *cdp.Node) map[string]string {
	attrs := make(map[string]string)
	if node == nil || len(node.Attributes) == 0 {
		return attrs
	}
	for i := 0; i+1 < len(node.Attributes); i += 2 {
		attrs[node.Attributes[i]] = node.Attributes[i+1]
	}
	return attrs
}
