// File: internal/browser/driver.go
package browser

import "context"

// NodeID identifies one DOM node for the lifetime of a page. IDs become
// stale after navigation.
type NodeID int64

// Node is the driver-neutral view of a resolved DOM element.
type Node struct {
	ID    NodeID
	Tag   string
	Attrs map[string]string
	// Text is the element's visible text content, whitespace as found.
	Text string
}

// Attr returns an attribute value, empty when absent.
func (n Node) Attr(name string) string {
	return n.Attrs[name]
}

// Disabled reports whether the element is disabled or aria-disabled.
func (n Node) Disabled() bool {
	if _, ok := n.Attrs["disabled"]; ok {
		return true
	}
	return n.Attrs["aria-disabled"] == "true"
}

// Query describes one DOM lookup. Exactly one of CSS or XPath must be set.
// FrameCSS optionally scopes the lookup to an iframe, one level deep.
type Query struct {
	CSS      string
	XPath    string
	FrameCSS string
}

// Driver is the browser-automation primitive provider: it can navigate,
// query the DOM, click, type, upload a file and take a screenshot. It has no
// notion of determinism, retries or evidence; those guarantees live in the
// layers above.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Query(ctx context.Context, q Query) ([]Node, error)
	Click(ctx context.Context, id NodeID) error
	Fill(ctx context.Context, id NodeID, text string) error
	SelectOption(ctx context.Context, id NodeID, value string) error
	SetFiles(ctx context.Context, id NodeID, paths []string) error
	OuterHTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// CompletedDownloads reports how many downloads have finished since the
	// session started.
	CompletedDownloads() int
	Close(ctx context.Context) error
}
