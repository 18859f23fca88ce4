// File: internal/browser/fake.go
package browser

import (
	"context"
	"sync"
)

// FakeDriver is an in-memory Driver used across package tests. Query results
// are stubbed per selector; write actions are recorded and can trigger state
// transitions via the On* hooks.
type FakeDriver struct {
	mu sync.Mutex

	URL  string
	HTML string
	PNG  []byte

	results   map[string][]Node
	Downloads int

	Clicked  []NodeID
	Filled   map[NodeID]string
	Selected map[NodeID]string
	Files    map[NodeID][]string

	NavigateErr error
	QueryErr    error
	ClickErr    error
	FillErr     error
	SetFilesErr error

	// OnClick and OnNavigate let tests simulate page transitions caused by
	// write actions.
	OnClick    func(id NodeID)
	OnNavigate func(url string)

	Closed bool
}

var _ Driver = (*FakeDriver)(nil)

// NewFakeDriver returns an empty fake with no stubbed queries.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		results:  make(map[string][]Node),
		Filled:   make(map[NodeID]string),
		Selected: make(map[NodeID]string),
		Files:    make(map[NodeID][]string),
	}
}

func queryKey(q Query) string {
	sel := q.CSS
	if q.XPath != "" {
		sel = "xpath:" + q.XPath
	}
	if q.FrameCSS != "" {
		return q.FrameCSS + "||" + sel
	}
	return sel
}

// Stub registers the nodes returned for a query.
func (f *FakeDriver) Stub(q Query, nodes ...Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[queryKey(q)] = nodes
}

// StubCSS registers the nodes returned for a plain CSS query.
func (f *FakeDriver) StubCSS(css string, nodes ...Node) {
	f.Stub(Query{CSS: css}, nodes...)
}

func (f *FakeDriver) Navigate(ctx context.Context, url string) error {
	if f.NavigateErr != nil {
		return f.NavigateErr
	}
	f.mu.Lock()
	f.URL = url
	f.mu.Unlock()
	if f.OnNavigate != nil {
		f.OnNavigate(url)
	}
	return nil
}

func (f *FakeDriver) Location(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.URL, nil
}

func (f *FakeDriver) Query(ctx context.Context, q Query) ([]Node, error) {
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[queryKey(q)], nil
}

func (f *FakeDriver) Click(ctx context.Context, id NodeID) error {
	if f.ClickErr != nil {
		return f.ClickErr
	}
	f.mu.Lock()
	f.Clicked = append(f.Clicked, id)
	f.mu.Unlock()
	if f.OnClick != nil {
		f.OnClick(id)
	}
	return nil
}

func (f *FakeDriver) Fill(ctx context.Context, id NodeID, text string) error {
	if f.FillErr != nil {
		return f.FillErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Filled[id] = text
	return nil
}

func (f *FakeDriver) SelectOption(ctx context.Context, id NodeID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Selected[id] = value
	return nil
}

func (f *FakeDriver) SetFiles(ctx context.Context, id NodeID, paths []string) error {
	if f.SetFilesErr != nil {
		return f.SetFilesErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[id] = paths
	return nil
}

func (f *FakeDriver) OuterHTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HTML, nil
}

func (f *FakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PNG != nil {
		return f.PNG, nil
	}
	return []byte("fake-png"), nil
}

func (f *FakeDriver) CompletedDownloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Downloads
}

func (f *FakeDriver) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
