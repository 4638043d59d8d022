package outbound

import (
	"context"
	"errors"
)

// ErrBrowserGone marks a terminal driver failure: the page or its browser
// context is unusable and the owning session must fail and be evicted.
// Recoverable navigation errors are returned without this sentinel.
var ErrBrowserGone = errors.New("browser context gone")

// ErrProxyUnreachable is wrapped by NewPage when the interception proxy
// cannot be dialed. Sessions never start without their proxy.
var ErrProxyUnreachable = errors.New("interception proxy unreachable")

// PageOptions configures a new driver page. Every page is pinned to the
// engagement interception proxy for its whole life.
type PageOptions struct {
	ProxyURL string
	Headless bool
}

// NavResult is the terminal state of one navigation.
type NavResult struct {
	FinalURL   string
	StatusCode int
}

// PageElement is a visible interactive element summarized for the oracle.
type PageElement struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
	Href     string `json:"href,omitempty"`
}

// Dialog is a captured javascript dialog. Drivers auto-dismiss dialogs and
// buffer them for the XSS probe engine.
type Dialog struct {
	Kind string // alert, confirm, prompt
	Text string
}

// MarkerSighting reports where an injected marker surfaced in the live DOM.
type MarkerSighting struct {
	// InText: marker present in rendered text outside script/style.
	InText bool
	// InAttribute: marker present inside an attribute value.
	InAttribute bool
	// Attribute names the first attribute carrying the marker, "tag@attr".
	Attribute string
}

// BrowserDriver allocates proxy-pinned pages.
type BrowserDriver interface {
	// NewPage opens a browser page routed through opts.ProxyURL. A proxy
	// that cannot be reached must surface as an error here, not on first
	// navigation.
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
}

// Page is one live browser page. Implementations are not required to be
// safe for concurrent use; the session layer serializes access per session.
type Page interface {
	// Navigate drives the page to url. onHop is invoked with every
	// redirect target before it is followed; returning an error aborts
	// the navigation with that error.
	Navigate(ctx context.Context, url string, onHop func(hop string) error) (NavResult, error)

	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	// Submit submits the form containing selector, falling back to a click
	// when the element is not inside a form.
	Submit(ctx context.Context, selector string) error

	CurrentURL(ctx context.Context) (string, error)
	// Text returns the rendered visible text of the page.
	Text(ctx context.Context) (string, error)
	// Elements returns visible interactive elements (inputs, buttons,
	// anchors, selects) with stable selectors.
	Elements(ctx context.Context) ([]PageElement, error)
	Screenshot(ctx context.Context) ([]byte, error)

	// InspectMarker checks the live DOM for an injected marker string.
	InspectMarker(ctx context.Context, marker string) (MarkerSighting, error)
	// DrainDialogs returns and clears dialogs captured since the last call.
	DrainDialogs() []Dialog
	// DrainConsole returns and clears console messages captured since the
	// last call.
	DrainConsole() []string

	Close(ctx context.Context) error
}
