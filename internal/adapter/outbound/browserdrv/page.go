package browserdrv

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

// chromePage is one live Chrome page. The session layer serializes calls
// per session; the mutex here only guards state written by CDP event
// listeners, which arrive on chromedp's message loop.
type chromePage struct {
	ctx         context.Context
	pageCancel  context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger

	mu         sync.Mutex
	dialogs    []outbound.Dialog
	console    []string
	lastStatus int64
	hop        func(string) error // active redirect gate, nil outside Navigate
	hopErr     error
	navFirst   bool

	closeOnce sync.Once
	closeErr  error
}

var _ outbound.Page = (*chromePage)(nil)

// run executes chromedp actions on the page context bounded by the
// caller's deadline and cancellation. A dead page context is reported as
// outbound.ErrBrowserGone so the session layer can evict.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.ctx.Err() != nil {
		return fmt.Errorf("%v: %w", err, outbound.ErrBrowserGone)
	}
	return err
}

// Navigate drives the page to url. Main-frame document requests after the
// first one are redirect hops; each is offered to onHop before Chrome may
// follow it, and a hop rejection aborts the navigation with that error.
func (p *chromePage) Navigate(ctx context.Context, targetURL string, onHop func(hop string) error) (outbound.NavResult, error) {
	p.mu.Lock()
	p.hop = onHop
	p.hopErr = nil
	p.navFirst = true
	p.lastStatus = 0
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.hop = nil
		p.mu.Unlock()
		_ = chromedp.Run(p.ctx, fetch.Disable())
	}()

	patterns := []*fetch.RequestPattern{{
		ResourceType: network.ResourceTypeDocument,
		RequestStage: fetch.RequestStageRequest,
	}}
	err := p.run(ctx,
		fetch.Enable().WithPatterns(patterns),
		chromedp.Navigate(targetURL),
	)

	p.mu.Lock()
	hopErr := p.hopErr
	status := p.lastStatus
	p.mu.Unlock()

	// A blocked hop also fails the Chrome-side navigation; the gate's
	// error is the one that matters.
	if hopErr != nil {
		return outbound.NavResult{}, hopErr
	}
	if err != nil {
		return outbound.NavResult{}, err
	}

	var finalURL string
	if err := p.run(ctx, chromedp.Location(&finalURL)); err != nil {
		return outbound.NavResult{}, err
	}
	return outbound.NavResult{FinalURL: finalURL, StatusCode: int(status)}, nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// Fill types the value like a user would so input listeners fire, which
// matters for pages that build DOM from field values.
func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) SelectOption(ctx context.Context, selector, value string) error {
	return p.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

// Submit submits the form containing selector; elements outside any form
// fall back to a plain click.
func (p *chromePage) Submit(ctx context.Context, selector string) error {
	err := p.run(ctx, chromedp.Submit(selector, chromedp.ByQuery))
	if err == nil || ctx.Err() != nil || p.ctx.Err() != nil {
		return err
	}
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) Text(ctx context.Context) (string, error) {
	var text string
	if err := p.run(ctx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

func (p *chromePage) Elements(ctx context.Context) ([]outbound.PageElement, error) {
	var elements []outbound.PageElement
	if err := p.run(ctx, chromedp.Evaluate(elementsJS, &elements)); err != nil {
		return nil, err
	}
	return elements, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) InspectMarker(ctx context.Context, marker string) (outbound.MarkerSighting, error) {
	var result struct {
		InText      bool   `json:"inText"`
		InAttribute bool   `json:"inAttribute"`
		Attribute   string `json:"attribute"`
	}
	script := fmt.Sprintf(inspectMarkerJS, strconv.Quote(marker))
	if err := p.run(ctx, chromedp.Evaluate(script, &result)); err != nil {
		return outbound.MarkerSighting{}, err
	}
	return outbound.MarkerSighting{
		InText:      result.InText,
		InAttribute: result.InAttribute,
		Attribute:   result.Attribute,
	}, nil
}

func (p *chromePage) DrainDialogs() []outbound.Dialog {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.dialogs
	p.dialogs = nil
	return drained
}

func (p *chromePage) DrainConsole() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.console
	p.console = nil
	return drained
}

// Close tears the page and its browser process down. Idempotent.
func (p *chromePage) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closeErr = chromedp.Cancel(p.ctx)
		p.pageCancel()
		p.allocCancel()
	})
	return p.closeErr
}

// onEvent runs on chromedp's event loop. Anything that needs a CDP
// round-trip is handed to a goroutine so the loop never blocks.
func (p *chromePage) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventJavascriptDialogOpening:
		p.mu.Lock()
		p.dialogs = append(p.dialogs, outbound.Dialog{Kind: string(e.Type), Text: e.Message})
		p.mu.Unlock()
		go p.dismissDialog()
	case *cdpruntime.EventConsoleAPICalled:
		if text := consoleText(e); text != "" {
			p.mu.Lock()
			p.console = append(p.console, text)
			p.mu.Unlock()
		}
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || !p.isMainFrame(e.FrameID) {
			return
		}
		p.mu.Lock()
		p.lastStatus = e.Response.Status
		p.mu.Unlock()
	case *fetch.EventRequestPaused:
		go p.resolvePaused(e)
	}
}

// resolvePaused decides whether a paused document request may proceed.
// Subframe documents and the initial navigation target always continue;
// later main-frame documents are redirect hops and go through the gate.
func (p *chromePage) resolvePaused(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ectx := cdp.WithExecutor(p.ctx, c.Target)

	p.mu.Lock()
	gate := p.hop
	mainDoc := ev.ResourceType == network.ResourceTypeDocument && string(ev.FrameID) == string(c.Target.TargetID)
	isHop := gate != nil && mainDoc && !p.navFirst
	if mainDoc && p.navFirst {
		p.navFirst = false
	}
	p.mu.Unlock()

	if isHop {
		if err := gate(ev.Request.URL); err != nil {
			p.mu.Lock()
			if p.hopErr == nil {
				p.hopErr = err
			}
			p.mu.Unlock()
			if failErr := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ectx); failErr != nil && p.ctx.Err() == nil {
				p.logger.Debug("fail blocked hop", "error", failErr)
			}
			return
		}
	}
	if err := fetch.ContinueRequest(ev.RequestID).Do(ectx); err != nil && p.ctx.Err() == nil {
		p.logger.Debug("continue paused request", "error", err)
	}
}

// dismissDialog accepts the open dialog so prompts and confirms cannot
// stall the page. The dialog text was already captured by the listener.
func (p *chromePage) dismissDialog() {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ectx := cdp.WithExecutor(p.ctx, c.Target)
	if err := page.HandleJavaScriptDialog(true).Do(ectx); err != nil && p.ctx.Err() == nil {
		p.logger.Debug("dismiss dialog", "error", err)
	}
}

func (p *chromePage) isMainFrame(id cdp.FrameID) bool {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return false
	}
	return string(id) == string(c.Target.TargetID)
}

func consoleText(ev *cdpruntime.EventConsoleAPICalled) string {
	parts := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		switch {
		case arg == nil:
		case len(arg.Value) > 0:
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return string(ev.Type) + ": " + strings.Join(parts, " ")
}
