// Package browserdrv drives real Chrome pages over the DevTools protocol
// via chromedp. Every page is pinned to the engagement interception proxy
// at launch; a page whose proxy cannot be dialed is never created, so no
// target traffic can bypass interception.
package browserdrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

const proxyProbeTimeout = 3 * time.Second

// Driver allocates proxy-pinned Chrome pages. Each page gets its own
// browser process so a crashed page never takes sibling sessions down.
type Driver struct {
	logger *slog.Logger
}

var _ outbound.BrowserDriver = (*Driver)(nil)

func NewDriver(logger *slog.Logger) *Driver {
	return &Driver{logger: logger.With("component", "browser_driver")}
}

// NewPage launches Chrome routed through opts.ProxyURL and returns the
// live page. The proxy is dialed first; an unreachable proxy surfaces as
// outbound.ErrProxyUnreachable before any browser starts.
func (d *Driver) NewPage(ctx context.Context, opts outbound.PageOptions) (outbound.Page, error) {
	if err := probeProxy(ctx, opts.ProxyURL); err != nil {
		return nil, err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ProxyServer(opts.ProxyURL),
		// The interception proxy presents its own CA; certificate trust
		// is the proxy's concern, not the page's.
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-background-networking", true),
	)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	// The page outlives this call, so the allocator hangs off Background;
	// the session layer owns page lifetime through Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	pageCtx, pageCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			d.logger.Error("chromedp: " + fmt.Sprintf(format, args...))
		}),
	)

	p := &chromePage{
		ctx:         pageCtx,
		pageCancel:  pageCancel,
		allocCancel: allocCancel,
		logger:      d.logger,
	}
	chromedp.ListenTarget(pageCtx, p.onEvent)

	if err := p.run(ctx, network.Enable()); err != nil {
		pageCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	d.logger.Debug("page started", "proxy", opts.ProxyURL, "headless", opts.Headless)
	return p, nil
}

// probeProxy dials the proxy's TCP endpoint. Ports default by scheme when
// the URL omits one.
func probeProxy(ctx context.Context, proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("proxy url %q is not usable: %w", proxyURL, outbound.ErrProxyUnreachable)
	}
	addr := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	dialer := net.Dialer{Timeout: proxyProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial proxy %s: %v: %w", addr, err, outbound.ErrProxyUnreachable)
	}
	_ = conn.Close()
	return nil
}
