// Package headless drives Chrome through chromedp.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/JakeFAU/conference-crawler/internal/browser"
)

// Browser owns one Chrome process and its default browser context.
type Browser struct {
	cfg           browser.Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New launches Chrome.
func New(cfg browser.Config) (*Browser, error) {
	cfg = cfg.WithDefaults()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &Browser{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

// NewPage opens a tab with network tracking enabled.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	tracker := newNetworkTracker()
	chromedp.ListenTarget(tabCtx, tracker.handle)
	p := &Page{tab: tabCtx, cancel: tabCancel, cfg: b.cfg, net: tracker}
	if err := p.run(ctx, b.cfg.NavigationTimeout, "enable network", network.Enable()); err != nil {
		tabCancel()
		return nil, err
	}
	return p, nil
}

// Page is one chromedp tab.
type Page struct {
	tab    context.Context
	cancel context.CancelFunc
	cfg    browser.Config
	net    *networkTracker
}

// Close closes the tab.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

func (p *Page) run(ctx context.Context, timeout time.Duration, what string, actions ...chromedp.Action) error {
	runCtx, cancel := browser.WithTimeout(p.tab, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return browser.MapTimeout(ctx, chromedp.Run(runCtx, actions...), what)
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.cfg.NavigationTimeout, "navigate "+url, chromedp.Navigate(url))
}

// Reload reloads the current document.
func (p *Page) Reload(ctx context.Context) error {
	return p.run(ctx, p.cfg.NavigationTimeout, "reload", chromedp.Reload())
}

// Back steps back in session history. Client-side routers do not fire a load
// event, so the caller is expected to poll Location.
func (p *Page) Back(ctx context.Context) error {
	return p.run(ctx, p.cfg.NavigationTimeout, "back", chromedp.Evaluate(`history.back()`, nil))
}

// Location returns the current document URL.
func (p *Page) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, p.cfg.NavigationTimeout, "location", chromedp.Location(&loc))
	return loc, err
}

// WaitNetworkIdle waits until no request has been in flight for the
// configured quiet period and the document has finished loading.
func (p *Page) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := browser.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		inflight, quiet := p.net.state()
		if inflight == 0 && quiet >= p.cfg.IdleQuiet {
			var ready string
			err := p.run(waitCtx, 0, "ready state", chromedp.Evaluate(`document.readyState`, &ready))
			if err != nil {
				return browser.MapTimeout(ctx, err, "wait network idle")
			}
			if ready == "complete" {
				return nil
			}
		}
		select {
		case <-waitCtx.Done():
			return browser.MapTimeout(ctx, waitCtx.Err(), "wait network idle")
		case <-ticker.C:
		}
	}
}

// WaitVisible waits for the first match of loc to become visible.
func (p *Page) WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	return p.run(ctx, timeout, "wait visible "+loc.String(),
		chromedp.WaitVisible(loc.String(), chromedp.BySearch))
}

// Count implements browser.Page.
func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	var n int
	err := p.run(ctx, p.cfg.NavigationTimeout, "count "+loc.String(),
		chromedp.Evaluate(countScript(loc), &n))
	return n, err
}

// Text implements browser.Page.
func (p *Page) Text(ctx context.Context, loc browser.Locator) (string, error) {
	texts, err := p.Texts(ctx, loc.Nth(0))
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return "", fmt.Errorf("text %s: %w", loc, browser.ErrNoMatch)
	}
	return texts[0], nil
}

// Texts implements browser.Page.
func (p *Page) Texts(ctx context.Context, loc browser.Locator) ([]string, error) {
	var out []string
	err := p.run(ctx, p.cfg.NavigationTimeout, "texts "+loc.String(),
		chromedp.Evaluate(textsScript(loc), &out))
	return out, err
}

// Attribute implements browser.Page.
func (p *Page) Attribute(ctx context.Context, loc browser.Locator, name string) (string, bool, error) {
	values, err := p.attributes(ctx, loc.Nth(0), name)
	if err != nil {
		return "", false, err
	}
	if len(values) == 0 {
		return "", false, fmt.Errorf("attribute %s: %w", loc, browser.ErrNoMatch)
	}
	if values[0] == nil {
		return "", false, nil
	}
	return *values[0], true, nil
}

// Attributes implements browser.Page.
func (p *Page) Attributes(ctx context.Context, loc browser.Locator, name string) ([]string, error) {
	values, err := p.attributes(ctx, loc, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, v := range values {
		if v != nil {
			out[i] = *v
		}
	}
	return out, nil
}

func (p *Page) attributes(ctx context.Context, loc browser.Locator, name string) ([]*string, error) {
	var out []*string
	err := p.run(ctx, p.cfg.NavigationTimeout, "attributes "+loc.String(),
		chromedp.Evaluate(attributesScript(loc, name), &out))
	return out, err
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, p.cfg.NavigationTimeout, "outer html",
		chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Click clicks the first visible match of loc.
func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	return p.run(ctx, p.cfg.NavigationTimeout, "click "+loc.String(),
		chromedp.Click(loc.String(), chromedp.BySearch, chromedp.NodeVisible))
}

// Hover moves the mouse over the centre of the first visible match of loc.
func (p *Page) Hover(ctx context.Context, loc browser.Locator) error {
	var nodes []*cdp.Node
	return p.run(ctx, p.cfg.NavigationTimeout, "hover "+loc.String(),
		chromedp.ScrollIntoView(loc.String(), chromedp.BySearch),
		chromedp.Nodes(loc.String(), &nodes, chromedp.BySearch, chromedp.NodeVisible),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(nodes) == 0 {
				return browser.ErrNoMatch
			}
			box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(ctx)
			if err != nil {
				return fmt.Errorf("box model: %w", err)
			}
			x, y, err := quadCenter(box.Content)
			if err != nil {
				return err
			}
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
		}),
	)
}

// Fill replaces the value of an input.
func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string) error {
	return p.run(ctx, p.cfg.NavigationTimeout, "fill "+loc.String(),
		chromedp.WaitVisible(loc.String(), chromedp.BySearch),
		chromedp.Clear(loc.String(), chromedp.BySearch),
		chromedp.SendKeys(loc.String(), value, chromedp.BySearch),
	)
}

// PressKey dispatches a key press to the focused document.
func (p *Page) PressKey(ctx context.Context, key browser.Key) error {
	return p.run(ctx, p.cfg.NavigationTimeout, "press "+string(key), chromedp.KeyEvent(keyCode(key)))
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.cfg.NavigationTimeout, "screenshot", chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func keyCode(key browser.Key) string {
	switch key {
	case browser.KeyEnd:
		return kb.End
	default:
		return string(key)
	}
}

func quadCenter(q dom.Quad) (float64, float64, error) {
	if len(q) < 8 {
		return 0, 0, errors.New("element has no layout box")
	}
	return (q[0] + q[2] + q[4] + q[6]) / 4, (q[1] + q[3] + q[5] + q[7]) / 4, nil
}

const snapshotJS = `document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null)`

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func countScript(loc browser.Locator) string {
	return fmt.Sprintf(snapshotJS+`.snapshotLength`, quote(loc.String()))
}

func textsScript(loc browser.Locator) string {
	return fmt.Sprintf(`(() => {
	const r = `+snapshotJS+`;
	const out = [];
	for (let i = 0; i < r.snapshotLength; i++) {
		const n = r.snapshotItem(i);
		out.push(((n.innerText !== undefined ? n.innerText : n.textContent) || '').trim());
	}
	return out;
})()`, quote(loc.String()))
}

func attributesScript(loc browser.Locator, name string) string {
	return fmt.Sprintf(`(() => {
	const r = `+snapshotJS+`;
	const out = [];
	for (let i = 0; i < r.snapshotLength; i++) {
		const n = r.snapshotItem(i);
		out.push(n.getAttribute ? n.getAttribute(%s) : null);
	}
	return out;
})()`, quote(loc.String()), quote(name))
}

// networkTracker counts in-flight requests from CDP network events.
type networkTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
	now      func() time.Time
}

func newNetworkTracker() *networkTracker {
	return &networkTracker{
		inflight: make(map[network.RequestID]struct{}),
		last:     time.Now(),
		now:      time.Now,
	}
}

func (t *networkTracker) handle(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inflight, e.RequestID)
	default:
		return
	}
	t.last = t.now()
}

// state returns the in-flight count and how long the network has been quiet.
func (t *networkTracker) state() (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight), t.now().Sub(t.last)
}

// forwardCancel cancels the task when parent is cancelled.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
