// Package rodbrowser drives Chrome through go-rod with stealth patches applied
// to every page.
package rodbrowser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/JakeFAU/conference-crawler/internal/browser"
)

// Browser owns a launched Chrome process.
type Browser struct {
	cfg      browser.Config
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// New launches Chrome and connects to it.
func New(cfg browser.Config) (*Browser, error) {
	cfg = cfg.WithDefaults()
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-gpu")
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	return &Browser{cfg: cfg, launcher: l, browser: b}, nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}

// NewPage opens a stealth page.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	page, err := stealth.Page(b.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			return nil, fmt.Errorf("set user-agent: %w", err)
		}
	}
	// Detach from the opening context; each call binds its own.
	return &Page{page: page.Context(context.Background()), cfg: b.cfg}, nil
}

// Page is one rod page.
type Page struct {
	page *rod.Page
	cfg  browser.Config
}

func (p *Page) bind(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	runCtx, cancel := browser.WithTimeout(ctx, timeout)
	return p.page.Context(runCtx), cancel
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	if err := pg.Navigate(url); err != nil {
		return browser.MapTimeout(ctx, err, "navigate "+url)
	}
	return browser.MapTimeout(ctx, pg.WaitLoad(), "wait load")
}

// Reload implements browser.Page.
func (p *Page) Reload(ctx context.Context) error {
	pg, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	return browser.MapTimeout(ctx, pg.Reload(), "reload")
}

// Back implements browser.Page.
func (p *Page) Back(ctx context.Context) error {
	pg, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	_, err := pg.Eval(`() => history.back()`)
	return browser.MapTimeout(ctx, err, "back")
}

// Location implements browser.Page.
func (p *Page) Location(ctx context.Context) (string, error) {
	pg, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	info, err := pg.Info()
	if err != nil {
		return "", browser.MapTimeout(ctx, err, "location")
	}
	return info.URL, nil
}

// WaitNetworkIdle implements browser.Page.
func (p *Page) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	pg, cancel := p.bind(ctx, timeout)
	defer cancel()
	if err := pg.WaitLoad(); err != nil {
		return browser.MapTimeout(ctx, err, "wait load")
	}
	wait := pg.WaitRequestIdle(p.cfg.IdleQuiet, nil, nil, nil)
	wait()
	if err := pg.GetContext().Err(); err != nil {
		return browser.MapTimeout(ctx, err, "wait network idle")
	}
	return nil
}

// WaitVisible implements browser.Page.
func (p *Page) WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	pg, cancel := p.bind(ctx, timeout)
	defer cancel()
	el, err := pg.ElementX(loc.String())
	if err != nil {
		return browser.MapTimeout(ctx, err, "wait visible "+loc.String())
	}
	return browser.MapTimeout(ctx, el.WaitVisible(), "wait visible "+loc.String())
}

func (p *Page) elements(ctx context.Context, loc browser.Locator) (rod.Elements, context.CancelFunc, error) {
	pg, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	els, err := pg.ElementsX(loc.String())
	if err != nil {
		cancel()
		return nil, nil, browser.MapTimeout(ctx, err, "query "+loc.String())
	}
	return els, cancel, nil
}

func (p *Page) first(ctx context.Context, loc browser.Locator) (*rod.Element, context.CancelFunc, error) {
	els, cancel, err := p.elements(ctx, loc)
	if err != nil {
		return nil, nil, err
	}
	if len(els) == 0 {
		cancel()
		return nil, nil, fmt.Errorf("%s: %w", loc, browser.ErrNoMatch)
	}
	return els.First(), cancel, nil
}

// Count implements browser.Page.
func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	els, cancel, err := p.elements(ctx, loc)
	if err != nil {
		return 0, err
	}
	defer cancel()
	return len(els), nil
}

// Text implements browser.Page.
func (p *Page) Text(ctx context.Context, loc browser.Locator) (string, error) {
	el, cancel, err := p.first(ctx, loc)
	if err != nil {
		return "", err
	}
	defer cancel()
	text, err := el.Text()
	return text, browser.MapTimeout(ctx, err, "text")
}

// Texts implements browser.Page.
func (p *Page) Texts(ctx context.Context, loc browser.Locator) ([]string, error) {
	els, cancel, err := p.elements(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer cancel()
	out := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			return nil, browser.MapTimeout(ctx, err, "text")
		}
		out = append(out, text)
	}
	return out, nil
}

// Attribute implements browser.Page.
func (p *Page) Attribute(ctx context.Context, loc browser.Locator, name string) (string, bool, error) {
	el, cancel, err := p.first(ctx, loc)
	if err != nil {
		return "", false, err
	}
	defer cancel()
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, browser.MapTimeout(ctx, err, "attribute "+name)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Attributes implements browser.Page.
func (p *Page) Attributes(ctx context.Context, loc browser.Locator, name string) ([]string, error) {
	els, cancel, err := p.elements(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer cancel()
	out := make([]string, 0, len(els))
	for _, el := range els {
		v, err := el.Attribute(name)
		if err != nil {
			return nil, browser.MapTimeout(ctx, err, "attribute "+name)
		}
		if v == nil {
			out = append(out, "")
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

// HTML implements browser.Page.
func (p *Page) HTML(ctx context.Context) (string, error) {
	pg, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	html, err := pg.HTML()
	return html, browser.MapTimeout(ctx, err, "html")
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	el, cancel, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	defer cancel()
	return browser.MapTimeout(ctx, el.Click(proto.InputMouseButtonLeft, 1), "click "+loc.String())
}

// Hover implements browser.Page.
func (p *Page) Hover(ctx context.Context, loc browser.Locator) error {
	el, cancel, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	defer cancel()
	return browser.MapTimeout(ctx, el.Hover(), "hover "+loc.String())
}

// Fill implements browser.Page.
func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string) error {
	el, cancel, err := p.first(ctx, loc)
	if err != nil {
		return err
	}
	defer cancel()
	if err := el.SelectAllText(); err != nil {
		return browser.MapTimeout(ctx, err, "select "+loc.String())
	}
	return browser.MapTimeout(ctx, el.Input(value), "fill "+loc.String())
}

// PressKey implements browser.Page.
func (p *Page) PressKey(ctx context.Context, key browser.Key) error {
	k, err := rodKey(key)
	if err != nil {
		return err
	}
	pg, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	return browser.MapTimeout(ctx, pg.Keyboard.Type(k), "press "+string(key))
}

// Screenshot implements browser.Page.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	pg, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	buf, err := pg.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	return buf, browser.MapTimeout(ctx, err, "screenshot")
}

var errUnsupportedKey = errors.New("rod: unsupported key")

func rodKey(key browser.Key) (input.Key, error) {
	switch key {
	case browser.KeyEnd:
		return input.End, nil
	default:
		return 0, fmt.Errorf("%w %q", errUnsupportedKey, key)
	}
}
