package navigate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/conference-crawler/internal/browser"
)

const (
	testListURL = "https://underline.io/events/380/posters/event-1"
	itemsXPath  = "//img[contains(@class,'chakra-image') and @alt]"
	linksXPath  = "//main//a"
)

// fakePage simulates a scroll-loaded list of posters. Each End key press
// renders step more rows, up to ceiling. Clicking row i opens its poster page;
// Back returns to the list.
type fakePage struct {
	mu sync.Mutex

	listURL  string
	items    []string
	loaded   int
	ceiling  int
	step     int
	location string
	index    map[browser.Locator]int

	hidden     map[int]bool // never visible
	deadClicks map[int]bool // click succeeds but stays on the list
	clickErr   map[int]error
	stuckBack  bool

	navigations map[string]int
	arrivals    map[string]int
	clicks      map[int]int
	presses     int
	backs       int
}

func newFakePage(n int) *fakePage {
	p := &fakePage{
		listURL:     testListURL,
		ceiling:     n,
		step:        n,
		index:       make(map[browser.Locator]int),
		hidden:      make(map[int]bool),
		deadClicks:  make(map[int]bool),
		clickErr:    make(map[int]error),
		navigations: make(map[string]int),
		arrivals:    make(map[string]int),
		clicks:      make(map[int]int),
	}
	for i := range n {
		p.items = append(p.items, "https://underline.io/events/380/posters/event-1/poster/"+strconv.Itoa(i+1))
		p.index[browser.XPath(itemsXPath).Nth(i)] = i
	}
	return p
}

func (p *fakePage) list() List {
	return List{
		Name:     "event-1",
		URL:      p.listURL,
		Expected: len(p.items),
		Grace:    0.95,
		Items:    browser.XPath(itemsXPath),
		Links:    browser.XPath(linksXPath),
	}
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations[url]++
	p.location = url
	if url == p.listURL {
		p.loaded = 0
	}
	return nil
}

func (p *fakePage) Reload(ctx context.Context) error {
	return p.Navigate(ctx, p.location)
}

func (p *fakePage) Back(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backs++
	if !p.stuckBack {
		p.location = p.listURL
	}
	return nil
}

func (p *fakePage) Location(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *fakePage) WaitNetworkIdle(_ context.Context, _ time.Duration) error { return nil }

func (p *fakePage) WaitVisible(_ context.Context, loc browser.Locator, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[loc]
	if !ok {
		return nil
	}
	if p.location != p.listURL || i >= p.loaded || p.hidden[i] {
		return fmt.Errorf("wait %s: %w", loc, browser.ErrTimeout)
	}
	return nil
}

func (p *fakePage) Count(_ context.Context, loc browser.Locator) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc != browser.XPath(itemsXPath) || p.location != p.listURL {
		return 0, nil
	}
	return p.loaded, nil
}

func (p *fakePage) Text(context.Context, browser.Locator) (string, error)    { return "", nil }
func (p *fakePage) Texts(context.Context, browser.Locator) ([]string, error) { return nil, nil }
func (p *fakePage) HTML(context.Context) (string, error)                     { return "<html></html>", nil }
func (p *fakePage) Hover(context.Context, browser.Locator) error             { return nil }
func (p *fakePage) Fill(context.Context, browser.Locator, string) error      { return nil }
func (p *fakePage) Screenshot(context.Context) ([]byte, error)               { return []byte("png"), nil }
func (p *fakePage) Attribute(context.Context, browser.Locator, string) (string, bool, error) {
	return "", false, nil
}

func (p *fakePage) Attributes(_ context.Context, loc browser.Locator, name string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc != browser.XPath(linksXPath) || name != "href" || p.location != p.listURL {
		return nil, nil
	}
	out := make([]string, 0, p.loaded)
	for i := range p.loaded {
		out = append(out, "event-1/poster/"+strconv.Itoa(i+1))
	}
	return out, nil
}

func (p *fakePage) Click(_ context.Context, loc browser.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[loc]
	if !ok {
		return nil
	}
	p.clicks[i]++
	if err := p.clickErr[i]; err != nil {
		return err
	}
	if p.location != p.listURL || i >= p.loaded {
		return errors.New("element detached")
	}
	if p.deadClicks[i] {
		return nil
	}
	p.location = p.items[i]
	p.arrivals[p.items[i]]++
	return nil
}

func (p *fakePage) PressKey(_ context.Context, key browser.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presses++
	if key == browser.KeyEnd && p.location == p.listURL {
		p.loaded = min(p.loaded+p.step, p.ceiling)
	}
	return nil
}

func (p *fakePage) arrivalsAt(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.arrivals[url]
}
