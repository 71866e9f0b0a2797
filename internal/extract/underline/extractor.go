// Package underline holds the extraction rules for conference portals hosted
// on underline.io: login, poster-hall discovery and the poster page itself.
package underline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/browser"
	"github.com/JakeFAU/conference-crawler/internal/navigate"
	"github.com/JakeFAU/conference-crawler/internal/record"
)

var abstractTab = browser.XPath("//button[normalize-space(.)='Abstract']")

// Extractor reads one record from a poster or session page.
type Extractor struct {
	Conference string
	Year       int
	// TabPause separates hovering, clicking and reading the abstract tab.
	TabPause    time.Duration
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

// Extract implements navigate.Extractor.
func (e Extractor) Extract(ctx context.Context, page browser.Page, target navigate.Target) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		rec, err := e.extract(ctx, page, target)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(rec, nil)
	}
}

func (e Extractor) extract(ctx context.Context, page browser.Page, target navigate.Target) (record.Record, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	here, err := page.Location(ctx)
	if err != nil {
		return nil, err
	}
	opened, err := e.openAbstract(ctx, page)
	if err != nil {
		return nil, err
	}
	if !opened {
		logger.Warn("no abstract tab", zap.String("url", target.URL))
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	p, err := parsePoster(html, here)
	if err != nil {
		return nil, err
	}
	if !opened {
		p.Abstract = ""
	}

	itemType := "poster"
	if target.List == SessionsList {
		itemType = "session"
	}
	return record.UnderlineRecord{
		URL:        target.URL,
		Title:      p.Title,
		Conference: e.Conference,
		Year:       e.Year,
		ItemType:   itemType,
		Authors:    p.Authors,
		Abstract:   p.Abstract,
		PaperURL:   p.PaperURL,
		SlidesURL:  p.SlidesURL,
	}, nil
}

func (e Extractor) openAbstract(ctx context.Context, page browser.Page) (bool, error) {
	n, err := page.Count(ctx, abstractTab)
	if err != nil {
		return false, fmt.Errorf("find abstract tab: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	tab := abstractTab.Nth(0)
	if err := page.Hover(ctx, tab); err != nil {
		return false, fmt.Errorf("hover abstract tab: %w", err)
	}
	if err := pause(ctx, e.TabPause); err != nil {
		return false, err
	}
	if err := page.Click(ctx, tab); err != nil {
		return false, fmt.Errorf("open abstract tab: %w", err)
	}
	if err := pause(ctx, e.TabPause); err != nil {
		return false, err
	}
	if err := page.WaitNetworkIdle(ctx, e.IdleTimeout); err != nil && !errors.Is(err, browser.ErrTimeout) {
		return false, err
	}
	return true, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
