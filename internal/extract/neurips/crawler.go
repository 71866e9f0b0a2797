// Package neurips crawls the static NeurIPS virtual-conference site with
// Colly. Search-result pages are paged through; every result page is turned
// into a record and ingested.
package neurips

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/ingest"
	"github.com/JakeFAU/conference-crawler/internal/ledger"
	"github.com/JakeFAU/conference-crawler/internal/metrics"
	"github.com/JakeFAU/conference-crawler/internal/navigate"
	"github.com/JakeFAU/conference-crawler/internal/record"
)

const (
	resultLinks = "//tr[contains(@class,'search_result_tr')]/td[3]/a"
	nextPage    = "//div[@class='pager']/span/a[3]"
	cardHeader  = "//div[@class='card-header']"
)

// Config holds crawl parameters.
type Config struct {
	StartURL string
	// AllowedDomains restricts the crawl; empty means the start URL's host.
	AllowedDomains []string
	UserAgent      string
	// Delay spaces requests to the site.
	Delay      time.Duration
	Conference string
	Year       int
	// BatchSize is how many result pages are buffered before they are
	// ingested together; values below 2 ingest each page on its own.
	BatchSize int
}

// Ingester persists records, returning one result per record in input order.
type Ingester interface {
	IngestAll(ctx context.Context, recs []record.Record) []ingest.Result
}

// Summary counts what a crawl did.
type Summary struct {
	Pages     int
	Completed int
	Skipped   int
	Failed    int
	Rejected  int
}

// Crawler visits search results and ingests each result page.
type Crawler struct {
	config   Config
	logger   *zap.Logger
	ingester Ingester
	progress navigate.Progress
	failures navigate.FailureRecorder

	mu  sync.Mutex
	sum Summary

	pendingMu sync.Mutex
	pending   []record.NeurIPSRecord
}

// New builds a crawler. failures may be nil.
func New(config Config, logger *zap.Logger, ingester Ingester, progress navigate.Progress, failures navigate.FailureRecorder) (*Crawler, error) {
	if config.StartURL == "" {
		return nil, errors.New("neurips: start url is required")
	}
	if ingester == nil || progress == nil {
		return nil, errors.New("neurips: ingester and progress are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{config: config, logger: logger, ingester: ingester, progress: progress, failures: failures}, nil
}

// Run crawls from the start URL until no links remain or ctx is done.
func (c *Crawler) Run(ctx context.Context) (Summary, error) {
	collector, err := c.initCollector(ctx)
	if err != nil {
		return Summary{}, err
	}
	if err := collector.Visit(c.config.StartURL); err != nil {
		return Summary{}, fmt.Errorf("visit %s: %w", c.config.StartURL, err)
	}
	collector.Wait()
	// Pages already fetched are stored even when the crawl was interrupted.
	c.flush(context.WithoutCancel(ctx), c.drain())

	c.mu.Lock()
	sum := c.sum
	c.mu.Unlock()
	c.logger.Info("crawl finished",
		zap.Int("pages", sum.Pages),
		zap.Int("completed", sum.Completed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum, ctx.Err()
}

func (c *Crawler) initCollector(ctx context.Context) (*colly.Collector, error) {
	start, err := url.Parse(c.config.StartURL)
	if err != nil {
		return nil, fmt.Errorf("parse start url: %w", err)
	}
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.StdlibContext(ctx),
	}
	if c.config.UserAgent != "" {
		opts = append(opts, colly.UserAgent(c.config.UserAgent))
	}
	if len(c.config.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(c.config.AllowedDomains...))
	} else {
		opts = append(opts, colly.URLFilters(regexp.MustCompile("^"+regexp.QuoteMeta(start.Scheme+"://"+start.Host))))
	}
	collector := colly.NewCollector(opts...)
	collector.AllowURLRevisit = false

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       c.config.Delay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	collector.OnXML(resultLinks, c.handleResult)
	collector.OnXML(nextPage, c.handleNext)
	collector.OnXML("/html", c.handlePage(ctx))
	collector.OnError(c.handleError(ctx))
	return collector, nil
}

func (c *Crawler) handleResult(e *colly.XMLElement) {
	target := e.Request.AbsoluteURL(e.Attr("href"))
	if target == "" {
		return
	}
	if c.progress.Has(ledger.MustCanonicalize(target)) {
		c.count(func(s *Summary) { s.Skipped++ })
		metrics.ObserveItem(target, "skipped")
		return
	}
	if err := e.Request.Visit(target); err != nil && !alreadyVisited(err) {
		c.logger.Warn("failed to visit result", zap.String("url", target), zap.Error(err))
	}
}

func (c *Crawler) handleNext(e *colly.XMLElement) {
	next := e.Request.AbsoluteURL(e.Attr("href"))
	if next == "" {
		return
	}
	if err := e.Request.Visit(next); err != nil && !alreadyVisited(err) {
		c.logger.Warn("failed to visit next page", zap.String("url", next), zap.Error(err))
	}
}

func alreadyVisited(err error) bool {
	var visited *colly.AlreadyVisitedError
	return errors.As(err, &visited)
}

func (c *Crawler) handlePage(ctx context.Context) colly.XMLCallback {
	return func(e *colly.XMLElement) {
		c.count(func(s *Summary) { s.Pages++ })
		title := strings.TrimSpace(e.ChildText(cardHeader + "/h2[contains(@class,'card-title')]"))
		if title == "" {
			return
		}
		pageURL := ledger.MustCanonicalize(e.Request.URL.String())
		if batch := c.buffer(c.extract(e, pageURL, title)); batch != nil {
			c.flush(ctx, batch)
		}
	}
}

// buffer queues rec and returns the queued batch once it is full.
func (c *Crawler) buffer(rec record.NeurIPSRecord) []record.NeurIPSRecord {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = append(c.pending, rec)
	if len(c.pending) < max(c.config.BatchSize, 1) {
		return nil
	}
	batch := c.pending
	c.pending = nil
	return batch
}

func (c *Crawler) drain() []record.NeurIPSRecord {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	batch := c.pending
	c.pending = nil
	return batch
}

func (c *Crawler) flush(ctx context.Context, batch []record.NeurIPSRecord) {
	if len(batch) == 0 {
		return
	}
	recs := make([]record.Record, len(batch))
	for i, rec := range batch {
		recs[i] = rec
	}
	for i, res := range c.ingester.IngestAll(ctx, recs) {
		c.settle(ctx, batch[i].URL, res)
	}
}

func (c *Crawler) settle(ctx context.Context, pageURL string, res ingest.Result) {
	logger := c.logger.With(zap.String("url", pageURL))
	switch res.Status {
	case ingest.StatusStored:
	case ingest.StatusRejected:
		c.count(func(s *Summary) { s.Rejected++ })
		c.record(ctx, ledger.Failure{URL: pageURL, Stage: "ingest", Error: res.Err.Error()})
	default:
		c.count(func(s *Summary) { s.Failed++ })
		metrics.ObserveItem(pageURL, "failed")
		c.record(ctx, ledger.Failure{URL: pageURL, Stage: "ingest", Error: res.Err.Error()})
		return
	}
	if err := c.progress.Mark(pageURL); err != nil {
		logger.Error("failed to mark completed", zap.Error(err))
		return
	}
	c.count(func(s *Summary) { s.Completed++ })
	metrics.ObserveItem(pageURL, "completed")
	logger.Info("item completed")
}

func (c *Crawler) extract(e *colly.XMLElement, pageURL, title string) record.NeurIPSRecord {
	var authors []string
	for _, line := range e.ChildTexts(cardHeader + "/h3[contains(@class,'card-subtitle')]") {
		authors = append(authors, record.SplitAuthors(line)...)
	}
	var abstract []string
	for _, p := range e.ChildTexts("//div[@id='abstractExample']/p") {
		if p = strings.TrimSpace(p); p != "" {
			abstract = append(abstract, p)
		}
	}
	abs := func(xpath string) string {
		href := strings.TrimSpace(e.ChildAttr(xpath, "href"))
		if href == "" {
			return ""
		}
		return e.Request.AbsoluteURL(href)
	}
	return record.NeurIPSRecord{
		URL:           pageURL,
		Title:         title,
		Conference:    c.config.Conference,
		Year:          c.config.Year,
		ItemType:      strings.TrimSpace(e.ChildText(cardHeader + "/h3[1]")),
		Authors:       authors,
		Keywords:      e.ChildTexts(cardHeader + "/p/a"),
		Abstract:      strings.Join(abstract, " "),
		PosterURL:     abs("//a[contains(@class,'href_Poster')]"),
		SlidesURL:     abs("//a[contains(@class,'href_PDF') and contains(@title,'Slides')]"),
		PaperURL:      abs("//a[contains(@class,'href_PDF') and contains(@title,'Paper')]"),
		OpenReviewURL: abs("//a[contains(@class,'href_URL') and contains(@title,'OpenReview')]"),
	}
}

func (c *Crawler) handleError(ctx context.Context) func(*colly.Response, error) {
	return func(r *colly.Response, err error) {
		msg := "Request failed"
		switch r.StatusCode {
		case 429:
			msg = "Rate limited"
		case 403:
			msg = "Forbidden"
		}
		target := r.Request.URL.String()
		c.logger.Error(msg,
			zap.String("url", target),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
		c.count(func(s *Summary) { s.Failed++ })
		c.record(ctx, ledger.Failure{URL: target, Stage: "fetch", Error: err.Error()})
	}
}

func (c *Crawler) record(ctx context.Context, f ledger.Failure) {
	if c.failures == nil {
		return
	}
	if err := c.failures.Record(ctx, f); err != nil {
		c.logger.Error("failed to write failure log", zap.String("url", f.URL), zap.Error(err))
	}
}

func (c *Crawler) count(fn func(*Summary)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.sum)
}
