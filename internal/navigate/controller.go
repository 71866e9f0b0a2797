package navigate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/browser"
	"github.com/JakeFAU/conference-crawler/internal/ingest"
	"github.com/JakeFAU/conference-crawler/internal/ledger"
	"github.com/JakeFAU/conference-crawler/internal/metrics"
	"github.com/JakeFAU/conference-crawler/internal/record"
	"github.com/JakeFAU/conference-crawler/internal/storage"
)

// State is a NavigationController state.
type State int

const (
	StateLoggedOut State = iota
	StateAuthenticating
	StateAtListPage
	StateAtItemPage
	StateExtracting
	StateRecovering
	StateDone
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateAuthenticating:
		return "authenticating"
	case StateAtListPage:
		return "at_list_page"
	case StateAtItemPage:
		return "at_item_page"
	case StateExtracting:
		return "extracting"
	case StateRecovering:
		return "recovering"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// List is one scroll-loaded page of items.
type List struct {
	Name string
	URL  string
	// Expected is the item count the site advertises for this list.
	Expected int
	// Grace overrides Convergence.Grace when set.
	Grace float64
	// Items matches the clickable element of every item, in page order.
	Items browser.Locator
	// Links matches the anchors carrying each item's href, aligned with Items.
	Links browser.Locator
	// Prepare, when set, is clicked before scrolling so key presses reach the list.
	Prepare browser.Locator
}

// Target is one item to visit.
type Target struct {
	URL   string
	List  string
	Index int
}

// Authenticator logs the session in.
type Authenticator interface {
	Login(ctx context.Context, page browser.Page) error
}

// ListSource discovers the lists to crawl, starting from the logged-in page.
type ListSource interface {
	Discover(ctx context.Context, page browser.Page) ([]List, error)
}

// Extractor turns a settled item page into records. The sequence is finite and
// single-use.
type Extractor interface {
	Extract(ctx context.Context, page browser.Page, target Target) iter.Seq2[record.Record, error]
}

// Site bundles the site-specific collaborators.
type Site struct {
	Name      string
	Login     Authenticator
	Lists     ListSource
	Extractor Extractor
}

// Ingester persists one record.
type Ingester interface {
	Ingest(ctx context.Context, rec record.Record) ingest.Result
}

// Progress is the completed-item ledger.
type Progress interface {
	Has(url string) bool
	Mark(url string) error
}

// FailureRecorder keeps skipped and failed items for later reprocessing.
type FailureRecorder interface {
	Record(ctx context.Context, f ledger.Failure) error
}

// Pacer spaces out navigations.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Deps are the run-time collaborators of a Controller.
type Deps struct {
	Ingester  Ingester
	Progress  Progress
	Failures  FailureRecorder
	Artifacts storage.Store
	Pacer     Pacer
}

// Options tune waits and retry bounds.
type Options struct {
	// SettleDelay follows every network-idle wait. Negative disables it.
	SettleDelay     time.Duration
	IdleTimeout     time.Duration
	ElementTimeout  time.Duration
	ClickRetry      RetryPolicy
	MaxNavAttempts  int
	MaxBackAttempts int
	ExtractTimeout  time.Duration
	Convergence     Convergence
	RunID           string
}

func (o Options) withDefaults() Options {
	if o.SettleDelay == 0 {
		o.SettleDelay = 3 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = 20 * time.Second
	}
	if o.ClickRetry.MaxAttempts <= 0 {
		o.ClickRetry = DefaultClickRetry
	}
	if o.MaxNavAttempts <= 0 {
		o.MaxNavAttempts = 20
	}
	if o.MaxBackAttempts <= 0 {
		o.MaxBackAttempts = 20
	}
	if o.ExtractTimeout <= 0 {
		o.ExtractTimeout = 90 * time.Second
	}
	return o
}

// Summary counts what a run did.
type Summary struct {
	Lists     int
	Completed int
	Skipped   int
	Failed    int
	Stored    int
	Rejected  int
}

// Controller walks one browser page through a Site.
type Controller struct {
	page   browser.Page
	site   Site
	deps   Deps
	opts   Options
	logger *zap.Logger
	state  State
}

// NewController wires a controller. Failures, Artifacts and Pacer are optional.
func NewController(page browser.Page, site Site, deps Deps, opts Options, logger *zap.Logger) (*Controller, error) {
	switch {
	case page == nil:
		return nil, errors.New("navigate: page is required")
	case site.Lists == nil:
		return nil, errors.New("navigate: list source is required")
	case site.Extractor == nil:
		return nil, errors.New("navigate: extractor is required")
	case deps.Ingester == nil:
		return nil, errors.New("navigate: ingester is required")
	case deps.Progress == nil:
		return nil, errors.New("navigate: progress ledger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	if opts.Convergence.Logger == nil {
		opts.Convergence.Logger = logger.Named("convergence")
	}
	return &Controller{
		page:   page,
		site:   site,
		deps:   deps,
		opts:   opts,
		logger: logger.With(zap.String("site", site.Name)),
		state:  StateLoggedOut,
	}, nil
}

// State reports the current state.
func (c *Controller) State() State { return c.state }

func (c *Controller) transition(to State) {
	if c.state == to {
		return
	}
	c.logger.Debug("state transition", zap.Stringer("from", c.state), zap.Stringer("to", to))
	c.state = to
}

// Run logs in, discovers lists and visits every item not yet in the ledger.
// Per-item failures are recorded and skipped; the returned error is either a
// context error, a login/discovery failure or ErrNavigationRecoveryExhausted.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if c.site.Login != nil {
		c.transition(StateAuthenticating)
		c.logger.Info("logging in")
		if err := c.site.Login.Login(ctx, c.page); err != nil {
			return sum, fmt.Errorf("login: %w", err)
		}
	}
	lists, err := c.site.Lists.Discover(ctx, c.page)
	if err != nil {
		return sum, fmt.Errorf("discover lists: %w", err)
	}
	c.logger.Info("lists discovered", zap.Int("lists", len(lists)))

	for _, list := range lists {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		err := c.runList(ctx, list, &sum)
		var ie *ItemError
		switch {
		case err == nil:
			sum.Lists++
		case errors.As(err, &ie):
			c.fail(ctx, ie, &sum)
		default:
			return sum, err
		}
	}
	c.transition(StateDone)
	c.logger.Info("crawl finished",
		zap.Int("lists", sum.Lists),
		zap.Int("completed", sum.Completed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (c *Controller) runList(ctx context.Context, list List, sum *Summary) error {
	logger := c.logger.With(zap.String("list", list.Name))
	conv := c.opts.Convergence
	if list.Grace > 0 {
		conv.Grace = list.Grace
	}
	listTarget := Target{URL: list.URL, List: list.Name}

	if err := c.pace(ctx, list.URL); err != nil {
		return err
	}
	if err := c.page.Navigate(ctx, list.URL); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return itemErr(listTarget, StageList, err)
	}
	if err := c.settle(ctx); err != nil {
		return err
	}
	if _, err := c.converge(ctx, list, conv); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return itemErr(listTarget, StageList, err)
	}
	listURL, err := c.location(ctx)
	if err != nil {
		return itemErr(listTarget, StageList, err)
	}
	c.transition(StateAtListPage)

	targets, err := c.collect(ctx, list, listURL)
	if err != nil {
		return itemErr(listTarget, StageList, err)
	}
	logger.Info("list loaded", zap.String("list_url", listURL), zap.Int("items", len(targets)))

	locator := &ElementLocator{
		Page:       c.page,
		Timeout:    c.opts.ElementTimeout,
		ClickRetry: c.opts.ClickRetry,
		Logger:     logger,
		Rehome: func(ctx context.Context) error {
			if err := c.page.Navigate(ctx, listURL); err != nil {
				return err
			}
			if err := c.settle(ctx); err != nil {
				return err
			}
			_, err := c.converge(ctx, list, conv)
			return err
		},
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.deps.Progress.Has(target.URL) {
			logger.Debug("already completed, skipping", zap.String("url", target.URL))
			sum.Skipped++
			metrics.ObserveItem(target.URL, "skipped")
			continue
		}

		err := c.visit(ctx, list, conv, locator, target, sum)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var ie *ItemError
		switch {
		case err == nil:
			sum.Completed++
			metrics.ObserveItem(target.URL, "completed")
		case errors.As(err, &ie):
			c.fail(ctx, ie, sum)
		default:
			return err
		}

		if err := c.returnTo(ctx, listURL); err != nil {
			return err
		}
	}
	return nil
}

// collect zips the list's link hrefs with its item elements. An item without
// an href keeps its index but is not visited.
func (c *Controller) collect(ctx context.Context, list List, listURL string) ([]Target, error) {
	count, err := c.page.Count(ctx, list.Items)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	hrefs, err := c.page.Attributes(ctx, list.Links, "href")
	if err != nil {
		return nil, fmt.Errorf("read links: %w", err)
	}
	if count != len(hrefs) {
		c.logger.Warn("item and link counts differ",
			zap.String("list", list.Name), zap.Int("items", count), zap.Int("links", len(hrefs)))
	}
	base, err := url.Parse(listURL)
	if err != nil {
		return nil, fmt.Errorf("parse list url: %w", err)
	}
	n := min(count, len(hrefs))
	targets := make([]Target, 0, n)
	for i := range n {
		if hrefs[i] == "" {
			continue
		}
		ref, err := url.Parse(hrefs[i])
		if err != nil {
			c.logger.Warn("bad item href", zap.String("href", hrefs[i]), zap.Error(err))
			continue
		}
		canonical, err := ledger.Canonicalize(base.ResolveReference(ref).String())
		if err != nil {
			continue
		}
		targets = append(targets, Target{URL: canonical, List: list.Name, Index: i})
	}
	return targets, nil
}

func (c *Controller) visit(ctx context.Context, list List, conv Convergence, locator *ElementLocator, target Target, sum *Summary) error {
	logger := c.logger.With(zap.String("list", list.Name), zap.String("url", target.URL), zap.Int("index", target.Index))
	if err := c.pace(ctx, target.URL); err != nil {
		return err
	}
	// Going back can drop lazily loaded rows.
	if _, err := c.converge(ctx, list, conv); err != nil {
		return itemErr(target, StageConverge, err)
	}
	loc, err := locator.Resolve(ctx, list.Items, target.Index)
	if err != nil {
		return itemErr(target, StageLocate, err)
	}

	for attempt := 0; ; attempt++ {
		here, err := c.location(ctx)
		if err != nil {
			return itemErr(target, StageNavigate, err)
		}
		if here == target.URL {
			break
		}
		if attempt >= c.opts.MaxNavAttempts {
			return itemErr(target, StageNavigate,
				fmt.Errorf("%w: still at %s after %d clicks", ErrNavigationFailed, here, attempt))
		}
		if attempt > 0 {
			metrics.ObserveRetry("click_through")
			logger.Warn("page url differs from item url", zap.String("at", here), zap.Int("attempt", attempt))
		}
		if err := locator.Click(ctx, loc); err != nil {
			return itemErr(target, StageNavigate, err)
		}
		if err := c.settle(ctx); err != nil {
			return err
		}
	}
	c.transition(StateAtItemPage)

	c.transition(StateExtracting)
	if err := c.extract(ctx, target, logger, sum); err != nil {
		return err
	}
	if err := c.deps.Progress.Mark(target.URL); err != nil {
		return fmt.Errorf("mark completed %s: %w", target.URL, err)
	}
	logger.Info("item completed")
	return nil
}

func (c *Controller) extract(ctx context.Context, target Target, logger *zap.Logger, sum *Summary) error {
	ectx, cancel := context.WithTimeout(ctx, c.opts.ExtractTimeout)
	defer cancel()

	for rec, err := range c.site.Extractor.Extract(ectx, c.page, target) {
		if err != nil {
			if ctx.Err() == nil && errors.Is(ectx.Err(), context.DeadlineExceeded) {
				return itemErr(target, StageExtract, fmt.Errorf("%w: %w", ErrExtractionTimeout, err))
			}
			return itemErr(target, StageExtract, err)
		}
		res := c.deps.Ingester.Ingest(ctx, rec)
		switch res.Status {
		case ingest.StatusStored:
			sum.Stored++
		case ingest.StatusRejected:
			sum.Rejected++
			logger.Warn("record rejected", zap.Error(res.Err))
			c.record(ctx, ledger.Failure{URL: target.URL, List: target.List, Stage: string(StageIngest), Error: res.Err.Error()})
		default:
			return itemErr(target, StageIngest, res.Err)
		}
	}
	if ctx.Err() == nil && errors.Is(ectx.Err(), context.DeadlineExceeded) {
		return itemErr(target, StageExtract, ErrExtractionTimeout)
	}
	return nil
}

// returnTo goes back until the page is at listURL. Exceeding MaxBackAttempts
// is fatal.
func (c *Controller) returnTo(ctx context.Context, listURL string) error {
	for attempt := 0; ; attempt++ {
		here, err := c.location(ctx)
		if err == nil && here == listURL {
			c.transition(StateAtListPage)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= c.opts.MaxBackAttempts {
			return fmt.Errorf("%w: at %s, want %s after %d attempts",
				ErrNavigationRecoveryExhausted, here, listURL, attempt)
		}
		c.transition(StateRecovering)
		if attempt > 0 {
			metrics.ObserveRetry("back")
		}
		c.logger.Debug("going back to list", zap.String("at", here), zap.String("list_url", listURL), zap.Int("attempt", attempt))
		if err := c.page.Back(ctx); err != nil {
			c.logger.Warn("back navigation failed", zap.Error(err))
		}
		if err := c.settle(ctx); err != nil {
			return err
		}
	}
}

func (c *Controller) converge(ctx context.Context, list List, conv Convergence) (int, error) {
	if list.Prepare != "" {
		if err := c.page.WaitVisible(ctx, list.Prepare, c.opts.ElementTimeout); err != nil {
			return 0, fmt.Errorf("prepare: %w", err)
		}
		if err := c.page.Click(ctx, list.Prepare); err != nil {
			return 0, fmt.Errorf("prepare: %w", err)
		}
	}
	return conv.Await(ctx, c.page, list.Items, list.Expected)
}

// settle waits for network idle, then SettleDelay. An idle timeout is not an
// error.
func (c *Controller) settle(ctx context.Context) error {
	if err := c.page.WaitNetworkIdle(ctx, c.opts.IdleTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Debug("network not idle", zap.Error(err))
	}
	return sleep(ctx, c.opts.SettleDelay)
}

func (c *Controller) location(ctx context.Context) (string, error) {
	raw, err := c.page.Location(ctx)
	if err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	canonical, err := ledger.Canonicalize(raw)
	if err != nil {
		return raw, nil
	}
	return canonical, nil
}

func (c *Controller) pace(ctx context.Context, rawURL string) error {
	if c.deps.Pacer == nil {
		return nil
	}
	return c.deps.Pacer.Wait(ctx, rawURL)
}

func (c *Controller) fail(ctx context.Context, ie *ItemError, sum *Summary) {
	sum.Failed++
	metrics.ObserveItem(ie.URL, "failed")
	c.logger.Warn("item skipped",
		zap.String("url", ie.URL),
		zap.String("list", ie.List),
		zap.String("stage", string(ie.Stage)),
		zap.Error(ie.Err),
	)
	c.record(ctx, ledger.Failure{
		URL:        ie.URL,
		List:       ie.List,
		Stage:      string(ie.Stage),
		Error:      ie.Err.Error(),
		Screenshot: c.capture(ctx, ie.Stage, ie.URL),
	})
}

func (c *Controller) record(ctx context.Context, f ledger.Failure) {
	if c.deps.Failures == nil {
		return
	}
	f.RunID = c.opts.RunID
	if err := c.deps.Failures.Record(ctx, f); err != nil {
		c.logger.Error("failed to write failure log", zap.String("url", f.URL), zap.Error(err))
	}
}

func (c *Controller) capture(ctx context.Context, stage Stage, itemURL string) string {
	if c.deps.Artifacts == nil {
		return ""
	}
	png, err := c.page.Screenshot(ctx)
	if err != nil {
		c.logger.Warn("screenshot failed", zap.Error(err))
		return ""
	}
	uri, err := c.deps.Artifacts.Save(ctx, storage.Artifact{
		RunID:       c.opts.RunID,
		Stage:       string(stage),
		URL:         itemURL,
		ContentType: storage.PNG,
		Data:        png,
	})
	if err != nil {
		c.logger.Warn("screenshot upload failed", zap.Error(err))
		return ""
	}
	return uri
}
