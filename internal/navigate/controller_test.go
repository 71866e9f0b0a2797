package navigate

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/conference-crawler/internal/browser"
	"github.com/JakeFAU/conference-crawler/internal/ingest"
	"github.com/JakeFAU/conference-crawler/internal/ledger"
	"github.com/JakeFAU/conference-crawler/internal/record"
	"github.com/JakeFAU/conference-crawler/internal/storage"
	blobmemory "github.com/JakeFAU/conference-crawler/internal/storage/memory"
	"github.com/JakeFAU/conference-crawler/internal/store/memory"
)

type staticLists []List

func (s staticLists) Discover(context.Context, browser.Page) ([]List, error) { return s, nil }

type loginFunc func(ctx context.Context, page browser.Page) error

func (f loginFunc) Login(ctx context.Context, page browser.Page) error { return f(ctx, page) }

// posterExtractor yields one record per item. Failing URLs yield an error;
// a nil error in fail means "block until the context ends".
type posterExtractor struct {
	fail   map[string]error
	before func(Target)
}

func (e posterExtractor) Extract(ctx context.Context, _ browser.Page, target Target) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		if e.before != nil {
			e.before(target)
		}
		if err, ok := e.fail[target.URL]; ok {
			if err == nil {
				<-ctx.Done()
				err = ctx.Err()
			}
			yield(nil, err)
			return
		}
		yield(record.UnderlineRecord{
			URL:        target.URL,
			Title:      "Poster " + target.URL,
			Conference: "AAAI",
			Year:       2023,
			Authors:    "A. Smith, B. Jones",
			Keywords:   []string{"Machine Learning: transformers"},
		}, nil)
	}
}

type failureSink struct {
	mu       sync.Mutex
	failures []ledger.Failure
}

func (s *failureSink) Record(_ context.Context, f ledger.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return nil
}

func (s *failureSink) all() []ledger.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Failure(nil), s.failures...)
}

type harness struct {
	page      *fakePage
	store     *memory.Store
	ledger    *ledger.Ledger
	failures  *failureSink
	artifacts *blobmemory.Store
	extractor posterExtractor
	opts      Options
}

func newHarness(t *testing.T, n int) *harness {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "completed.txt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return &harness{
		page:      newFakePage(n),
		store:     memory.New(),
		ledger:    l,
		failures:  &failureSink{},
		artifacts: blobmemory.New(),
		extractor: posterExtractor{fail: map[string]error{}},
		opts: Options{
			SettleDelay:     -1,
			ClickRetry:      RetryPolicy{MaxAttempts: 3},
			MaxNavAttempts:  3,
			MaxBackAttempts: 4,
			Convergence:     Convergence{MaxPolls: 20},
			RunID:           "run-1",
		},
	}
}

func (h *harness) controller(t *testing.T, ingester Ingester) *Controller {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if ingester == nil {
		ingester = ingest.New(h.store, logger)
	}
	c, err := NewController(h.page,
		Site{Name: "underline", Lists: staticLists{h.page.list()}, Extractor: h.extractor},
		Deps{Ingester: ingester, Progress: h.ledger, Failures: h.failures, Artifacts: h.artifacts},
		h.opts, logger)
	require.NoError(t, err)
	return c
}

func TestRunVisitsEveryItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	c := h.controller(t, nil)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Lists: 1, Completed: 3, Stored: 3}, sum)
	assert.Equal(t, StateDone, c.State())

	assert.Len(t, h.store.Items(), 3)
	assert.Len(t, h.store.Authors(), 2)
	assert.Len(t, h.store.Keywords(), 1)
	assert.Len(t, h.store.AuthorLinks(), 6)
	for _, u := range h.page.items {
		assert.True(t, h.ledger.Has(u), u)
		assert.Equal(t, 1, h.page.arrivalsAt(u))
	}
	assert.Empty(t, h.failures.all())
	assert.Equal(t, testListURL, h.page.location)
}

func TestRunSkipsCompletedItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	require.NoError(t, h.ledger.Mark(h.page.items[1]))

	sum, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, h.page.arrivalsAt(h.page.items[1]))
	assert.Len(t, h.store.Items(), 2)
}

func TestRunResumesWithoutRevisiting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	_, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)

	h.page = newFakePage(3)
	sum, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Skipped)
	assert.Zero(t, sum.Completed)
	for _, u := range h.page.items {
		assert.Zero(t, h.page.arrivalsAt(u))
	}
	assert.Len(t, h.store.Items(), 3)
}

func TestRunRecordsMissingElementOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.page.hidden[1] = true

	sum, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 1, sum.Failed)

	failures := h.failures.all()
	require.Len(t, failures, 1)
	assert.Equal(t, h.page.items[1], failures[0].URL)
	assert.Equal(t, string(StageLocate), failures[0].Stage)
	assert.Equal(t, "run-1", failures[0].RunID)
	assert.Contains(t, failures[0].Error, "element not found")
	assert.NotEmpty(t, failures[0].Screenshot)
	want := storage.Artifact{RunID: "run-1", Stage: string(StageLocate), URL: h.page.items[1], ContentType: storage.PNG}.Key()
	assert.Equal(t, []string{want}, h.artifacts.Keys())
	assert.Equal(t, "memory://"+want, failures[0].Screenshot)

	assert.False(t, h.ledger.Has(h.page.items[1]))
	// Initial open plus one re-home.
	assert.Equal(t, 2, h.page.navigations[testListURL])
}

func TestRunClickThroughIsBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	h.page.deadClicks[0] = true

	sum, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 3, h.page.clicks[0])

	failures := h.failures.all()
	require.Len(t, failures, 1)
	assert.Equal(t, string(StageNavigate), failures[0].Stage)
	assert.Contains(t, failures[0].Error, "item page not reached")
}

func TestRunClickFailureSkipsItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	h.page.clickErr[1] = errors.New("node is detached")

	sum, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 3, h.page.clicks[1])

	failures := h.failures.all()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error, "click failed")
}

func TestRunAbortsWhenListCannotBeRecovered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.page.stuckBack = true

	sum, err := h.controller(t, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrNavigationRecoveryExhausted)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 4, h.page.backs)
	assert.True(t, h.ledger.Has(h.page.items[0]))
	assert.Zero(t, h.page.arrivalsAt(h.page.items[1]))
}

func TestRunExtractionFailureIsNotMarked(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	h.extractor.fail[h.page.items[0]] = errors.New("missing title")

	sum, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	assert.False(t, h.ledger.Has(h.page.items[0]))

	failures := h.failures.all()
	require.Len(t, failures, 1)
	assert.Equal(t, string(StageExtract), failures[0].Stage)
}

func TestRunExtractionTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	h.extractor.fail[h.page.items[0]] = nil
	h.opts.ExtractTimeout = 20 * time.Millisecond

	sum, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	failures := h.failures.all()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error, "extraction timed out")
}

type failingIngester struct{}

func (failingIngester) Ingest(context.Context, record.Record) ingest.Result {
	return ingest.Result{Status: ingest.StatusFailed, Err: ingest.ErrPersistenceFailed}
}

func TestRunIngestionFailureIsNotMarked(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	sum, err := h.controller(t, failingIngester{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Failed)
	assert.Zero(t, h.ledger.Len())
	for _, f := range h.failures.all() {
		assert.Equal(t, string(StageIngest), f.Stage)
	}
}

func TestRunRejectedRecordStillCompletesItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	rejecting := ingesterFunc(func(context.Context, record.Record) ingest.Result {
		return ingest.Result{Status: ingest.StatusRejected, Err: ingest.ErrValidationRejected}
	})

	sum, err := h.controller(t, rejecting).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Lists: 1, Completed: 1, Rejected: 1}, sum)
	assert.True(t, h.ledger.Has(h.page.items[0]))
	require.Len(t, h.failures.all(), 1)
}

type ingesterFunc func(context.Context, record.Record) ingest.Result

func (f ingesterFunc) Ingest(ctx context.Context, rec record.Record) ingest.Result { return f(ctx, rec) }

func TestRunLoginFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	c, err := NewController(h.page,
		Site{
			Login:     loginFunc(func(context.Context, browser.Page) error { return errors.New("bad credentials") }),
			Lists:     staticLists{h.page.list()},
			Extractor: h.extractor,
		},
		Deps{Ingester: ingest.New(h.store, nil), Progress: h.ledger},
		h.opts, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
	assert.Equal(t, StateAuthenticating, c.State())
	assert.Zero(t, h.page.navigations[testListURL])
}

func TestRunStopsBetweenItemsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := h.page.items[0]
	h.extractor.before = func(target Target) {
		if target.URL == first {
			cancel()
		}
	}

	_, err := h.controller(t, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.store.Items())
	assert.Zero(t, h.ledger.Len())
	assert.Zero(t, h.page.arrivalsAt(h.page.items[1]))
}

func TestListConvergenceFailureSkipsList(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	h.page.ceiling = 0

	sum, err := h.controller(t, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Lists)
	assert.Equal(t, 1, sum.Failed)
	failures := h.failures.all()
	require.Len(t, failures, 1)
	assert.Equal(t, string(StageList), failures[0].Stage)
	assert.Contains(t, failures[0].Error, "did not converge")
}

func TestNewControllerValidates(t *testing.T) {
	t.Parallel()

	page := newFakePage(1)
	_, err := NewController(nil, Site{}, Deps{}, Options{}, nil)
	require.Error(t, err)
	_, err = NewController(page, Site{Lists: staticLists{}}, Deps{}, Options{}, nil)
	require.Error(t, err)
	_, err = NewController(page, Site{Lists: staticLists{}, Extractor: posterExtractor{}}, Deps{}, Options{}, nil)
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "at_list_page", StateAtListPage.String())
	assert.Equal(t, "recovering", StateRecovering.String())
	assert.Equal(t, "state(42)", State(42).String())
}
