package navigate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/browser"
	"github.com/JakeFAU/conference-crawler/internal/metrics"
)

// Convergence decides when a scroll-loaded list has finished loading: two
// consecutive counts separated by a scroll are equal and exceed
// expected*Grace.
type Convergence struct {
	// Settle separates the scroll from the re-count, and precedes the first poll.
	Settle time.Duration
	// Grace tolerates sites that over-report their item count. Must be in (0, 1].
	Grace float64
	// MaxPolls and Budget bound the loop; whichever is hit first ends it.
	MaxPolls int
	Budget   time.Duration
	// IdleTimeout bounds the network-idle wait after convergence.
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

func (c Convergence) withDefaults() Convergence {
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.Grace <= 0 || c.Grace > 1 {
		c.Grace = 0.95
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 400
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Threshold is the minimum stable count accepted for expected items.
func (c Convergence) Threshold(expected int) int {
	if expected <= 0 {
		return 0
	}
	return int(float64(expected) * c.withDefaults().Grace)
}

// Await scrolls page until the number of elements matching loc converges and
// returns that count. It fails with ErrConvergenceTimeout once MaxPolls or
// Budget is exhausted.
func (c Convergence) Await(ctx context.Context, page browser.Page, loc browser.Locator, expected int) (int, error) {
	c = c.withDefaults()
	threshold := c.Threshold(expected)
	logger := c.Logger.With(zap.Stringer("locator", loc), zap.Int("threshold", threshold))
	var deadline time.Time
	if c.Budget > 0 {
		deadline = time.Now().Add(c.Budget)
	}

	if err := sleep(ctx, c.Settle); err != nil {
		return 0, err
	}
	last, polls := 0, 0
	for polls < c.MaxPolls {
		polls++
		before, err := page.Count(ctx, loc)
		if err != nil {
			return last, fmt.Errorf("count %s: %w", loc, err)
		}
		if err := page.PressKey(ctx, browser.KeyEnd); err != nil {
			return last, fmt.Errorf("scroll: %w", err)
		}
		if err := sleep(ctx, c.Settle); err != nil {
			return last, err
		}
		after, err := page.Count(ctx, loc)
		if err != nil {
			return last, fmt.Errorf("count %s: %w", loc, err)
		}
		last = after
		logger.Debug("scroll poll", zap.Int("poll", polls), zap.Int("before", before), zap.Int("after", after))

		if after == before && reached(after, threshold) {
			metrics.ObserveConvergence(polls, true)
			logger.Info("list converged", zap.Int("count", after), zap.Int("polls", polls))
			if err := page.WaitNetworkIdle(ctx, c.IdleTimeout); err != nil && !errors.Is(err, browser.ErrTimeout) {
				return after, err
			}
			return after, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}
	metrics.ObserveConvergence(polls, false)
	return last, fmt.Errorf("%w: %d elements after %d polls, need at least %d",
		ErrConvergenceTimeout, last, polls, max(threshold, 1))
}

// reached reports whether count satisfies threshold. An empty list never does.
func reached(count, threshold int) bool {
	return count > 0 && count >= threshold
}
