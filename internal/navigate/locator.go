package navigate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/browser"
	"github.com/JakeFAU/conference-crawler/internal/metrics"
)

// ElementLocator resolves indexed elements on the current list page.
type ElementLocator struct {
	Page browser.Page
	// Timeout bounds each wait for visibility.
	Timeout    time.Duration
	ClickRetry RetryPolicy
	// Rehome reloads the known list page and re-converges it. It runs at most
	// once per Resolve.
	Rehome func(ctx context.Context) error
	Logger *zap.Logger
}

func (l *ElementLocator) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Resolve waits for the i-th (zero-based) match of loc and returns a locator
// pinned to it.
func (l *ElementLocator) Resolve(ctx context.Context, loc browser.Locator, i int) (browser.Locator, error) {
	target := loc.Nth(i)
	err := l.Page.WaitVisible(ctx, target, l.Timeout)
	if err == nil {
		return target, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if l.Rehome == nil {
		return "", fmt.Errorf("%w: %s: %w", ErrLocatorNotFound, target, err)
	}

	l.logger().Warn("element not visible, re-homing list", zap.Stringer("locator", target), zap.Error(err))
	metrics.ObserveRetry("rehome")
	if rerr := l.Rehome(ctx); rerr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %s: rehome: %w", ErrLocatorNotFound, target, rerr)
	}
	if err := l.Page.WaitVisible(ctx, target, l.Timeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %s: %w", ErrLocatorNotFound, target, err)
	}
	return target, nil
}

// Click clicks loc under ClickRetry.
func (l *ElementLocator) Click(ctx context.Context, loc browser.Locator) error {
	err := l.ClickRetry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			metrics.ObserveRetry("click")
			l.logger().Debug("retrying click", zap.Stringer("locator", loc), zap.Int("attempt", attempt))
		}
		return l.Page.Click(ctx, loc)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %w", ErrClickFailed, loc, err)
	}
	return nil
}
