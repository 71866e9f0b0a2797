// Package browser defines the page-automation surface the crawler drives.
// Drivers live in subpackages: headless (chromedp) and rod (go-rod).
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when a wait primitive exceeds its timeout.
	ErrTimeout = errors.New("browser: wait timed out")
	// ErrNoMatch is returned when a locator matches nothing.
	ErrNoMatch = errors.New("browser: locator matched no element")
)

// Locator is an XPath expression selecting an ordered set of elements.
type Locator string

// XPath builds a Locator.
func XPath(expr string) Locator { return Locator(strings.TrimSpace(expr)) }

// Nth selects the i-th (zero-based) match of l in document order.
func (l Locator) Nth(i int) Locator {
	return Locator(fmt.Sprintf("(%s)[%d]", string(l), i+1))
}

func (l Locator) String() string { return string(l) }

// Key names a keyboard key.
type Key string

// KeyEnd scrolls to the bottom of a document.
const KeyEnd Key = "End"

// Page is one browser tab. Every wait has an explicit timeout and returns an
// error wrapping ErrTimeout when it expires.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	Location(ctx context.Context) (string, error)

	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error

	// Count returns the number of current matches without waiting.
	Count(ctx context.Context, loc Locator) (int, error)
	// Text returns the text of the first match.
	Text(ctx context.Context, loc Locator) (string, error)
	// Texts returns the text of every match in document order.
	Texts(ctx context.Context, loc Locator) ([]string, error)
	// Attribute returns an attribute of the first match.
	Attribute(ctx context.Context, loc Locator, name string) (string, bool, error)
	// Attributes returns an attribute of every match; missing values are "".
	Attributes(ctx context.Context, loc Locator, name string) ([]string, error)
	HTML(ctx context.Context) (string, error)

	Click(ctx context.Context, loc Locator) error
	Hover(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, value string) error
	PressKey(ctx context.Context, key Key) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Browser opens pages sharing one session (cookies, storage).
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Config controls a browser driver.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	// IdleQuiet is how long the network must stay silent to count as idle.
	IdleQuiet time.Duration
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.IdleQuiet <= 0 {
		c.IdleQuiet = 500 * time.Millisecond
	}
	return c
}

// WithTimeout derives a context for one wait. When the wait expires (and the
// caller's context has not) the error is mapped to ErrTimeout by MapTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// MapTimeout converts a deadline error raised by a wait into ErrTimeout,
// leaving cancellation of the parent context untouched.
func MapTimeout(parent context.Context, err error, what string) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", what, err)
}
