package underline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/browser"
	"github.com/JakeFAU/conference-crawler/internal/navigate"
)

// SessionsList names the optional sessions list.
const SessionsList = "sessions"

var (
	eventButtons   = browser.XPath("//a[contains(@class,'chakra-button')]")
	posterItems    = browser.XPath("//img[contains(@class,'chakra-image') and @alt]")
	posterLinks    = browser.XPath("//main//a")
	sessionLinks   = browser.XPath("//main/div/div[2]//a[not(@target='blank') and not(@target='_blank')]")
	sessionPrepare = browser.XPath("//main/div/div[2]/div[2]")
)

// Lists discovers one list per poster event, plus the sessions list when
// SessionsURL is set.
type Lists struct {
	PostersURL string
	// PosterGrace tolerates events whose button over-reports the poster count.
	PosterGrace float64

	SessionsURL      string
	SessionsExpected int
	SessionsGrace    float64

	Convergence navigate.Convergence
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

// Discover opens the poster hall and reads its event buttons.
func (l Lists) Discover(ctx context.Context, page browser.Page) ([]navigate.List, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if l.PostersURL == "" {
		return nil, errors.New("underline: posters url is required")
	}
	if err := page.Navigate(ctx, l.PostersURL); err != nil {
		return nil, fmt.Errorf("open poster hall: %w", err)
	}
	if err := page.WaitNetworkIdle(ctx, l.IdleTimeout); err != nil && !errors.Is(err, browser.ErrTimeout) {
		return nil, err
	}
	if _, err := l.Convergence.Await(ctx, page, eventButtons, 0); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	here, err := page.Location(ctx)
	if err != nil {
		return nil, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read poster hall: %w", err)
	}
	events, err := parseEvents(html, here)
	if err != nil {
		return nil, err
	}

	lists := make([]navigate.List, 0, len(events)+1)
	for _, ev := range events {
		lists = append(lists, navigate.List{
			Name:     ev.Name,
			URL:      ev.URL,
			Expected: ev.Expected,
			Grace:    l.PosterGrace,
			Items:    posterItems,
			Links:    posterLinks,
		})
	}
	if l.SessionsURL != "" {
		lists = append(lists, navigate.List{
			Name:     SessionsList,
			URL:      l.SessionsURL,
			Expected: l.SessionsExpected,
			Grace:    l.SessionsGrace,
			Items:    posterItems,
			Links:    sessionLinks,
			Prepare:  sessionPrepare,
		})
	}
	logger.Info("poster events found", zap.Int("events", len(events)), zap.Bool("sessions", l.SessionsURL != ""))
	return lists, nil
}
