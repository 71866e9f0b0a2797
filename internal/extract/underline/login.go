package underline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/browser"
	"github.com/JakeFAU/conference-crawler/internal/storage"
)

// ErrLoginRejected means the portal kept the session on the login form.
var ErrLoginRejected = errors.New("underline: login rejected")

var (
	emailInput    = browser.XPath("//input[@id='email']")
	passwordInput = browser.XPath("//input[@id='password']")
	rememberLabel = browser.XPath("//label[@for='rememberMe']")
	submitButton  = browser.XPath("//button[@type='submit']")
)

// Login submits the portal's login form.
type Login struct {
	URL        string
	Email      string
	Password   string
	RememberMe bool

	Timeout     time.Duration
	IdleTimeout time.Duration
	// Artifacts receives a screenshot of the filled form; optional.
	Artifacts storage.Store
	RunID     string
	Logger    *zap.Logger
}

// Login implements navigate.Authenticator.
func (l Login) Login(ctx context.Context, page browser.Page) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if l.Email == "" || l.Password == "" {
		return errors.New("underline: credentials are required")
	}
	if err := page.Navigate(ctx, l.URL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if err := page.WaitVisible(ctx, submitButton, l.Timeout); err != nil {
		return fmt.Errorf("login form: %w", err)
	}
	if err := page.Fill(ctx, emailInput, l.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := page.Fill(ctx, passwordInput, l.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if l.RememberMe {
		if err := page.Click(ctx, rememberLabel); err != nil {
			return fmt.Errorf("remember me: %w", err)
		}
	}
	l.snapshot(ctx, page, logger)
	if err := page.Click(ctx, submitButton); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	if err := page.WaitNetworkIdle(ctx, l.IdleTimeout); err != nil && !errors.Is(err, browser.ErrTimeout) {
		return err
	}
	here, err := page.Location(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(here, "/log-in") {
		return fmt.Errorf("%w: still at %s", ErrLoginRejected, here)
	}
	logger.Info("logged in", zap.String("at", here))
	return nil
}

func (l Login) snapshot(ctx context.Context, page browser.Page, logger *zap.Logger) {
	if l.Artifacts == nil {
		return
	}
	png, err := page.Screenshot(ctx)
	if err != nil {
		logger.Warn("login screenshot failed", zap.Error(err))
		return
	}
	a := storage.Artifact{RunID: l.RunID, Stage: "login", URL: l.URL, ContentType: storage.PNG, Data: png}
	if _, err := l.Artifacts.Save(ctx, a); err != nil {
		logger.Warn("login screenshot upload failed", zap.Error(err))
	}
}
