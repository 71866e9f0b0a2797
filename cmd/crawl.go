package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/config"
	"github.com/JakeFAU/conference-crawler/internal/extract/underline"
	"github.com/JakeFAU/conference-crawler/internal/id/uuid"
	"github.com/JakeFAU/conference-crawler/internal/ingest"
	"github.com/JakeFAU/conference-crawler/internal/ledger"
	"github.com/JakeFAU/conference-crawler/internal/navigate"
	"github.com/JakeFAU/conference-crawler/internal/policy/ratelimit"
)

// newCrawlCmd creates the 'crawl' subcommand, which logs into underline.io
// and walks every poster list of the configured event.
func newCrawlCmd() *cobra.Command {
	var (
		ensureSchema bool
		envFile      string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls an underline.io conference with a browser",
		Long: `Logs into underline.io, discovers the poster lists of the configured event,
scroll-loads each list and opens every item to read its abstract. Items already
in the progress ledger are skipped; failures are logged with a screenshot and
the crawl moves on.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), envFile, ensureSchema)
		},
	}
	cmd.Flags().BoolVar(&ensureSchema, "ensure-schema", false, "create tables before crawling")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "file with UNDERLINE_* credentials")
	return cmd
}

func runCrawl(ctx context.Context, envFile string, ensureSchema bool) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	cfg := rt.cfg

	creds, err := config.LoadCredentials(envFile)
	if err != nil {
		return err
	}

	runID, err := uuid.NewRunID()
	if err != nil {
		return err
	}
	logger := rt.logger.With(zap.String("run_id", runID))

	st, err := openStore(ctx, cfg.DB, ensureSchema, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	progress, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "ledger", progress.Close)

	failures, err := ledger.OpenFailureLog(cfg.Ledger.FailuresPath, nil)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "failure log", failures.Close)

	artifacts, closeArtifacts, err := openArtifacts(ctx, cfg.Artifacts)
	if err != nil {
		return err
	}
	defer closeArtifacts()

	b, err := openBrowser(cfg.Browser)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer closeLogged(logger, "browser", b.Close)

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	idle := config.Sec(cfg.Navigation.IdleTimeoutSec)
	conv := navigate.Convergence{
		Settle:      config.Ms(cfg.Convergence.SettleMs),
		Grace:       cfg.Convergence.Grace,
		MaxPolls:    cfg.Convergence.MaxPolls,
		Budget:      config.Sec(cfg.Convergence.BudgetSec),
		IdleTimeout: idle,
		Logger:      logger.Named("converge"),
	}
	site := navigate.Site{
		Name: "underline",
		Login: underline.Login{
			URL:         cfg.Underline.LoginURL,
			Email:       creds.Email,
			Password:    creds.Password,
			RememberMe:  creds.RememberMe,
			Timeout:     config.Sec(cfg.Navigation.ElementTimeoutSec),
			IdleTimeout: idle,
			Artifacts:   artifacts,
			RunID:       runID,
			Logger:      logger.Named("login"),
		},
		Lists: underline.Lists{
			PostersURL:       cfg.Underline.PostersURL,
			PosterGrace:      cfg.Underline.PosterGrace,
			SessionsURL:      cfg.Underline.SessionsURL,
			SessionsExpected: cfg.Underline.SessionsExpected,
			SessionsGrace:    cfg.Underline.SessionsGrace,
			Convergence:      conv,
			IdleTimeout:      idle,
			Logger:           logger.Named("lists"),
		},
		Extractor: underline.Extractor{
			Conference:  cfg.Underline.Conference,
			Year:        cfg.Underline.Year,
			TabPause:    config.Ms(cfg.Underline.TabPauseMs),
			IdleTimeout: idle,
			Logger:      logger.Named("extract"),
		},
	}
	deps := navigate.Deps{
		Ingester:  ingest.New(st, logger.Named("ingest"), ingest.WithParallelism(cfg.Ingest.Parallelism)),
		Progress:  progress,
		Failures:  failures,
		Artifacts: artifacts,
		Pacer:     ratelimit.New(ratelimit.Config{MinInterval: config.Ms(cfg.Navigation.MinIntervalMs)}),
	}
	opts := navigate.Options{
		SettleDelay:    settleDelay(cfg.Navigation.SettleDelayMs),
		IdleTimeout:    idle,
		ElementTimeout: config.Sec(cfg.Navigation.ElementTimeoutSec),
		ClickRetry: navigate.RetryPolicy{
			MaxAttempts: cfg.Navigation.ClickAttempts,
			BaseDelay:   config.Ms(cfg.Navigation.ClickBackoffMs),
			MaxDelay:    4 * config.Ms(cfg.Navigation.ClickBackoffMs),
			Multiplier:  2,
			Jitter:      true,
		},
		MaxNavAttempts:  cfg.Navigation.MaxNavAttempts,
		MaxBackAttempts: cfg.Navigation.MaxBackAttempts,
		ExtractTimeout:  config.Sec(cfg.Navigation.ExtractTimeoutSec),
		Convergence:     conv,
		RunID:           runID,
	}

	ctrl, err := navigate.NewController(page, site, deps, opts, logger.Named("navigate"))
	if err != nil {
		return err
	}

	return withMetrics(ctx, cfg.Metrics.Addr, logger, func(ctx context.Context) error {
		_, err := ctrl.Run(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info("crawl interrupted; progress is saved", zap.String("state", ctrl.State().String()))
			return nil
		}
		return err
	})
}

// settleDelay maps a configured 0 to "disabled".
func settleDelay(ms int) time.Duration {
	if ms <= 0 {
		return -1
	}
	return config.Ms(ms)
}

func closeLogged(logger *zap.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close failed", zap.String("resource", what), zap.Error(err))
	}
}
