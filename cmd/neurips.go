package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/conference-crawler/internal/config"
	"github.com/JakeFAU/conference-crawler/internal/extract/neurips"
	"github.com/JakeFAU/conference-crawler/internal/ingest"
	"github.com/JakeFAU/conference-crawler/internal/ledger"
)

// newNeurIPSCmd creates the 'neurips' subcommand. The NeurIPS virtual site is
// static HTML, so it is crawled over plain HTTP without a browser.
func newNeurIPSCmd() *cobra.Command {
	var ensureSchema bool
	cmd := &cobra.Command{
		Use:   "neurips",
		Short: "Crawls the NeurIPS virtual conference site",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNeurIPS(cmd.Context(), ensureSchema)
		},
	}
	cmd.Flags().BoolVar(&ensureSchema, "ensure-schema", false, "create tables before crawling")
	return cmd
}

func runNeurIPS(ctx context.Context, ensureSchema bool) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	cfg := rt.cfg
	logger := rt.logger.With(zap.String("site", "neurips"))

	st, err := openStore(ctx, cfg.DB, ensureSchema, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	progress, err := ledger.Open(cfg.NeurIPS.LedgerPath)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "ledger", progress.Close)

	failures, err := ledger.OpenFailureLog(cfg.Ledger.FailuresPath, nil)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "failure log", failures.Close)

	crawler, err := neurips.New(neurips.Config{
		StartURL:   cfg.NeurIPS.StartURL,
		UserAgent:  cfg.NeurIPS.UserAgent,
		Delay:      config.Ms(cfg.NeurIPS.DelayMs),
		Conference: cfg.NeurIPS.Conference,
		Year:       cfg.NeurIPS.Year,
		BatchSize:  cfg.Ingest.BatchSize,
	}, logger.Named("crawler"),
		ingest.New(st, logger.Named("ingest"), ingest.WithParallelism(cfg.Ingest.Parallelism)),
		progress, failures)
	if err != nil {
		return err
	}

	return withMetrics(ctx, cfg.Metrics.Addr, logger, func(ctx context.Context) error {
		_, err := crawler.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
