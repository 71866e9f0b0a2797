package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/conference-crawler/internal/browser"
	"github.com/JakeFAU/conference-crawler/internal/browser/headless"
	rodbrowser "github.com/JakeFAU/conference-crawler/internal/browser/rod"
	"github.com/JakeFAU/conference-crawler/internal/config"
	"github.com/JakeFAU/conference-crawler/internal/metrics"
	"github.com/JakeFAU/conference-crawler/internal/storage"
	"github.com/JakeFAU/conference-crawler/internal/storage/gcs"
	"github.com/JakeFAU/conference-crawler/internal/storage/local"
	"github.com/JakeFAU/conference-crawler/internal/store"
	memorystore "github.com/JakeFAU/conference-crawler/internal/store/memory"
	"github.com/JakeFAU/conference-crawler/internal/store/postgres"
)

// openStore connects to Postgres, or falls back to an in-memory store for dry
// runs when no DSN is configured.
func openStore(ctx context.Context, cfg config.DBConfig, ensureSchema bool, logger *zap.Logger) (store.Store, error) {
	mode, err := store.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		logger.Warn("db.dsn not set; records are kept in memory only")
		return memorystore.New(memorystore.WithMode(mode)), nil
	}
	pg, err := postgres.Open(ctx, pgConfig(cfg, mode))
	if err != nil {
		return nil, err
	}
	if ensureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	logger.Info("store connected", zap.String("mode", string(mode)))
	return pg, nil
}

func pgConfig(cfg config.DBConfig, mode store.Mode) postgres.Config {
	return postgres.Config{
		DSN:             cfg.DSN,
		Mode:            mode,
		MaxConns:        int32(cfg.MaxConns),
		MinConns:        int32(cfg.MinConns),
		MaxConnLifetime: config.Sec(cfg.MaxConnLifetimeMinutes * 60),
	}
}

// openArtifacts returns the store for failure screenshots and a closer.
func openArtifacts(ctx context.Context, cfg config.ArtifactsConfig) (storage.Store, func(), error) {
	switch cfg.Backend {
	case "local":
		s, err := local.New(filepath.Join(cfg.BaseDir, cfg.Prefix))
		if err != nil {
			return nil, nil, fmt.Errorf("init local artifacts: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, func() { _ = client.Close() }, nil
	default:
		return storage.Discard{}, func() {}, nil
	}
}

func openBrowser(cfg config.BrowserConfig) (browser.Browser, error) {
	bcfg := browser.Config{
		Headless:          cfg.Headless,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: config.Sec(cfg.NavTimeoutSec),
		IdleQuiet:         config.Ms(cfg.IdleQuietMs),
	}
	if cfg.Driver == "rod" {
		return rodbrowser.New(bcfg)
	}
	return headless.New(bcfg)
}

// withMetrics runs fn, serving /metrics alongside it when an address is set.
func withMetrics(ctx context.Context, addr string, logger *zap.Logger, fn func(context.Context) error) error {
	metrics.Init()
	if addr == "" {
		return fn(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, addr, logger.Named("metrics"))
	})
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})
	return g.Wait()
}
