// Package ingest validates raw records and persists them into the publication
// graph, one transaction per record.
package ingest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/conference-crawler/internal/metrics"
	"github.com/JakeFAU/conference-crawler/internal/model"
	"github.com/JakeFAU/conference-crawler/internal/record"
	"github.com/JakeFAU/conference-crawler/internal/resolve"
	"github.com/JakeFAU/conference-crawler/internal/store"
)

var (
	// ErrValidationRejected marks a record that failed validation. Nothing was written.
	ErrValidationRejected = errors.New("ingest: record rejected by validation")
	// ErrPersistenceFailed marks a record whose transaction was rolled back.
	ErrPersistenceFailed = errors.New("ingest: persistence failed")
)

// Status is the outcome of ingesting one record.
type Status string

const (
	StatusStored   Status = "stored"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Result reports what happened to one record.
type Result struct {
	Status Status
	URL    string
	// ItemID is the stored (new or pre-existing) item row.
	ItemID int64
	// Created is false when the record resolved to an existing item.
	Created bool
	Err     error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithParallelism bounds IngestAll concurrency in pooled mode.
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// Pipeline turns raw records into committed graph rows.
type Pipeline struct {
	store       store.Store
	logger      *zap.Logger
	parallelism int
}

// New constructs a Pipeline over st.
func New(st store.Store, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{store: st, logger: logger, parallelism: 4}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest validates rec, resolves its item, authors and keywords inside one
// transaction and commits. It never panics or returns an error directly; the
// outcome is carried by Result.
func (p *Pipeline) Ingest(ctx context.Context, rec record.Record) Result {
	res := p.ingest(ctx, rec)
	metrics.ObserveIngest(string(res.Status))
	return res
}

func (p *Pipeline) ingest(ctx context.Context, rec record.Record) Result {
	if err := rec.Validate(); err != nil {
		p.logger.Warn("record rejected", zap.String("source", rec.Source()), zap.Error(err))
		return Result{Status: StatusRejected, Err: fmt.Errorf("%w: %w", ErrValidationRejected, err)}
	}
	item := rec.ToItem()
	logger := p.logger.With(zap.String("source", rec.Source()), zap.String("url", item.URL))

	itemID, created, err := p.persist(ctx, item)
	if err != nil {
		logger.Error("ingestion failed", zap.Error(err))
		return Result{Status: StatusFailed, URL: item.URL, Err: fmt.Errorf("%w: %w", ErrPersistenceFailed, err)}
	}
	logger.Debug("record stored", zap.Int64("item_id", itemID), zap.Bool("created", created))
	return Result{Status: StatusStored, URL: item.URL, ItemID: itemID, Created: created}
}

func (p *Pipeline) persist(ctx context.Context, item *model.Item) (id int64, created bool, err error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err == nil {
			return
		}
		// The caller's context may already be cancelled.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			p.logger.Warn("rollback failed", zap.String("url", item.URL), zap.Error(rbErr))
		}
	}()

	// Sub-entities are resolved one at a time so single-connection stores never
	// see concurrent statements, and in a fixed order so concurrent
	// transactions take row locks in the same sequence.
	authorIDs := make([]int64, 0, len(item.Authors))
	for _, a := range slices.SortedFunc(slices.Values(item.Authors), compareAuthors) {
		got, isNew, err := resolve.Resolve[*model.Author](ctx, tx.Authors(), a)
		if err != nil {
			return 0, false, err
		}
		if isNew {
			if err := tx.InsertAuthor(ctx, got); err != nil {
				return 0, false, err
			}
		}
		authorIDs = append(authorIDs, got.ID)
	}

	keywordIDs := make([]int64, 0, len(item.Keywords))
	for _, k := range slices.SortedFunc(slices.Values(item.Keywords), compareKeywords) {
		got, isNew, err := resolve.Resolve[*model.Keyword](ctx, tx.Keywords(), k, "type", "value")
		if err != nil {
			return 0, false, err
		}
		if isNew {
			if err := tx.InsertKeyword(ctx, got); err != nil {
				return 0, false, err
			}
		}
		keywordIDs = append(keywordIDs, got.ID)
	}

	if err := tx.Lock(ctx, item.URL); err != nil {
		return 0, false, err
	}
	resolved, isNew, err := resolve.Resolve[*model.Item](ctx, tx.Items(), item)
	if err != nil {
		return 0, false, err
	}
	if isNew {
		if err := tx.InsertItem(ctx, resolved); err != nil {
			return 0, false, err
		}
	}
	if err := tx.LinkAuthors(ctx, resolved.ID, authorIDs); err != nil {
		return 0, false, err
	}
	if err := tx.LinkKeywords(ctx, resolved.ID, keywordIDs); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return resolved.ID, isNew, nil
}

func compareAuthors(a, b *model.Author) int { return cmp.Compare(a.Name, b.Name) }

func compareKeywords(a, b *model.Keyword) int {
	if c := compareType(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}

// compareType orders untyped keywords first.
func compareType(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

// IngestAll ingests every record. Pooled stores run up to the configured
// parallelism at once; single-connection stores run strictly in order.
// Results are returned in input order.
func (p *Pipeline) IngestAll(ctx context.Context, recs []record.Record) []Result {
	results := make([]Result, len(recs))
	if p.store.Mode() == store.ModeSingle || p.parallelism <= 1 {
		for i, rec := range recs {
			results[i] = p.Ingest(ctx, rec)
		}
		return results
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, rec := range recs {
		g.Go(func() error {
			results[i] = p.Ingest(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
