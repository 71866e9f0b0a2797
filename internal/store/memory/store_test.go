package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/conference-crawler/internal/model"
	"github.com/JakeFAU/conference-crawler/internal/store"
)

func TestCommitPublishesWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	item := &model.Item{URL: "https://example.com/p/1", Title: "Paper"}
	author := &model.Author{Name: "A. Smith"}
	require.NoError(t, tx.InsertItem(ctx, item))
	require.NoError(t, tx.InsertAuthor(ctx, author))
	require.NoError(t, tx.LinkAuthors(ctx, item.ID, []int64{author.ID}))

	assert.Empty(t, s.Items(), "uncommitted writes must be invisible")
	require.NoError(t, tx.Commit(ctx))

	require.Len(t, s.Items(), 1)
	require.Len(t, s.Authors(), 1)
	assert.Equal(t, []model.ItemAuthorLink{{ItemID: item.ID, AuthorID: author.ID}}, s.AuthorLinks())
}

func TestRollbackDiscardsWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertAuthor(ctx, &model.Author{Name: "A. Smith"}))
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, s.Authors())
	require.ErrorIs(t, tx.Commit(ctx), errTxDone)
}

func TestFindByMatchesNullColumns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	typed := model.ParseKeyword("Vision: detection")
	untyped := model.ParseKeyword("detection")
	require.NoError(t, tx.InsertKeyword(ctx, &typed))
	require.NoError(t, tx.InsertKeyword(ctx, &untyped))
	require.NotEqual(t, typed.ID, untyped.ID)

	got, found, err := tx.Keywords().FindBy(ctx, untyped.Attrs())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, untyped.ID, got.ID)
	require.NoError(t, tx.Commit(ctx))
}

func TestInsertAuthorReusesEqualRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	first := &model.Author{Name: "A. Smith"}
	second := &model.Author{Name: "A. Smith"}
	require.NoError(t, tx.InsertAuthor(ctx, first))
	require.NoError(t, tx.InsertAuthor(ctx, second))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, s.Authors(), 1)
}

func TestLinkRequiresExistingRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	require.ErrorIs(t, tx.LinkKeywords(ctx, 42, []int64{1}), store.ErrNotFound)
}

func TestBeginWaitsForRunningTransaction(t *testing.T) {
	t.Parallel()

	s := New(WithMode(store.ModeSingle))
	assert.Equal(t, store.ModeSingle, s.Mode())

	tx, err := s.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Rollback(context.Background()))
	next, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, next.Rollback(context.Background()))
}
