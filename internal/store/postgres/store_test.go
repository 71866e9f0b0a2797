package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/conference-crawler/internal/model"
	"github.com/JakeFAU/conference-crawler/internal/store"
)

func TestSelectQueryHandlesNulls(t *testing.T) {
	t.Parallel()

	query, args, err := selectQuery("keyword", []string{"type", "value"}, []model.Attr{
		{Column: "type", Value: nil},
		{Column: "value", Value: "robotics"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, type, value FROM keyword WHERE type IS NULL AND value = $1 ORDER BY id LIMIT 1", query)
	assert.Equal(t, []any{"robotics"}, args)
}

func TestSelectQueryRejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	_, _, err := selectQuery("author; DROP TABLE author", []string{"name"}, nil)
	require.Error(t, err)
	_, _, err = selectQuery("author", []string{"name"}, []model.Attr{{Column: "name--", Value: "x"}})
	require.Error(t, err)
}

func TestInsertAuthorReturnsID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO author").
		WithArgs("A. Smith").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectCommit()

	ctx := context.Background()
	s := New(mock, store.ModePooled)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	author := &model.Author{Name: "A. Smith"}
	require.NoError(t, tx.InsertAuthor(ctx, author))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, int64(5), author.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAuthorConflictAdoptsExistingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO author").
		WithArgs("A. Smith").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM author WHERE name = $1 ORDER BY id LIMIT 1")).
		WithArgs("A. Smith").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(int64(3), "A. Smith"))
	mock.ExpectCommit()

	ctx := context.Background()
	s := New(mock, store.ModePooled)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	author := &model.Author{Name: "A. Smith"}
	require.NoError(t, tx.InsertAuthor(ctx, author))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, int64(3), author.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestItemLookupMiss(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM conference_item WHERE url = $1 AND title = $2")).
		WithArgs("https://example.com/p/1", "Paper").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "title"}))
	mock.ExpectRollback()

	ctx := context.Background()
	s := New(mock, store.ModePooled)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	item := &model.Item{URL: "https://example.com/p/1", Title: "Paper"}
	_, found, err := tx.Items().FindBy(ctx, model.NonNull(item.Attrs()))
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertItemAndLinks(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("https://example.com/p/1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO conference_item").
		WithArgs("https://example.com/p/1", "Paper", nil, "NeurIPS", nil, nil, nil, nil, nil, nil).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec("INSERT INTO item_author").
		WithArgs(int64(10), []int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO item_keyword").
		WithArgs(int64(10), []int64{3}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	s := New(mock, store.ModePooled)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	item := &model.Item{URL: "https://example.com/p/1", Title: "Paper", Conference: model.String("NeurIPS")}
	require.NoError(t, tx.Lock(ctx, item.URL))
	require.NoError(t, tx.InsertItem(ctx, item))
	require.NoError(t, tx.LinkAuthors(ctx, item.ID, []int64{1, 2}))
	require.NoError(t, tx.LinkKeywords(ctx, item.ID, []int64{3}))
	require.NoError(t, tx.LinkKeywords(ctx, item.ID, nil))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, int64(10), item.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertItemErrorRollsBack(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO conference_item").
		WithArgs("u", "t", nil, nil, nil, nil, nil, nil, nil, nil).
		WillReturnError(boom)
	mock.ExpectRollback()

	ctx := context.Background()
	s := New(mock, store.ModePooled)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	err = tx.InsertItem(ctx, &model.Item{URL: "u", Title: "t"})
	require.ErrorIs(t, err, boom)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSingleModeSerializesTransactions(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx := context.Background()
	s := New(mock, store.ModeSingle)
	first, err := s.Begin(ctx)
	require.NoError(t, err)

	started := make(chan store.Tx)
	go func() {
		second, err := s.Begin(ctx)
		if err != nil {
			close(started)
			return
		}
		started <- second
	}()

	select {
	case <-started:
		t.Fatal("second transaction began while the first was open")
	case <-time.After(30 * time.Millisecond):
	}
	require.NoError(t, first.Commit(ctx))

	second, ok := <-started
	require.True(t, ok)
	require.NoError(t, second.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaRunsEveryStatement(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for _, stmt := range schema {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	s := New(mock, store.ModePooled)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
