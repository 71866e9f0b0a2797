// Package postgres persists the publication graph in Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/conference-crawler/internal/model"
	"github.com/JakeFAU/conference-crawler/internal/store"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DB is the subset of pgxpool.Pool and pgx.Conn used by Store.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config controls how the store connects.
type Config struct {
	DSN             string
	Mode            store.Mode
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements store.Store on Postgres.
type Store struct {
	db      DB
	mode    store.Mode
	conn    sync.Mutex
	closeFn func()
}

// Open connects according to cfg.Mode: a pgxpool for pooled mode, a single
// pgx connection otherwise.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if cfg.Mode == store.ModeSingle {
		return NewConn(ctx, cfg.DSN)
	}
	return NewPool(ctx, cfg)
}

// NewPool creates a pooled store. Independent transactions may run in parallel.
func NewPool(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(pool, store.ModePooled)
	s.closeFn = pool.Close
	return s, nil
}

// NewConn creates a store over one connection. Transactions are serialized.
func NewConn(ctx context.Context, dsn string) (*Store, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(conn, store.ModeSingle)
	s.closeFn = func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}
	return s, nil
}

// New wraps an existing pool or connection (primarily for testing).
func New(db DB, mode store.Mode) *Store {
	if mode == "" {
		mode = store.ModePooled
	}
	return &Store{db: db, mode: mode}
}

// Mode implements store.Store.
func (s *Store) Mode() store.Mode { return s.mode }

// Close releases the underlying pool or connection.
func (s *Store) Close() {
	if s == nil || s.closeFn == nil {
		return
	}
	s.closeFn()
}

// Begin opens a transaction. In single mode it blocks until the previous
// transaction on the shared connection has ended.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	release := func() {}
	if s.mode == store.ModeSingle {
		s.conn.Lock()
		release = sync.OnceFunc(s.conn.Unlock)
	}
	pgTx, err := s.db.Begin(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &tx{tx: pgTx, release: release}, nil
}

type tx struct {
	tx      pgx.Tx
	release func()
}

func (t *tx) Items() store.Lookup[*model.Item] {
	return finder[*model.Item]{tx: t.tx, table: "conference_item", columns: itemColumns, scan: scanItem}
}

func (t *tx) Authors() store.Lookup[*model.Author] {
	return finder[*model.Author]{tx: t.tx, table: "author", columns: []string{"name"}, scan: scanAuthor}
}

func (t *tx) Keywords() store.Lookup[*model.Keyword] {
	return finder[*model.Keyword]{tx: t.tx, table: "keyword", columns: []string{"type", "value"}, scan: scanKeyword}
}

// Lock takes a transaction-scoped advisory lock on key.
func (t *tx) Lock(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (t *tx) InsertItem(ctx context.Context, item *model.Item) error {
	attrs := item.Attrs()
	query := fmt.Sprintf(`INSERT INTO conference_item (%s) VALUES (%s) RETURNING id`,
		strings.Join(itemColumns, ", "), placeholders(len(attrs)))
	if err := t.tx.QueryRow(ctx, query, values(attrs)...).Scan(&item.ID); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (t *tx) InsertAuthor(ctx context.Context, author *model.Author) error {
	return insertOrReuse(ctx, t.tx, t.Authors(), author, &author.ID,
		`INSERT INTO author (name) VALUES ($1) ON CONFLICT DO NOTHING RETURNING id`)
}

func (t *tx) InsertKeyword(ctx context.Context, keyword *model.Keyword) error {
	return insertOrReuse(ctx, t.tx, t.Keywords(), keyword, &keyword.ID,
		`INSERT INTO keyword (type, value) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`)
}

func (t *tx) LinkAuthors(ctx context.Context, itemID int64, authorIDs []int64) error {
	if len(authorIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO item_author (item_id, author_id)
SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, itemID, authorIDs)
	if err != nil {
		return fmt.Errorf("link authors: %w", err)
	}
	return nil
}

func (t *tx) LinkKeywords(ctx context.Context, itemID int64, keywordIDs []int64) error {
	if len(keywordIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO item_keyword (item_id, keyword_id)
SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, itemID, keywordIDs)
	if err != nil {
		return fmt.Errorf("link keywords: %w", err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	defer t.release()
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	defer t.release()
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// insertOrReuse runs an ON CONFLICT DO NOTHING insert. When a concurrent
// transaction already committed an equal row, that row's id is adopted.
func insertOrReuse[E model.Entity](
	ctx context.Context,
	q pgx.Tx,
	lookup store.Lookup[E],
	entity E,
	id *int64,
	query string,
) error {
	err := q.QueryRow(ctx, query, values(entity.Attrs())...).Scan(id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("insert %s: %w", entity.Table(), err)
	}
	existing, found, err := lookup.FindBy(ctx, entity.Attrs())
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("insert %s: conflicting row vanished: %w", entity.Table(), store.ErrNotFound)
	}
	*id = existing.Key()
	return nil
}

type finder[E model.Entity] struct {
	tx      pgx.Tx
	table   string
	columns []string
	scan    func(pgx.Row) (E, error)
}

// FindBy selects the lowest-id row whose columns equal attrs.
func (f finder[E]) FindBy(ctx context.Context, attrs []model.Attr) (E, bool, error) {
	var zero E
	query, args, err := selectQuery(f.table, f.columns, attrs)
	if err != nil {
		return zero, false, err
	}
	e, err := f.scan(f.tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("select %s: %w", f.table, err)
	}
	return e, true, nil
}

func selectQuery(table string, columns []string, attrs []model.Attr) (string, []any, error) {
	if !validIdentifier.MatchString(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	where := make([]string, 0, len(attrs))
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		if !validIdentifier.MatchString(a.Column) {
			return "", nil, fmt.Errorf("invalid column name %q", a.Column)
		}
		if a.Value == nil {
			where = append(where, a.Column+" IS NULL")
			continue
		}
		args = append(args, a.Value)
		where = append(where, fmt.Sprintf("%s = $%d", a.Column, len(args)))
	}
	query := fmt.Sprintf("SELECT id, %s FROM %s", strings.Join(columns, ", "), table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id LIMIT 1"
	return query, args, nil
}

var itemColumns = []string{
	"url", "title", "item_type", "conference", "year", "abstract",
	"paper_url", "openreview_url", "poster_url", "slides_url",
}

func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	err := row.Scan(&it.ID, &it.URL, &it.Title, &it.ItemType, &it.Conference, &it.Year,
		&it.Abstract, &it.PaperURL, &it.OpenReviewURL, &it.PosterURL, &it.SlidesURL)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func scanAuthor(row pgx.Row) (*model.Author, error) {
	var a model.Author
	if err := row.Scan(&a.ID, &a.Name); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanKeyword(row pgx.Row) (*model.Keyword, error) {
	var k model.Keyword
	if err := row.Scan(&k.ID, &k.Type, &k.Value); err != nil {
		return nil, err
	}
	return &k, nil
}

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}

func values(attrs []model.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a.Value
	}
	return out
}
