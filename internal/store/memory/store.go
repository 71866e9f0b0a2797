// Package memory provides an in-memory transactional store for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/conference-crawler/internal/model"
	"github.com/JakeFAU/conference-crawler/internal/store"
)

var errTxDone = errors.New("memory: transaction already finished")

type link struct{ item, other int64 }

type state struct {
	nextID       int64
	items        map[int64]model.Item
	authors      map[int64]model.Author
	keywords     map[int64]model.Keyword
	itemAuthors  map[link]struct{}
	itemKeywords map[link]struct{}
}

func newState() *state {
	return &state{
		items:        make(map[int64]model.Item),
		authors:      make(map[int64]model.Author),
		keywords:     make(map[int64]model.Keyword),
		itemAuthors:  make(map[link]struct{}),
		itemKeywords: make(map[link]struct{}),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.authors {
		c.authors[k] = v
	}
	for k, v := range s.keywords {
		c.keywords[k] = v
	}
	for k := range s.itemAuthors {
		c.itemAuthors[k] = struct{}{}
	}
	for k := range s.itemKeywords {
		c.itemKeywords[k] = struct{}{}
	}
	return c
}

// Option customizes a Store.
type Option func(*Store)

// WithMode sets the mode reported by the store.
func WithMode(mode store.Mode) Option {
	return func(s *Store) { s.mode = mode }
}

// Store keeps the publication graph in memory. Transactions run one at a time
// against a private copy of the committed state.
type Store struct {
	sem  chan struct{}
	mu   sync.RWMutex
	data *state
	mode store.Mode
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		sem:  make(chan struct{}, 1),
		data: newState(),
		mode: store.ModePooled,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode implements store.Store.
func (s *Store) Mode() store.Mode { return s.mode }

// Close implements store.Store.
func (s *Store) Close() {}

// Begin waits for any running transaction to finish and opens a new one.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	staged := s.data.clone()
	s.mu.RUnlock()
	return &tx{store: s, data: staged}, nil
}

// Items returns committed items ordered by id.
func (s *Store) Items() []model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Item, 0, len(s.data.items))
	for _, v := range s.data.items {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Authors returns committed authors ordered by id.
func (s *Store) Authors() []model.Author {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Author, 0, len(s.data.authors))
	for _, v := range s.data.authors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Keywords returns committed keywords ordered by id.
func (s *Store) Keywords() []model.Keyword {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Keyword, 0, len(s.data.keywords))
	for _, v := range s.data.keywords {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuthorLinks returns committed item/author links.
func (s *Store) AuthorLinks() []model.ItemAuthorLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ItemAuthorLink, 0, len(s.data.itemAuthors))
	for l := range s.data.itemAuthors {
		out = append(out, model.ItemAuthorLink{ItemID: l.item, AuthorID: l.other})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].AuthorID < out[j].AuthorID
	})
	return out
}

// KeywordLinks returns committed item/keyword links.
func (s *Store) KeywordLinks() []model.ItemKeywordLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ItemKeywordLink, 0, len(s.data.itemKeywords))
	for l := range s.data.itemKeywords {
		out = append(out, model.ItemKeywordLink{ItemID: l.item, KeywordID: l.other})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].KeywordID < out[j].KeywordID
	})
	return out
}

type tx struct {
	store *Store
	data  *state
	done  bool
}

func (t *tx) Items() store.Lookup[*model.Item] {
	return finder[*model.Item]{tx: t, rows: func() []*model.Item {
		out := make([]*model.Item, 0, len(t.data.items))
		for _, v := range t.data.items {
			out = append(out, &v)
		}
		return out
	}}
}

func (t *tx) Authors() store.Lookup[*model.Author] {
	return finder[*model.Author]{tx: t, rows: func() []*model.Author {
		out := make([]*model.Author, 0, len(t.data.authors))
		for _, v := range t.data.authors {
			out = append(out, &v)
		}
		return out
	}}
}

func (t *tx) Keywords() store.Lookup[*model.Keyword] {
	return finder[*model.Keyword]{tx: t, rows: func() []*model.Keyword {
		out := make([]*model.Keyword, 0, len(t.data.keywords))
		for _, v := range t.data.keywords {
			out = append(out, &v)
		}
		return out
	}}
}

// Lock is a no-op: transactions are already serialized.
func (t *tx) Lock(_ context.Context, _ string) error {
	if t.done {
		return errTxDone
	}
	return nil
}

func (t *tx) InsertItem(_ context.Context, item *model.Item) error {
	if t.done {
		return errTxDone
	}
	t.data.nextID++
	item.ID = t.data.nextID
	row := *item
	row.Authors, row.Keywords = nil, nil
	t.data.items[item.ID] = row
	return nil
}

func (t *tx) InsertAuthor(_ context.Context, author *model.Author) error {
	if t.done {
		return errTxDone
	}
	for id, a := range t.data.authors {
		if a.Name == author.Name {
			author.ID = id
			return nil
		}
	}
	t.data.nextID++
	author.ID = t.data.nextID
	t.data.authors[author.ID] = *author
	return nil
}

func (t *tx) InsertKeyword(_ context.Context, keyword *model.Keyword) error {
	if t.done {
		return errTxDone
	}
	for id, k := range t.data.keywords {
		if k.Value == keyword.Value && equalPtr(k.Type, keyword.Type) {
			keyword.ID = id
			return nil
		}
	}
	t.data.nextID++
	keyword.ID = t.data.nextID
	t.data.keywords[keyword.ID] = *keyword
	return nil
}

func (t *tx) LinkAuthors(_ context.Context, itemID int64, authorIDs []int64) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.data.items[itemID]; !ok {
		return store.ErrNotFound
	}
	for _, id := range authorIDs {
		if _, ok := t.data.authors[id]; !ok {
			return store.ErrNotFound
		}
		t.data.itemAuthors[link{itemID, id}] = struct{}{}
	}
	return nil
}

func (t *tx) LinkKeywords(_ context.Context, itemID int64, keywordIDs []int64) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.data.items[itemID]; !ok {
		return store.ErrNotFound
	}
	for _, id := range keywordIDs {
		if _, ok := t.data.keywords[id]; !ok {
			return store.ErrNotFound
		}
		t.data.itemKeywords[link{itemID, id}] = struct{}{}
	}
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.store.mu.Lock()
	t.store.data = t.data
	t.store.mu.Unlock()
	<-t.store.sem
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.sem
	return nil
}

type finder[E model.Entity] struct {
	tx   *tx
	rows func() []E
}

// FindBy returns the lowest-id row whose columns equal attrs.
func (f finder[E]) FindBy(_ context.Context, attrs []model.Attr) (E, bool, error) {
	var best E
	if f.tx.done {
		return best, false, errTxDone
	}
	found := false
	for _, row := range f.rows() {
		if !matches(row, attrs) {
			continue
		}
		if !found || row.Key() < best.Key() {
			best, found = row, true
		}
	}
	return best, found, nil
}

func matches(e model.Entity, attrs []model.Attr) bool {
	cols := make(map[string]any)
	for _, a := range e.Attrs() {
		cols[a.Column] = a.Value
	}
	for _, a := range attrs {
		v, ok := cols[a.Column]
		if !ok || v != a.Value {
			return false
		}
	}
	return true
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
