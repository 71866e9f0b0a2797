package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/conference-crawler/internal/model"
)

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("store: row not found")

// Mode describes how a store may be driven concurrently.
type Mode string

const (
	// ModePooled allows independent transactions to run in parallel.
	ModePooled Mode = "pooled"
	// ModeSingle multiplexes every transaction over one connection; statements
	// must be issued one at a time and transactions never overlap.
	ModeSingle Mode = "single"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePooled, ModeSingle:
		return Mode(s), nil
	case "":
		return ModePooled, nil
	default:
		return "", fmt.Errorf("unknown store mode %q", s)
	}
}

// Lookup finds an existing row of one entity kind by exact attribute equality.
// A nil attribute value matches a NULL column.
type Lookup[E model.Entity] interface {
	FindBy(ctx context.Context, attrs []model.Attr) (E, bool, error)
}

// Tx is a unit of work over the publication graph. Nothing written through a
// Tx is visible to other transactions until Commit succeeds.
type Tx interface {
	Items() Lookup[*model.Item]
	Authors() Lookup[*model.Author]
	Keywords() Lookup[*model.Keyword]

	// Lock blocks until no other transaction holds key, then holds it until
	// this transaction ends.
	Lock(ctx context.Context, key string) error

	// InsertItem stores the scalar columns of item and sets item.ID.
	InsertItem(ctx context.Context, item *model.Item) error
	// InsertAuthor stores author and sets author.ID. If an equal author was
	// committed concurrently, the existing id is used instead.
	InsertAuthor(ctx context.Context, author *model.Author) error
	// InsertKeyword behaves like InsertAuthor for keywords.
	InsertKeyword(ctx context.Context, keyword *model.Keyword) error

	// LinkAuthors associates authorIDs with itemID. Existing links are kept.
	LinkAuthors(ctx context.Context, itemID int64, authorIDs []int64) error
	// LinkKeywords associates keywordIDs with itemID. Existing links are kept.
	LinkKeywords(ctx context.Context, itemID int64, keywordIDs []int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens transactions over the publication graph.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Mode() Mode
	Close()
}
