package model

import "strings"

// Attr is one scalar column of an entity. A nil Value means the column is NULL.
type Attr struct {
	Column string
	Value  any
}

// Entity is a row of the publication graph that can be resolved by value.
type Entity interface {
	// Table names the relation the entity lives in.
	Table() string
	// Attrs returns every scalar column except the surrogate id, in table order.
	Attrs() []Attr
	// Key returns the surrogate id, zero until the row is stored.
	Key() int64
}

// Item is one scraped publication, poster, or session.
type Item struct {
	ID            int64
	URL           string
	Title         string
	ItemType      *string
	Conference    *string
	Year          *int
	Abstract      *string
	PaperURL      *string
	OpenReviewURL *string
	PosterURL     *string
	SlidesURL     *string

	Authors  []*Author
	Keywords []*Keyword
}

// Table implements Entity.
func (i *Item) Table() string { return "conference_item" }

// Key implements Entity.
func (i *Item) Key() int64 { return i.ID }

// Attrs implements Entity.
func (i *Item) Attrs() []Attr {
	return []Attr{
		{Column: "url", Value: i.URL},
		{Column: "title", Value: i.Title},
		{Column: "item_type", Value: nullable(i.ItemType)},
		{Column: "conference", Value: nullable(i.Conference)},
		{Column: "year", Value: nullableInt(i.Year)},
		{Column: "abstract", Value: nullable(i.Abstract)},
		{Column: "paper_url", Value: nullable(i.PaperURL)},
		{Column: "openreview_url", Value: nullable(i.OpenReviewURL)},
		{Column: "poster_url", Value: nullable(i.PosterURL)},
		{Column: "slides_url", Value: nullable(i.SlidesURL)},
	}
}

// Author is a person credited on one or more items.
type Author struct {
	ID   int64
	Name string
}

// Table implements Entity.
func (a *Author) Table() string { return "author" }

// Key implements Entity.
func (a *Author) Key() int64 { return a.ID }

// Attrs implements Entity.
func (a *Author) Attrs() []Attr {
	return []Attr{{Column: "name", Value: a.Name}}
}

// Keyword is an optionally typed topic tag, e.g. "Deep Learning: transformers".
type Keyword struct {
	ID    int64
	Type  *string
	Value string
}

// Table implements Entity.
func (k *Keyword) Table() string { return "keyword" }

// Key implements Entity.
func (k *Keyword) Key() int64 { return k.ID }

// Attrs implements Entity.
func (k *Keyword) Attrs() []Attr {
	return []Attr{
		{Column: "type", Value: nullable(k.Type)},
		{Column: "value", Value: k.Value},
	}
}

// ItemAuthorLink joins an item with one of its authors.
type ItemAuthorLink struct {
	ItemID   int64
	AuthorID int64
}

// ItemKeywordLink joins an item with one of its keywords.
type ItemKeywordLink struct {
	ItemID    int64
	KeywordID int64
}

// ParseKeyword splits a raw "Type: Value" string on its first colon.
// Without a colon, or with an empty type, the keyword is untyped.
func ParseKeyword(raw string) Keyword {
	typ, value, found := strings.Cut(raw, ":")
	if !found {
		return Keyword{Value: strings.TrimSpace(raw)}
	}
	typ = strings.TrimSpace(typ)
	value = strings.TrimSpace(value)
	if typ == "" {
		return Keyword{Value: value}
	}
	return Keyword{Type: &typ, Value: value}
}

// NonNull filters attrs down to the columns that carry a value.
func NonNull(attrs []Attr) []Attr {
	out := make([]Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Value != nil {
			out = append(out, a)
		}
	}
	return out
}

// String returns a pointer to s, or nil when s is blank.
func String(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
