// Package record holds the raw, per-site records produced by extractors and
// their conversion into the canonical publication graph.
package record

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/conference-crawler/internal/model"
)

// Record is a raw extracted record from one source site.
type Record interface {
	// Source names the site variant, e.g. "underline".
	Source() string
	// Validate checks the record against its declared field rules.
	Validate() error
	// ToItem converts a validated record into an Item with deduplicated
	// authors and keywords.
	ToItem() *model.Item
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func validateStruct(v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		return fmt.Errorf("validate record: %w", err)
	}
	return nil
}

// UnderlineRecord is a poster or session scraped from the authenticated portal.
type UnderlineRecord struct {
	URL        string   `validate:"required,url"`
	Title      string   `validate:"required"`
	Conference string   `validate:"required"`
	Year       int      `validate:"omitempty,gte=1900,lte=2100"`
	ItemType   string   `validate:"omitempty"`
	Authors    string   `validate:"omitempty"`
	Abstract   string   `validate:"omitempty"`
	PaperURL   string   `validate:"omitempty,url"`
	SlidesURL  string   `validate:"omitempty,url"`
	Keywords   []string `validate:"omitempty,dive,required"`
}

// Source implements Record.
func (r UnderlineRecord) Source() string { return "underline" }

// Validate implements Record.
func (r UnderlineRecord) Validate() error { return validateStruct(r) }

// ToItem implements Record.
func (r UnderlineRecord) ToItem() *model.Item {
	item := &model.Item{
		URL:        strings.TrimSpace(r.URL),
		Title:      strings.TrimSpace(r.Title),
		ItemType:   model.String(r.ItemType),
		Conference: model.String(r.Conference),
		Year:       year(r.Year),
		Abstract:   model.String(r.Abstract),
		PaperURL:   model.String(r.PaperURL),
		SlidesURL:  model.String(r.SlidesURL),
	}
	item.Authors = Authors(SplitAuthors(r.Authors))
	item.Keywords = Keywords(r.Keywords)
	return item
}

// NeurIPSRecord is a paper or poster scraped from the static NeurIPS site.
type NeurIPSRecord struct {
	URL           string   `validate:"required,url"`
	Title         string   `validate:"required"`
	Conference    string   `validate:"required"`
	Year          int      `validate:"required,gte=1987,lte=2100"`
	ItemType      string   `validate:"omitempty"`
	Authors       []string `validate:"omitempty"`
	Keywords      []string `validate:"omitempty"`
	Abstract      string   `validate:"omitempty"`
	PaperURL      string   `validate:"omitempty,url"`
	PosterURL     string   `validate:"omitempty,url"`
	SlidesURL     string   `validate:"omitempty,url"`
	OpenReviewURL string   `validate:"omitempty,url"`
}

// Source implements Record.
func (r NeurIPSRecord) Source() string { return "neurips" }

// Validate implements Record.
func (r NeurIPSRecord) Validate() error { return validateStruct(r) }

// ToItem implements Record.
func (r NeurIPSRecord) ToItem() *model.Item {
	item := &model.Item{
		URL:           strings.TrimSpace(r.URL),
		Title:         strings.TrimSpace(r.Title),
		ItemType:      model.String(r.ItemType),
		Conference:    model.String(r.Conference),
		Year:          year(r.Year),
		Abstract:      model.String(r.Abstract),
		PaperURL:      model.String(r.PaperURL),
		PosterURL:     model.String(r.PosterURL),
		SlidesURL:     model.String(r.SlidesURL),
		OpenReviewURL: model.String(r.OpenReviewURL),
	}
	item.Authors = Authors(r.Authors)
	item.Keywords = Keywords(r.Keywords)
	return item
}

// SplitAuthors splits a comma-separated author line.
func SplitAuthors(line string) []string {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	return strings.Split(line, ",")
}

// Authors trims names, drops blanks and keeps the first occurrence of each name.
func Authors(names []string) []*model.Author {
	seen := make(map[string]struct{}, len(names))
	out := make([]*model.Author, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, &model.Author{Name: n})
	}
	return out
}

// Keywords parses raw "Type: Value" strings and keeps the first occurrence of
// each (type, value) pair.
func Keywords(raw []string) []*model.Keyword {
	type key struct{ typ, value string }
	seen := make(map[key]struct{}, len(raw))
	out := make([]*model.Keyword, 0, len(raw))
	for _, r := range raw {
		kw := model.ParseKeyword(r)
		if kw.Value == "" {
			continue
		}
		k := key{value: kw.Value}
		if kw.Type != nil {
			// NUL cannot appear in scraped text, so it separates typed from untyped.
			k.typ = "\x00" + *kw.Type
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, &kw)
	}
	return out
}

func year(y int) *int {
	if y == 0 {
		return nil
	}
	return &y
}
