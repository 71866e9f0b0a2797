package underline

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// poster holds the fields read from a settled poster page.
type poster struct {
	Title     string
	Authors   string
	Abstract  string
	PaperURL  string
	SlidesURL string
}

// event is one "View N posters" button on the poster hall page.
type event struct {
	Name     string
	URL      string
	Expected int
}

var viewPosters = regexp.MustCompile(`(?i)\bview\s+(\d+)\s+posters?\b`)

func parsePoster(html, pageURL string) (poster, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return poster{}, fmt.Errorf("parse poster page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return poster{}, fmt.Errorf("parse page url: %w", err)
	}

	// The poster title is the last h1; the author line is the div after it.
	h1 := doc.Find("h1").Last()
	p := poster{
		Title:   squash(h1.Text()),
		Authors: squash(h1.NextAllFiltered("div").First().Text()),
	}

	var paragraphs []string
	doc.Find("div[role=tabpanel] p").Each(func(_ int, s *goquery.Selection) {
		if t := squash(s.Text()); t != "" {
			paragraphs = append(paragraphs, t)
		}
	})
	p.Abstract = strings.Join(paragraphs, " ")
	p.PaperURL = downloadLink(doc, base, "paper")
	p.SlidesURL = downloadLink(doc, base, "slides")
	return p, nil
}

func downloadLink(doc *goquery.Document, base *url.URL, kind string) string {
	var href string
	doc.Find(fmt.Sprintf("a[download=%q]", kind)).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), "Download") {
			return true
		}
		href, _ = s.Attr("href")
		return false
	})
	return resolve(base, href)
}

func parseEvents(html, pageURL string) ([]event, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse poster hall: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	var events []event
	doc.Find("a.chakra-button").Each(func(_ int, s *goquery.Selection) {
		m := viewPosters.FindStringSubmatch(squash(s.Text()))
		if m == nil {
			return
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		href, _ := s.Attr("href")
		target := resolve(base, href)
		if target == "" {
			return
		}
		u, _ := url.Parse(target)
		events = append(events, event{Name: strings.Trim(u.Path, "/"), URL: target, Expected: n})
	})
	return events, nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
