// Package storage defines where failure artifacts (page screenshots and DOM
// snapshots) are kept. Implementations live in the local, gcs and memory
// subpackages.
package storage

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"
)

// Content types the crawler captures.
const (
	PNG  = "image/png"
	HTML = "text/html"
)

// ErrEmptyArtifact is returned when an artifact carries no data.
var ErrEmptyArtifact = errors.New("storage: empty artifact")

// Artifact is one capture of the browser page, taken when an item or list
// fails or at a checkpoint such as login.
type Artifact struct {
	RunID string
	// Stage names the step that produced the artifact (locate, extract, login...).
	Stage string
	// URL is the page the artifact documents.
	URL         string
	ContentType string
	Data        []byte
}

// Store persists artifacts and returns a URI that locates the saved copy.
type Store interface {
	Save(ctx context.Context, a Artifact) (string, error)
}

// Discard drops artifacts. It is used when capture is disabled.
type Discard struct{}

// Save implements Store and returns an empty URI.
func (Discard) Save(context.Context, Artifact) (string, error) { return "", nil }

var (
	unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	extensions     = map[string]string{
		PNG:          ".png",
		"image/jpeg": ".jpg",
		HTML:         ".html",
		"text/plain": ".txt",
	}
)

const maxNameLen = 150

// Key is the slash-separated object key of a: <run>/<stage>/<page><ext>.
// Every segment is sanitized, so keys never escape the store root.
func (a Artifact) Key() string {
	name := strings.TrimPrefix(strings.TrimPrefix(a.URL, "https://"), "http://")
	return path.Join(segment(a.RunID, "run"), segment(a.Stage, "misc"), truncate(segment(name, "page"))+a.Ext())
}

// Ext is the file extension for the artifact's content type.
func (a Artifact) Ext() string {
	ct, _, _ := strings.Cut(a.ContentType, ";")
	if ext, ok := extensions[strings.TrimSpace(strings.ToLower(ct))]; ok {
		return ext
	}
	return ".bin"
}

// Validate reports artifacts that cannot be saved.
func (a Artifact) Validate() error {
	if len(a.Data) == 0 {
		return ErrEmptyArtifact
	}
	return nil
}

func segment(s, fallback string) string {
	s = strings.Trim(unsafeKeyChars.ReplaceAllString(s, "_"), "_.")
	if s == "" {
		return fallback
	}
	return s
}

func truncate(s string) string {
	if len(s) > maxNameLen {
		return s[:maxNameLen]
	}
	return s
}
