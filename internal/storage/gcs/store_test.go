package gcs

import (
	"context"
	"testing"

	gcstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/conference-crawler/internal/storage"
)

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "artifacts"})
	require.Error(t, err)

	_, err = New(&gcstorage.Client{}, Config{})
	require.Error(t, err)
}

func TestSaveRejectsEmptyArtifactBeforeUpload(t *testing.T) {
	t.Parallel()

	s, err := New(&gcstorage.Client{}, Config{Bucket: "artifacts"})
	require.NoError(t, err)
	_, err = s.Save(context.Background(), storage.Artifact{RunID: "r", Stage: "locate"})
	require.ErrorIs(t, err, storage.ErrEmptyArtifact)
}

func TestObjectNameUsesPrefixAndArtifactKey(t *testing.T) {
	t.Parallel()

	a := storage.Artifact{RunID: "run-2", Stage: "back", URL: "https://underline.io/events/380/sessions", ContentType: storage.PNG}

	s, err := New(&gcstorage.Client{}, Config{Bucket: "b", Prefix: "/screenshots/"})
	require.NoError(t, err)
	assert.Equal(t, "screenshots/run-2/back/underline.io_events_380_sessions.png", s.objectName(a))

	bare, err := New(&gcstorage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "run-2/back/underline.io_events_380_sessions.png", bare.objectName(a))
}

func TestMetadataCarriesRunStageAndSource(t *testing.T) {
	t.Parallel()

	got := metadata(storage.Artifact{RunID: "run-2", Stage: "extract", URL: "https://neurips.cc/p/9"})
	assert.Equal(t, map[string]string{
		"run_id":     "run-2",
		"stage":      "extract",
		"source_url": "https://neurips.cc/p/9",
	}, got)
}
