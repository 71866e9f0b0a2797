package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    Artifact
		want string
	}{
		{
			name: "screenshot of a poster",
			a:    Artifact{RunID: "run-1", Stage: "locate", URL: "https://underline.io/events/380/posters/12?x=1", ContentType: PNG},
			want: "run-1/locate/underline.io_events_380_posters_12_x_1.png",
		},
		{
			name: "dom snapshot with charset",
			a:    Artifact{RunID: "run-1", Stage: "extract", URL: "http://neurips.cc/virtual/2022/poster/1", ContentType: "text/html; charset=utf-8"},
			want: "run-1/extract/neurips.cc_virtual_2022_poster_1.html",
		},
		{
			name: "missing url and run",
			a:    Artifact{Stage: "login", ContentType: PNG},
			want: "run/login/page.png",
		},
		{
			name: "unknown content type",
			a:    Artifact{RunID: "r", Stage: "s", URL: "x", ContentType: "application/x-trace"},
			want: "r/s/x.bin",
		},
		{
			name: "traversal in segments",
			a:    Artifact{RunID: "../..", Stage: "../etc", URL: "..", ContentType: PNG},
			want: "run/etc/page.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Key())
		})
	}
}

func TestArtifactKeyTruncatesLongURLs(t *testing.T) {
	t.Parallel()

	a := Artifact{RunID: "r", Stage: "s", URL: "https://example.com/" + strings.Repeat("a", 400), ContentType: PNG}
	assert.Len(t, a.Key(), len("r/s/")+maxNameLen+len(".png"))
}

func TestArtifactValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Artifact{}.Validate(), ErrEmptyArtifact)
	require.NoError(t, Artifact{Data: []byte("png")}.Validate())
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	uri, err := Discard{}.Save(context.Background(), Artifact{Data: []byte("png")})
	require.NoError(t, err)
	assert.Empty(t, uri)
}
