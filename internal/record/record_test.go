package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnderlineRecordValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rec     UnderlineRecord
		wantErr bool
	}{
		{
			name: "valid",
			rec:  UnderlineRecord{URL: "https://underline.io/events/380/posters/1", Title: "T", Conference: "AAAI", Year: 2023},
		},
		{name: "missing url", rec: UnderlineRecord{Title: "T", Conference: "AAAI"}, wantErr: true},
		{name: "missing title", rec: UnderlineRecord{URL: "https://underline.io/x", Conference: "AAAI"}, wantErr: true},
		{
			name:    "bad paper url",
			rec:     UnderlineRecord{URL: "https://underline.io/x", Title: "T", Conference: "AAAI", PaperURL: "not a url"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.rec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestUnderlineToItemDeduplicates(t *testing.T) {
	t.Parallel()

	rec := UnderlineRecord{
		URL:        " https://underline.io/x ",
		Title:      "Title",
		Conference: "AAAI",
		Year:       2023,
		Authors:    "A. Smith, B. Jones,A. Smith, ",
		Keywords:   []string{"ML: RL", "ML: RL", "RL", "ML : RL"},
	}
	item := rec.ToItem()

	assert.Equal(t, "https://underline.io/x", item.URL)
	require.NotNil(t, item.Year)
	assert.Equal(t, 2023, *item.Year)
	assert.Nil(t, item.Abstract)

	names := make([]string, 0, len(item.Authors))
	for _, a := range item.Authors {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"A. Smith", "B. Jones"}, names)

	require.Len(t, item.Keywords, 2)
	require.NotNil(t, item.Keywords[0].Type)
	assert.Equal(t, "ML", *item.Keywords[0].Type)
	assert.Nil(t, item.Keywords[1].Type)
	assert.Equal(t, "RL", item.Keywords[1].Value)
}

func TestNeurIPSRecordRequiresYear(t *testing.T) {
	t.Parallel()

	rec := NeurIPSRecord{URL: "https://neurips.cc/virtual/2022/poster/1", Title: "T", Conference: "NeurIPS"}
	require.Error(t, rec.Validate())

	rec.Year = 2022
	require.NoError(t, rec.Validate())
	assert.Equal(t, "neurips", rec.Source())

	item := rec.ToItem()
	assert.Empty(t, item.Authors)
	assert.Nil(t, item.OpenReviewURL)
}

func TestSplitAuthorsBlank(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SplitAuthors("  "))
	assert.Len(t, SplitAuthors("a,b"), 2)
}
