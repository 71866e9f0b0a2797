package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/conference-crawler/internal/model"
)

type mockLookup[E model.Entity] struct {
	mock.Mock
}

func (m *mockLookup[E]) FindBy(ctx context.Context, attrs []model.Attr) (E, bool, error) {
	args := m.Called(ctx, attrs)
	var zero E
	if v := args.Get(0); v != nil {
		zero = v.(E)
	}
	return zero, args.Bool(1), args.Error(2)
}

func TestResolveReturnsExistingUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stored := &model.Author{ID: 7, Name: "A. Smith"}
	lookup := &mockLookup[*model.Author]{}
	lookup.On("FindBy", ctx, []model.Attr{{Column: "name", Value: "A. Smith"}}).
		Return(stored, true, nil).Once()

	got, created, err := Resolve[*model.Author](ctx, lookup, &model.Author{Name: "A. Smith"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, stored, got)
	lookup.AssertExpectations(t)
}

func TestResolveReturnsCandidateWhenMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	candidate := &model.Author{Name: "B. Jones"}
	lookup := &mockLookup[*model.Author]{}
	lookup.On("FindBy", ctx, mock.Anything).Return(nil, false, nil).Once()

	got, created, err := Resolve[*model.Author](ctx, lookup, candidate)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Same(t, candidate, got)
}

func TestResolveDefaultKeysSkipNulls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lookup := &mockLookup[*model.Item]{}
	lookup.On("FindBy", ctx, []model.Attr{
		{Column: "url", Value: "https://example.com/p/1"},
		{Column: "title", Value: "A Paper"},
		{Column: "conference", Value: "NeurIPS"},
	}).Return(nil, false, nil).Once()

	item := &model.Item{URL: "https://example.com/p/1", Title: "A Paper", Conference: model.String("NeurIPS")}
	_, created, err := Resolve[*model.Item](ctx, lookup, item)
	require.NoError(t, err)
	assert.True(t, created)
	lookup.AssertExpectations(t)
}

func TestResolveExplicitKeysKeepNulls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lookup := &mockLookup[*model.Keyword]{}
	lookup.On("FindBy", ctx, []model.Attr{
		{Column: "type", Value: nil},
		{Column: "value", Value: "robotics"},
	}).Return(nil, false, nil).Once()

	kw := model.ParseKeyword("robotics")
	_, _, err := Resolve[*model.Keyword](ctx, lookup, &kw, "type", "value")
	require.NoError(t, err)
	lookup.AssertExpectations(t)
}

func TestResolveUnknownKey(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup[*model.Author]{}
	_, _, err := Resolve[*model.Author](context.Background(), lookup, &model.Author{Name: "x"}, "email")
	require.Error(t, err)
	lookup.AssertNotCalled(t, "FindBy", mock.Anything, mock.Anything)
}

func TestResolveWrapsLookupError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	lookup := &mockLookup[*model.Author]{}
	lookup.On("FindBy", mock.Anything, mock.Anything).Return(nil, false, boom)

	_, _, err := Resolve[*model.Author](context.Background(), lookup, &model.Author{Name: "x"})
	require.ErrorIs(t, err, boom)
}
