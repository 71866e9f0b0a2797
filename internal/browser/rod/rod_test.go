package rodbrowser

import (
	"testing"

	"github.com/go-rod/rod/lib/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/conference-crawler/internal/browser"
)

func TestRodKey(t *testing.T) {
	t.Parallel()

	k, err := rodKey(browser.KeyEnd)
	require.NoError(t, err)
	assert.Equal(t, input.End, k)

	_, err = rodKey("F13")
	require.ErrorIs(t, err, errUnsupportedKey)
}

func TestPageImplementsInterface(t *testing.T) {
	t.Parallel()

	var _ browser.Page = (*Page)(nil)
	var _ browser.Browser = (*Browser)(nil)
}
