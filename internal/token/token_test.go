package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareTokenLengthAndCharset(t *testing.T) {
	tok, err := NewShareToken()
	require.NoError(t, err)

	assert.Len(t, tok, ShareTokenLength)
	for _, r := range tok {
		assert.True(t, strings.ContainsRune(alphabet, r), "unexpected character %q", r)
	}
}

func TestShareTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		tok, err := NewShareToken()
		require.NoError(t, err)
		require.False(t, seen[tok], "duplicate token after %d generations", i)
		seen[tok] = true
	}
}

func TestCancelTokenLength(t *testing.T) {
	tok, err := NewCancelToken()
	require.NoError(t, err)
	assert.Len(t, tok, CancelTokenLength)
}
