package moderation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_MasksWordsKeepingLength(t *testing.T) {
	f := NewFilter(FilterConfig{})

	tests := []struct {
		in   string
		want string
	}{
		{"well damn", "well ****"},
		{"Damn, that's rough", "****, that's rough"},
		{"clean text stays clean", "clean text stays clean"},
		{"shit happens, shit really does", "**** happens, **** really does"},
		{"", ""},
	}

	for _, tt := range tests {
		got, err := f.Clean(context.Background(), tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFilter_WordBoundaries(t *testing.T) {
	f := NewFilter(FilterConfig{})

	// Substrings inside larger words are left alone.
	got, err := f.Clean(context.Background(), "classic assessment")
	require.NoError(t, err)
	assert.Equal(t, "classic assessment", got)
}

func TestFilter_ExtraWords(t *testing.T) {
	f := NewFilter(FilterConfig{ExtraWords: []string{"Voldemort"}})

	got, err := f.Clean(context.Background(), "he who is voldemort")
	require.NoError(t, err)
	assert.Equal(t, "he who is *********", got)
}

func TestFilter_CustomPlaceholder(t *testing.T) {
	f := NewFilter(FilterConfig{Placeholder: '#'})

	got, err := f.Clean(context.Background(), "damn")
	require.NoError(t, err)
	assert.Equal(t, "####", got)
}
