// Package moderation cleans user text before it is stored and, optionally,
// scores it for toxicity through an external analysis API.
package moderation

import (
	"context"
	"strings"
	"unicode"
)

// Moderator is the contract the lifecycle engine consumes.
type Moderator interface {
	// Clean returns the text with disallowed words masked, or an
	// InvalidArgument error when the text cannot be salvaged.
	Clean(ctx context.Context, text string) (string, error)
}

// defaultWordlist is a starter profanity list; deployments extend it via
// FilterConfig. Matching is case-insensitive on word boundaries.
var defaultWordlist = []string{
	"ass", "asshole", "bastard", "bitch", "crap", "cunt", "damn",
	"dick", "fuck", "fucker", "fucking", "piss", "prick", "shit",
	"slut", "twat", "whore",
}

// FilterConfig configures the wordlist filter.
type FilterConfig struct {
	// ExtraWords are appended to the default wordlist.
	ExtraWords []string

	// Placeholder replaces each character of a masked word (default '*').
	Placeholder rune
}

// Filter masks wordlist matches the way the app's original bad-words filter
// did: the word keeps its length, every character becomes the placeholder.
type Filter struct {
	words       map[string]struct{}
	placeholder rune
}

// NewFilter creates a Filter with the default wordlist plus cfg.ExtraWords.
func NewFilter(cfg FilterConfig) *Filter {
	words := make(map[string]struct{}, len(defaultWordlist)+len(cfg.ExtraWords))
	for _, w := range defaultWordlist {
		words[w] = struct{}{}
	}
	for _, w := range cfg.ExtraWords {
		words[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	placeholder := cfg.Placeholder
	if placeholder == 0 {
		placeholder = '*'
	}
	return &Filter{words: words, placeholder: placeholder}
}

// Clean implements Moderator.
func (f *Filter) Clean(_ context.Context, text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))

	runes := []rune(text)
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		word := string(runes[start:end])
		if _, bad := f.words[strings.ToLower(word)]; bad {
			for range word {
				b.WriteRune(f.placeholder)
			}
		} else {
			b.WriteString(word)
		}
		start = -1
	}

	for i, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		b.WriteRune(r)
	}
	flush(len(runes))

	return b.String(), nil
}
