// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"strings"
	"unicode"
)

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// CollapseWhitespace trims text and replaces every run of whitespace with a single space.
func CollapseWhitespace(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about after again against all also am an and any are as at be because been
		before being between both but by can could did do does doing down during each few for from further had has have
		having he her here hers him his how i if in into is it its itself just me more most my no nor not now of off on
		once only or other our ours out over own said same she should so some such than that the their theirs them then
		there these they this those through to too under until up very was we were what when where which while who whom
		why will with would you your yours`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether w (lowercase) is a common English function word.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// Words lowercases text and splits it on anything that is not a letter or digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokenize returns the content-bearing words of text: lowercase, stopwords removed,
// single characters dropped, and a trailing plural "s" stripped from longer words.
func Tokenize(text string) []string {
	words := Words(text)
	out := words[:0]
	for _, w := range words {
		if len(w) < 2 || IsStopword(w) {
			continue
		}
		out = append(out, Stem(w))
	}
	return out
}

// Stem strips a plural suffix. It is intentionally minimal so that tokens stay readable.
func Stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") {
		return w[:len(w)-1]
	}
	return w
}

// SplitSentences splits text on sentence-ending punctuation followed by whitespace.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(strings.TrimSpace(text))
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
