// Package rag is the default knowledge collaborator: it seeds a corpus
// (chunk, embed, upsert) and retrieves passages for the context builder.
package rag

import (
	"strings"
	"unicode/utf8"
)

// Chunking defaults, in runes.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

// separators are tried in order: paragraphs, lines, sentences, words.
// The empty separator means a hard cut.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Split cuts text into pieces of at most size runes, carrying the last
// overlap runes of each piece into the next one.
func Split(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	return split(text, separators, size, overlap)
}

func split(text string, seps []string, size, overlap int) []string {
	sep, segments := pickSeparator(text, seps, size)

	var (
		out     []string
		current string
	)
	flush := func() {
		if s := strings.TrimSpace(current); s != "" {
			out = append(out, s)
		}
	}
	for _, seg := range segments {
		// A segment that alone exceeds the size goes down one separator level.
		if utf8.RuneCountInString(seg) > size && sep != "" {
			flush()
			current = ""
			out = append(out, split(seg, nextSeparators(seps, sep), size, overlap)...)
			continue
		}
		candidate := seg
		if current != "" {
			candidate = current + sep + seg
		}
		if utf8.RuneCountInString(candidate) <= size {
			current = candidate
			continue
		}
		flush()
		tail := lastRunes(current, overlap)
		if tail != "" && utf8.RuneCountInString(tail)+len(sep)+utf8.RuneCountInString(seg) <= size {
			current = tail + sep + seg
		} else {
			current = seg
		}
	}
	flush()
	return out
}

func pickSeparator(text string, seps []string, size int) (string, []string) {
	for _, sep := range seps {
		if sep == "" {
			return "", runeWindows(text, size)
		}
		if parts := strings.Split(text, sep); len(parts) > 1 {
			return sep, parts
		}
	}
	return "", runeWindows(text, size)
}

func nextSeparators(seps []string, used string) []string {
	for i, s := range seps {
		if s == used {
			return seps[i+1:]
		}
	}
	return []string{""}
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[len(r)-n:])
}

func runeWindows(text string, n int) []string {
	r := []rune(text)
	var out []string
	for i := 0; i < len(r); i += n {
		end := min(i+n, len(r))
		out = append(out, string(r[i:end]))
	}
	return out
}
