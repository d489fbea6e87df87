// Package chunk splits abstracts into embedding-sized text spans. Two
// strategies exist: fixed token windows for the complete-abstract index and
// sentence splitting for the sentence index.
package chunk

import (
	"strings"
	"unicode"
)

// Chunker splits one text into ordered chunks.
type Chunker interface {
	Split(text string) []string
}

// Defaults sized to the embedding model's 512-token input window.
const (
	DefaultTokensPerChunk = 512
	DefaultTokenOverlap   = 50
)

// TokenChunker produces overlapping fixed-size token windows. Token here
// means whitespace token; the embedding service re-tokenizes internally and
// the window is sized well under its limit.
type TokenChunker struct {
	TokensPerChunk int
	Overlap        int
}

// NewTokenChunker returns a TokenChunker with the default window.
func NewTokenChunker() TokenChunker {
	return TokenChunker{TokensPerChunk: DefaultTokensPerChunk, Overlap: DefaultTokenOverlap}
}

// Split returns the token windows of text in order. Short texts yield a
// single chunk; empty text yields none.
func (c TokenChunker) Split(text string) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	size := c.TokensPerChunk
	if size <= 0 {
		size = DefaultTokensPerChunk
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(tokens); start += step {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]bool{
	"e.g": true, "i.e": true, "etc": true, "vs": true, "cf": true,
	"al": true, "fig": true, "figs": true, "no": true, "nos": true,
	"dr": true, "prof": true, "st": true, "ca": true, "approx": true,
	"resp": true, "spp": true, "subsp": true,
}

// SentenceChunker splits text into sentences, keeping abbreviations and
// decimal numbers intact.
type SentenceChunker struct{}

// NewSentenceChunker returns a SentenceChunker.
func NewSentenceChunker() SentenceChunker { return SentenceChunker{} }

// Split returns the trimmed sentences of text in order.
func (SentenceChunker) Split(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		if ch == '.' && !sentenceBoundary(runes, i) {
			continue
		}
		// Consume trailing closers like quotes or parentheses.
		end := i + 1
		for end < len(runes) && (runes[end] == ')' || runes[end] == ']' || runes[end] == '"' || runes[end] == '\'') {
			end++
		}
		if sentence := strings.TrimSpace(string(runes[start:end])); sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = end
		i = end - 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// sentenceBoundary reports whether the period at position i ends a
// sentence rather than an abbreviation or a decimal number.
func sentenceBoundary(runes []rune, i int) bool {
	// Decimal number: digit on both sides.
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}

	// The next non-space rune must start a new sentence.
	next := i + 1
	for next < len(runes) && runes[next] == ' ' {
		next++
	}
	if next < len(runes) && next > i+1 &&
		!unicode.IsUpper(runes[next]) && !unicode.IsDigit(runes[next]) && runes[next] != '(' && runes[next] != '"' {
		return false
	}
	if next == i+1 && next < len(runes) {
		// No space after the period, mid-token (e.g. "e.g.," or a version
		// string); not a boundary.
		return false
	}

	// Word before the period must not be a known abbreviation.
	wordStart := i
	for wordStart > 0 && (unicode.IsLetter(runes[wordStart-1]) || runes[wordStart-1] == '.') {
		wordStart--
	}
	word := strings.ToLower(strings.Trim(string(runes[wordStart:i]), "."))
	if abbreviations[word] {
		return false
	}
	// Single-letter initials ("J. Smith").
	if len(word) == 1 {
		return false
	}
	return true
}
