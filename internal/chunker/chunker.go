// Package chunker splits extracted text into overlapping token windows.
// Tokens are whitespace-delimited words; sentence boundaries guide packing so
// chunks break at punctuation where possible.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Chunk is one window of the source text, ready for embedding.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
	TextHash   string
}

// Chunker packs text into windows of at most Size tokens, carrying Overlap
// trailing tokens into the next window for context continuity.
type Chunker struct {
	size    int
	overlap int
}

// New builds a chunker. Size must be positive and overlap must be smaller
// than size; config validation guarantees both.
func New(size, overlap int) *Chunker {
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks text. Empty or whitespace-only input yields no chunks.
// Indices are dense from 0; every emitted chunk has at least one token.
func (c *Chunker) Split(text string) []Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var window []string

	flush := func() {
		if len(window) == 0 {
			return
		}
		chunks = append(chunks, c.newChunk(len(chunks), window))
		// Seed the next window with the overlap suffix.
		if c.overlap > 0 && len(window) > c.overlap {
			window = append([]string(nil), window[len(window)-c.overlap:]...)
		} else if c.overlap > 0 {
			window = append([]string(nil), window...)
		} else {
			window = nil
		}
	}

	for _, sentence := range sentences {
		tokens := strings.Fields(sentence)
		if len(tokens) == 0 {
			continue
		}

		// A single sentence wider than the window degrades to word windows.
		if len(tokens) > c.size {
			if len(window) > 0 {
				flush()
				window = nil
			}
			chunks = c.appendWordWindows(chunks, tokens)
			if c.overlap > 0 {
				last := chunks[len(chunks)-1]
				carried := strings.Fields(last.Text)
				if len(carried) > c.overlap {
					carried = carried[len(carried)-c.overlap:]
				}
				window = append([]string(nil), carried...)
			}
			continue
		}

		if len(window)+len(tokens) > c.size && len(window) > 0 {
			flush()
			// The carried overlap plus this sentence may still overflow.
			if len(window)+len(tokens) > c.size {
				window = nil
			}
		}
		window = append(window, tokens...)
	}

	// Emit the trailing partial window unless it is nothing but carried
	// overlap from an already-emitted chunk.
	if len(window) > 0 && !c.onlyOverlap(chunks, window) {
		chunks = append(chunks, c.newChunk(len(chunks), window))
	}
	return chunks
}

// appendWordWindows emits fixed-stride windows over tokens. Stride is
// size-overlap with a floor of 1 to guarantee forward progress.
func (c *Chunker) appendWordWindows(chunks []Chunk, tokens []string) []Chunk {
	stride := c.size - c.overlap
	if stride < 1 {
		stride = 1
	}

	for start := 0; start < len(tokens); start += stride {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, c.newChunk(len(chunks), tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

func (c *Chunker) newChunk(index int, tokens []string) Chunk {
	text := strings.Join(tokens, " ")
	sum := sha256.Sum256([]byte(text))
	return Chunk{
		Index:      index,
		Text:       text,
		TokenCount: len(tokens),
		TextHash:   hex.EncodeToString(sum[:]),
	}
}

// onlyOverlap reports whether window holds nothing beyond the overlap suffix
// of the last emitted chunk.
func (c *Chunker) onlyOverlap(chunks []Chunk, window []string) bool {
	if len(chunks) == 0 || c.overlap == 0 {
		return false
	}
	last := strings.Fields(chunks[len(chunks)-1].Text)
	if len(window) > c.overlap || len(window) > len(last) {
		return false
	}
	tail := last[len(last)-len(window):]
	for i := range window {
		if window[i] != tail[i] {
			return false
		}
	}
	return true
}

// splitSentences breaks text on terminal punctuation followed by whitespace,
// treating blank lines as hard boundaries. It is deliberately simple; the
// chunker only needs plausible break points, not linguistic precision.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var b strings.Builder
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)

		boundary := false
		switch r {
		case '.', '!', '?':
			boundary = i+1 >= len(runes) || unicode.IsSpace(runes[i+1])
		case '\n':
			boundary = i+1 < len(runes) && runes[i+1] == '\n'
		}

		if boundary {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// CountTokens returns the whitespace token count of text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
