// Package extractor turns document files into normalized UTF-8 text. Each
// supported extension maps to an extractor function; unsupported or binary
// content yields a placeholder string rather than an error, so every scanned
// file gets a catalog row even when its text cannot be recovered.
package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// maxTextBytes caps how much of a single document the extractor will read.
// Larger files are truncated, not failed.
const maxTextBytes = 16 << 20

// ExtractFunc reads one file and returns its text.
type ExtractFunc func(path string) (string, error)

// Extractor dispatches files to format handlers by extension.
type Extractor struct {
	byExtension map[string]ExtractFunc
	logger      observability.Logger
}

func New(logger observability.Logger) *Extractor {
	e := &Extractor{
		byExtension: make(map[string]ExtractFunc),
		logger:      logger.WithPrefix("extractor"),
	}
	e.byExtension[".txt"] = extractPlainText
	e.byExtension[".md"] = extractPlainText
	e.byExtension[".markdown"] = extractPlainText
	e.byExtension[".pdf"] = extractPDFPlaceholder
	e.byExtension[".docx"] = extractDocx
	return e
}

// Extract returns the file's text. Unknown extensions are tried as UTF-8
// text; content that fails the heuristic comes back as a binary placeholder.
// An empty string is a valid result (the file syncs with zero chunks).
func (e *Extractor) Extract(path string, mimeType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if fn, ok := e.byExtension[ext]; ok {
		text, err := fn(path)
		if err != nil {
			return "", &models.ExtractionError{Path: path, Err: err}
		}
		return text, nil
	}

	if strings.HasPrefix(mimeType, "text/") {
		text, err := extractPlainText(path)
		if err != nil {
			return "", &models.ExtractionError{Path: path, Err: err}
		}
		return text, nil
	}

	data, err := readCapped(path)
	if err != nil {
		return "", &models.ExtractionError{Path: path, Err: err}
	}
	if looksLikeText(data) {
		return normalizeText(data), nil
	}

	e.logger.Debug("binary content, emitting placeholder", map[string]interface{}{
		"path": path, "mime_type": mimeType,
	})
	return fmt.Sprintf("[Binary document: %s]", filepath.Base(path)), nil
}

func extractPlainText(path string) (string, error) {
	data, err := readCapped(path)
	if err != nil {
		return "", err
	}
	return normalizeText(data), nil
}

// extractPDFPlaceholder stands in for a real PDF text extractor. The pipeline
// still records the file so retrieval can surface its existence by name.
func extractPDFPlaceholder(path string) (string, error) {
	return fmt.Sprintf("[PDF document: %s]", filepath.Base(path)), nil
}

func readCapped(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if info.Size() > maxTextBytes {
		data = data[:maxTextBytes]
	}
	return data, nil
}

// normalizeText enforces valid UTF-8 (replacing bad sequences), strips BOM
// and NUL bytes, and normalizes CRLF line endings.
func normalizeText(data []byte) string {
	s := string(data)
	s = strings.TrimPrefix(s, "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// looksLikeText is a cheap binary sniff: reject content with NUL bytes or a
// high share of invalid UTF-8 in the first 8KB.
func looksLikeText(data []byte) bool {
	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	if len(sample) == 0 {
		return true
	}

	invalid := 0
	for i := 0; i < len(sample); {
		if sample[i] == 0 {
			return false
		}
		r, size := utf8.DecodeRune(sample[i:])
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		i += size
	}
	return invalid*10 < len(sample)
}
