// Package textextract turns uploaded documents into plain text for analysis.
package textextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxBytes bounds the size of a single uploaded document.
const MaxBytes = 25 << 20

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoText          = errors.New("no text content found")
	ErrTooLarge        = errors.New("document too large")
)

// Extractor returns the plain text of a document.
type Extractor interface {
	Extract(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Files dispatches on the file extension.
type Files struct{}

func New() Files { return Files{} }

// Supported reports whether a filename has an extension Files can read.
func Supported(filename string) bool {
	switch ext(filename) {
	case ".pdf", ".docx", ".txt", ".md":
		return true
	}
	return false
}

func (Files) Extract(ctx context.Context, filename string, r io.Reader) (string, error) {
	kind := ext(filename)
	if !Supported(filename) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, kind)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	if len(data) > MaxBytes {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var text string
	switch kind {
	case ".pdf":
		text, err = extractPDF(bytes.NewReader(data))
	case ".docx":
		text, err = extractDOCX(data)
	default:
		text, err = extractPlain(data)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filename, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("extract %s: %w", filename, ErrNoText)
	}
	return text, nil
}

func ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func extractPlain(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", errors.New("text file is not valid UTF-8")
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}
