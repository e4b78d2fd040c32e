// Package pdftext extracts the plain text layer of PDF documents.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

// DefaultMaxPages bounds the number of pages read from one document.
const DefaultMaxPages = 200

type Extractor struct {
	maxPages int
}

func NewExtractor(maxPages int) *Extractor {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Extractor{maxPages: maxPages}
}

// Extract returns the normalized text of data. Scanned documents without a
// text layer yield an empty string and no error.
func (e *Extractor) Extract(ctx context.Context, data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = domain.WrapError(domain.ErrInvalidInput, "extract pdf text", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract pdf text", err)
	}

	var b strings.Builder
	pages := min(reader.NumPage(), e.maxPages)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", i, err)
		}
		b.WriteString(pageText)
		b.WriteByte('\n')
	}
	return normalize(b.String()), nil
}

// normalize drops invalid UTF-8 and control characters, collapses runs of
// blanks and removes empty lines.
func normalize(raw string) string {
	raw = strings.ToValidUTF8(raw, "")
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Map(func(r rune) rune {
			switch {
			case r == utf8.RuneError:
				return -1
			case r == '\t':
				return ' '
			case unicode.IsControl(r):
				return -1
			default:
				return r
			}
		}, line)
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
