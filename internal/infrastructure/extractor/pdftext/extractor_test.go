package pdftext

import (
	"context"
	"testing"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

func TestExtractRejectsNonPDF(t *testing.T) {
	_, err := NewExtractor(0).Extract(context.Background(), []byte("plain text, not a pdf"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := normalize("  Survey\treport \x00\n\n\n 3  bedrooms \r\n\xff")
	want := "Survey report\n3 bedrooms"
	if got != want {
		t.Fatalf("normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if got := normalize(" \n\t\n "); got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}
}
