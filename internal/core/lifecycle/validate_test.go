package lifecycle

import (
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

func pdfCandidate(name string, size int64) domain.UploadCandidate {
	return domain.UploadCandidate{
		Name:      name,
		MediaType: domain.PDFMediaType,
		Size:      size,
		Content:   strings.NewReader("%PDF-1.4"),
	}
}

func rejection(t *testing.T, err error) domain.RejectionReason {
	t.Helper()
	vErr, ok := domain.AsValidationError(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	return vErr.Reason
}

func TestValidateAcceptsSinglePDF(t *testing.T) {
	if err := ValidateCandidates([]domain.UploadCandidate{pdfCandidate("a.pdf", 1024)}, domain.OriginPicker); err != nil {
		t.Fatalf("expected accepted, got %v", err)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	files := []domain.UploadCandidate{pdfCandidate("a.pdf", domain.MaxUploadBytes+1)}
	first := ValidateCandidates(files, domain.OriginDrop)
	second := ValidateCandidates(files, domain.OriginDrop)
	if first == nil || second == nil || first.Error() != second.Error() {
		t.Fatalf("expected identical verdicts, got %v and %v", first, second)
	}
}

func TestValidateSizeBoundary(t *testing.T) {
	if err := ValidateCandidates([]domain.UploadCandidate{pdfCandidate("a.pdf", 50*1024*1024)}, domain.OriginPicker); err != nil {
		t.Fatalf("expected exactly 50 MiB to be accepted, got %v", err)
	}
	err := ValidateCandidates([]domain.UploadCandidate{pdfCandidate("a.pdf", 50*1024*1024+1)}, domain.OriginPicker)
	if reason := rejection(t, err); reason != domain.RejectFileTooLarge {
		t.Fatalf("expected file too large, got %s", reason)
	}
	if err.Error() != msgTooLarge {
		t.Fatalf("expected size message, got %q", err.Error())
	}
}

func TestValidateRejectsOtherMediaTypes(t *testing.T) {
	for _, mediaType := range []string{"APPLICATION/PDF", "application/pdf ", "application/x-pdf", "image/png", ""} {
		file := pdfCandidate("a.pdf", 10)
		file.MediaType = mediaType
		err := ValidateCandidates([]domain.UploadCandidate{file}, domain.OriginPicker)
		if reason := rejection(t, err); reason != domain.RejectInvalidFileType {
			t.Fatalf("media type %q: expected invalid type, got %s", mediaType, reason)
		}
	}
}

func TestValidateRejectsMultipleFilesRegardlessOfValidity(t *testing.T) {
	files := []domain.UploadCandidate{pdfCandidate("a.pdf", 10), pdfCandidate("b.pdf", 10)}

	dropErr := ValidateCandidates(files, domain.OriginDrop)
	pickErr := ValidateCandidates(files, domain.OriginPicker)
	if rejection(t, dropErr) != domain.RejectMultipleFiles || rejection(t, pickErr) != domain.RejectMultipleFiles {
		t.Fatalf("expected multiple files rejection, got %v / %v", dropErr, pickErr)
	}
	if dropErr.Error() == pickErr.Error() {
		t.Fatalf("expected distinct drop and picker messages")
	}
}

func TestValidateMultiplicityCheckedBeforeType(t *testing.T) {
	bad := pdfCandidate("a.txt", 10)
	bad.MediaType = "text/plain"
	err := ValidateCandidates([]domain.UploadCandidate{bad, bad, bad}, domain.OriginDrop)
	if reason := rejection(t, err); reason != domain.RejectMultipleFiles {
		t.Fatalf("expected multiple files rejection first, got %s", reason)
	}
}

func TestValidationErrorMatchesInvalidInput(t *testing.T) {
	err := ValidateCandidates(nil, domain.OriginPicker)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected validation error to match ErrInvalidInput, got %v", err)
	}
}

func TestBuildObjectNameSanitizesAndKeepsExtension(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	name := BuildObjectName("../My Report (final).PDF", now, "ab12cd34")
	if name != "My_Report__final-1700000000000-ab12cd34.pdf" {
		t.Fatalf("unexpected object name %q", name)
	}

	fallback := BuildObjectName("", now, "tok")
	if fallback != "document-1700000000000-tok.pdf" {
		t.Fatalf("unexpected fallback object name %q", fallback)
	}
}

func TestRandomTokenIsShortAndVaries(t *testing.T) {
	a, b := randomToken(), randomToken()
	if len(a) != 8 || len(b) != 8 {
		t.Fatalf("expected 8 character tokens, got %q and %q", a, b)
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
}
