package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

func propertyAnalysis() *domain.PropertyAnalysis {
	return &domain.PropertyAnalysis{
		IsPropertyDocument: true,
		DocumentType:       "survey",
		Summary:            "Well kept flat.",
		Details:            domain.PropertyDetails{Address: "1 High Street", Bedrooms: 2},
		Strengths:          []domain.Finding{{Title: "Location", Description: "Close to transport"}},
		Concerns:           []domain.Finding{{Title: "Roof", Description: "Needs repair", Severity: "medium"}},
	}
}

type analyzeFixture struct {
	repo      *analysisRepoFake
	storage   *storageFake
	extractor *extractorFake
	analyzer  *analyzerFake
	uc        *AnalyzeDocumentUseCase
}

func newAnalyzeFixture() *analyzeFixture {
	f := &analyzeFixture{
		repo:      newAnalysisRepoFake(),
		storage:   newStorageFake(),
		extractor: &extractorFake{text: "Survey report for 1 High Street"},
		analyzer:  &analyzerFake{outcome: domain.AnalysisOutcome{Analysis: propertyAnalysis()}},
	}
	f.uc = NewAnalyzeDocumentUseCase(f.repo, f.storage, f.extractor, f.analyzer)
	return f
}

func asAnalysisError(t *testing.T, err error) *domain.AnalysisError {
	t.Helper()
	var aErr *domain.AnalysisError
	if !errors.As(err, &aErr) {
		t.Fatalf("expected analysis error, got %v", err)
	}
	return aErr
}

func TestAnalyzeUploadCompletesAndPersists(t *testing.T) {
	f := newAnalyzeFixture()

	record, err := f.uc.AnalyzeUpload(context.Background(), "survey.pdf", samplePDF, "FR-ca")
	if err != nil {
		t.Fatalf("AnalyzeUpload() error = %v", err)
	}
	if record.Status != domain.AnalysisStatusCompleted || record.Outcome.Analysis == nil {
		t.Fatalf("unexpected record %+v", record)
	}
	if f.analyzer.language != "fr" || record.Language != "fr" {
		t.Fatalf("expected normalized language fr, got analyzer=%q record=%q", f.analyzer.language, record.Language)
	}
	stored, err := f.uc.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != domain.AnalysisStatusCompleted || stored.Outcome.Analysis.Details.Address != "1 High Street" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
}

func TestAnalyzeUploadFreeTextBecomesSummary(t *testing.T) {
	f := newAnalyzeFixture()
	f.analyzer.outcome = domain.AnalysisOutcome{Summary: "A pleasant two bedroom flat."}

	record, err := f.uc.AnalyzeUpload(context.Background(), "survey.pdf", samplePDF, "")
	if err != nil {
		t.Fatalf("AnalyzeUpload() error = %v", err)
	}
	if record.Outcome.Summary != "A pleasant two bedroom flat." || record.Outcome.Analysis != nil {
		t.Fatalf("unexpected outcome %+v", record.Outcome)
	}
	if record.Language != domain.DefaultLanguage {
		t.Fatalf("expected default language, got %q", record.Language)
	}
}

func TestAnalyzeUploadValidation(t *testing.T) {
	f := newAnalyzeFixture()
	cases := map[string]struct {
		data     []byte
		language string
	}{
		"unsupported language": {samplePDF, "xx"},
		"empty document":       {nil, "en"},
		"not a pdf":            {[]byte("hello world"), "en"},
	}
	for name, tc := range cases {
		record, err := f.uc.AnalyzeUpload(context.Background(), "a.pdf", tc.data, tc.language)
		aErr := asAnalysisError(t, err)
		if aErr.Type != domain.ErrorTypeValidation {
			t.Fatalf("%s: expected validation error, got %s", name, aErr.Type)
		}
		if record != nil {
			t.Fatalf("%s: validation failures must not be persisted", name)
		}
	}
	if len(f.repo.records) != 0 || f.analyzer.calls != 0 {
		t.Fatalf("validation failures must not reach the analyzer")
	}
}

func TestAnalyzeUploadFailureCategories(t *testing.T) {
	cases := map[string]struct {
		setup func(*analyzeFixture)
		want  domain.AnalysisErrorType
	}{
		"empty text": {
			setup: func(f *analyzeFixture) { f.extractor.text = "  \n " },
			want:  domain.ErrorTypeInsufficientData,
		},
		"unreadable pdf": {
			setup: func(f *analyzeFixture) { f.extractor.err = errors.New("malformed xref") },
			want:  domain.ErrorTypeProcessing,
		},
		"not a property document": {
			setup: func(f *analyzeFixture) {
				a := propertyAnalysis()
				a.IsPropertyDocument = false
				f.analyzer.outcome = domain.AnalysisOutcome{Analysis: a}
			},
			want: domain.ErrorTypeInvalidDocumentType,
		},
		"missing details": {
			setup: func(f *analyzeFixture) {
				a := propertyAnalysis()
				a.Details = domain.PropertyDetails{}
				f.analyzer.outcome = domain.AnalysisOutcome{Analysis: a}
			},
			want: domain.ErrorTypeInsufficientData,
		},
		"analyzer failure": {
			setup: func(f *analyzeFixture) {
				f.analyzer.err = domain.WrapError(domain.ErrTemporary, "generate", errors.New("timeout"))
			},
			want: domain.ErrorTypeProcessing,
		},
		"empty reply": {
			setup: func(f *analyzeFixture) { f.analyzer.outcome = domain.AnalysisOutcome{} },
			want:  domain.ErrorTypeProcessing,
		},
	}

	for name, tc := range cases {
		f := newAnalyzeFixture()
		tc.setup(f)

		record, err := f.uc.AnalyzeUpload(context.Background(), "a.pdf", samplePDF, "en")
		aErr := asAnalysisError(t, err)
		if aErr.Type != tc.want {
			t.Fatalf("%s: expected %s, got %s", name, tc.want, aErr.Type)
		}
		if record == nil || record.Status != domain.AnalysisStatusFailed || record.ErrorType != tc.want {
			t.Fatalf("%s: unexpected record %+v", name, record)
		}
		stored := f.repo.records[record.ID]
		if stored == nil || stored.Status != domain.AnalysisStatusFailed || stored.Error == "" {
			t.Fatalf("%s: expected failed run to be persisted, got %+v", name, stored)
		}
	}
}

func TestAnalyzeURLLoadsFromStorage(t *testing.T) {
	f := newAnalyzeFixture()
	f.storage.objects["survey-1-abc.pdf"] = samplePDF

	record, err := f.uc.AnalyzeURL(context.Background(), testBlobBase+"survey-1-abc.pdf", "de")
	if err != nil {
		t.Fatalf("AnalyzeURL() error = %v", err)
	}
	if record.Filename != "survey-1-abc.pdf" || record.DocumentURL != testBlobBase+"survey-1-abc.pdf" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestAnalyzeURLRejectsMissingOrForeignDocuments(t *testing.T) {
	f := newAnalyzeFixture()

	for _, u := range []string{testBlobBase + "missing.pdf", "https://elsewhere.test/a.pdf"} {
		_, err := f.uc.AnalyzeURL(context.Background(), u, "en")
		if aErr := asAnalysisError(t, err); aErr.Type != domain.ErrorTypeValidation {
			t.Fatalf("%s: expected validation error, got %s", u, aErr.Type)
		}
	}
}

func TestAnalyzeReturnsRepositoryFailure(t *testing.T) {
	f := newAnalyzeFixture()
	f.repo.createErr = errors.New("db down")

	_, err := f.uc.AnalyzeUpload(context.Background(), "a.pdf", samplePDF, "en")
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected repository error, got %v", err)
	}
	var aErr *domain.AnalysisError
	if errors.As(err, &aErr) {
		t.Fatalf("repository failures are not analysis errors")
	}
}

func TestGetAnalysisRejectsMalformedID(t *testing.T) {
	f := newAnalyzeFixture()
	if _, err := f.uc.GetByID(context.Background(), "not-a-uuid"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
