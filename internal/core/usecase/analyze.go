package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/core/ports"
)

const (
	msgUnsupportedLanguage = "Unsupported language: %s."
	msgNoDocument          = "No document provided."
	msgNotPDF              = "Only PDF files are accepted."
	msgTooLarge            = "File is too large. Maximum size is 50 MB."
	msgForeignURL          = "The document URL is not served by this application."
	msgDocumentMissing     = "The document could not be found."
	msgUnreadable          = "The document could not be read."
	msgNoText              = "The document does not contain any readable text."
	msgNotProperty         = "The document does not appear to be a property report."
	msgMissingDetails      = "The document does not contain enough property information to analyse."
	msgAnalyzerFailed      = "The analysis could not be completed. Please try again later."
)

var pdfMagic = []byte("%PDF-")

// AnalyzeDocumentUseCase extracts the text of a property report, asks the
// analyzer for an assessment and stores every run.
type AnalyzeDocumentUseCase struct {
	repo      ports.AnalysisRepository
	storage   ports.BlobStorage
	extractor ports.TextExtractor
	analyzer  ports.PropertyAnalyzer
	now       func() time.Time
}

func NewAnalyzeDocumentUseCase(
	repo ports.AnalysisRepository,
	storage ports.BlobStorage,
	extractor ports.TextExtractor,
	analyzer ports.PropertyAnalyzer,
) *AnalyzeDocumentUseCase {
	return &AnalyzeDocumentUseCase{
		repo:      repo,
		storage:   storage,
		extractor: extractor,
		analyzer:  analyzer,
		now:       time.Now,
	}
}

// AnalyzeUpload analyses an inline document. On an analysis failure the
// stored record is returned together with a *domain.AnalysisError.
func (uc *AnalyzeDocumentUseCase) AnalyzeUpload(
	ctx context.Context,
	filename string,
	data []byte,
	language string,
) (*domain.AnalysisRecord, error) {
	lang, err := validateLanguage(language)
	if err != nil {
		return nil, err
	}
	if err := validateDocument(data); err != nil {
		return nil, err
	}
	return uc.analyze(ctx, filename, "", data, lang)
}

// AnalyzeURL analyses a document previously uploaded to blob storage.
func (uc *AnalyzeDocumentUseCase) AnalyzeURL(ctx context.Context, documentURL, language string) (*domain.AnalysisRecord, error) {
	lang, err := validateLanguage(language)
	if err != nil {
		return nil, err
	}

	key, err := uc.storage.KeyFromURL(documentURL)
	if err != nil {
		return nil, validationError(msgForeignURL, err)
	}
	data, err := uc.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := validateDocument(data); err != nil {
		return nil, err
	}
	return uc.analyze(ctx, path.Base(key), documentURL, data, lang)
}

func (uc *AnalyzeDocumentUseCase) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.WrapError(domain.ErrNotFound, "get analysis", err)
	}
	return uc.repo.GetByID(ctx, id)
}

func (uc *AnalyzeDocumentUseCase) load(ctx context.Context, key string) ([]byte, error) {
	rc, err := uc.storage.Open(ctx, key)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, validationError(msgDocumentMissing, err)
		}
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, domain.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

func (uc *AnalyzeDocumentUseCase) analyze(
	ctx context.Context,
	filename, documentURL string,
	data []byte,
	language string,
) (*domain.AnalysisRecord, error) {
	now := uc.now().UTC()
	record := &domain.AnalysisRecord{
		ID:          uuid.NewString(),
		DocumentURL: documentURL,
		Filename:    filename,
		Language:    language,
		Status:      domain.AnalysisStatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create analysis record: %w", err)
	}

	outcome, aErr := uc.run(ctx, data, language)
	record.UpdatedAt = uc.now().UTC()
	if aErr != nil {
		record.Status = domain.AnalysisStatusFailed
		record.ErrorType = aErr.Type
		record.Error = aErr.Message
		if err := uc.repo.Fail(ctx, record.ID, aErr.Type, aErr.Message); err != nil {
			return nil, fmt.Errorf("%w; mark analysis failed: %v", aErr, err)
		}
		return record, aErr
	}

	record.Status = domain.AnalysisStatusCompleted
	record.Outcome = outcome
	if err := uc.repo.Complete(ctx, record.ID, outcome); err != nil {
		return nil, fmt.Errorf("complete analysis record: %w", err)
	}
	return record, nil
}

func (uc *AnalyzeDocumentUseCase) run(ctx context.Context, data []byte, language string) (domain.AnalysisOutcome, *domain.AnalysisError) {
	text, err := uc.extractor.Extract(ctx, data)
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return domain.AnalysisOutcome{}, validationError(msgUnreadable, err)
		}
		return domain.AnalysisOutcome{}, analysisError(domain.ErrorTypeProcessing, msgUnreadable, err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.AnalysisOutcome{}, analysisError(domain.ErrorTypeInsufficientData, msgNoText, nil)
	}

	outcome, err := uc.analyzer.Analyze(ctx, text, language)
	if err != nil {
		return domain.AnalysisOutcome{}, analysisError(domain.ErrorTypeProcessing, msgAnalyzerFailed, err)
	}

	switch {
	case outcome.Analysis != nil:
		if !outcome.Analysis.IsPropertyDocument {
			return domain.AnalysisOutcome{}, analysisError(domain.ErrorTypeInvalidDocumentType, msgNotProperty, nil)
		}
		if outcome.Analysis.Details.IsEmpty() {
			return domain.AnalysisOutcome{}, analysisError(domain.ErrorTypeInsufficientData, msgMissingDetails, nil)
		}
		if outcome.Analysis.Language == "" {
			outcome.Analysis.Language = language
		}
		outcome.Summary = ""
	case strings.TrimSpace(outcome.Summary) == "":
		return domain.AnalysisOutcome{}, analysisError(domain.ErrorTypeProcessing, msgAnalyzerFailed, errors.New("analyzer returned an empty reply"))
	}
	return outcome, nil
}

func validateLanguage(language string) (string, error) {
	lang, ok := domain.NormalizeLanguage(language)
	if !ok {
		return "", validationError(fmt.Sprintf(msgUnsupportedLanguage, lang), nil)
	}
	return lang, nil
}

func validateDocument(data []byte) error {
	switch {
	case len(data) == 0:
		return validationError(msgNoDocument, nil)
	case int64(len(data)) > domain.MaxUploadBytes:
		return validationError(msgTooLarge, nil)
	case !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), pdfMagic):
		return validationError(msgNotPDF, nil)
	}
	return nil
}

func validationError(message string, err error) *domain.AnalysisError {
	return analysisError(domain.ErrorTypeValidation, message, err)
}

func analysisError(kind domain.AnalysisErrorType, message string, err error) *domain.AnalysisError {
	return &domain.AnalysisError{Type: kind, Message: message, Err: err}
}
