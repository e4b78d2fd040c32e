package domain

import (
	"strings"
	"time"
)

// AnalysisErrorType is the machine-readable failure category returned to
// analysis clients.
type AnalysisErrorType string

const (
	ErrorTypeValidation          AnalysisErrorType = "validation_error"
	ErrorTypeInvalidDocumentType AnalysisErrorType = "invalid_document_type"
	ErrorTypeInsufficientData    AnalysisErrorType = "insufficient_property_data"
	ErrorTypeProcessing          AnalysisErrorType = "processing_error"
)

// AnalysisError carries a user-facing message and its category.
type AnalysisError struct {
	Type    AnalysisErrorType
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e == nil {
		return "analysis error"
	}
	if e.Err != nil {
		return string(e.Type) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Type) + ": " + e.Message
}

func (e *AnalysisError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type AnalysisStatus string

const (
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

type PropertyDetails struct {
	Address      string  `json:"address,omitempty"`
	PropertyType string  `json:"property_type,omitempty"`
	Price        string  `json:"price,omitempty"`
	Bedrooms     int     `json:"bedrooms,omitempty"`
	Bathrooms    float64 `json:"bathrooms,omitempty"`
	AreaSqm      float64 `json:"area_sqm,omitempty"`
	YearBuilt    int     `json:"year_built,omitempty"`
	EnergyRating string  `json:"energy_rating,omitempty"`
}

// IsEmpty reports whether none of the identifying details were extracted.
func (d PropertyDetails) IsEmpty() bool {
	return strings.TrimSpace(d.Address) == "" &&
		strings.TrimSpace(d.PropertyType) == "" &&
		strings.TrimSpace(d.Price) == "" &&
		d.Bedrooms == 0 && d.Bathrooms == 0 && d.AreaSqm == 0 && d.YearBuilt == 0
}

type Finding struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// PropertyAnalysis is the structured result of a property report analysis.
type PropertyAnalysis struct {
	IsPropertyDocument bool            `json:"is_property_document"`
	DocumentType       string          `json:"document_type"`
	Language           string          `json:"language"`
	Summary            string          `json:"summary"`
	Details            PropertyDetails `json:"property_details"`
	Strengths          []Finding       `json:"strengths"`
	Concerns           []Finding       `json:"concerns"`
}

// AnalysisOutcome holds either a structured analysis or a free-text summary.
type AnalysisOutcome struct {
	Analysis *PropertyAnalysis `json:"analysis,omitempty"`
	Summary  string            `json:"summary,omitempty"`
}

// AnalysisRecord is a persisted analysis run.
type AnalysisRecord struct {
	ID          string            `json:"id"`
	DocumentURL string            `json:"document_url,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	Language    string            `json:"language"`
	Status      AnalysisStatus    `json:"status"`
	ErrorType   AnalysisErrorType `json:"error_type,omitempty"`
	Error       string            `json:"error,omitempty"`
	Outcome     AnalysisOutcome   `json:"outcome"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

const DefaultLanguage = "en"

var supportedLanguages = map[string]struct{}{
	"en": {}, "es": {}, "fr": {}, "de": {}, "it": {},
	"pt": {}, "nl": {}, "pl": {}, "ru": {}, "uk": {},
}

// NormalizeLanguage lower-cases a BCP 47 tag and keeps its primary subtag.
// ok is false for unsupported languages.
func NormalizeLanguage(tag string) (string, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return DefaultLanguage, true
	}
	if idx := strings.IndexAny(tag, "-_"); idx > 0 {
		tag = tag[:idx]
	}
	_, ok := supportedLanguages[tag]
	return tag, ok
}
