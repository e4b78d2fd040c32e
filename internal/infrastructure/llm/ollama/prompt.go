package ollama

import (
	"fmt"
	"unicode/utf8"
)

// maxReportRunes bounds the report text sent to the model.
const maxReportRunes = 24000

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"pl": "Polish",
	"ru": "Russian",
	"uk": "Ukrainian",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return languageNames["en"]
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

func buildAnalysisPrompt(text, language string) string {
	return fmt.Sprintf(`You are an experienced property surveyor reviewing a document for a prospective buyer.
First decide whether the document is a property report (survey, valuation, inspection, listing, energy certificate or similar).
Return a strict JSON object with keys:
is_property_document (boolean), document_type (string), language (string, ISO 639-1 code), summary (string),
property_details (object with optional keys address, property_type, price, bedrooms (integer), bathrooms (number),
area_sqm (number), year_built (integer), energy_rating),
strengths (array of {title, description}), concerns (array of {title, description, severity: low|medium|high}).
If the document is not a property report, set is_property_document to false and leave the other fields empty.
Write every text value in %s and use %q as language. Do not invent details that are not in the document.
No markdown, no extra keys.

Document:
%s
`, languageName(language), language, truncateRunes(text, maxReportRunes))
}
