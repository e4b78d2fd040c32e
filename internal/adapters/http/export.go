package httpadapter

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	sheetSummary  = "Summary"
	sheetDetails  = "Details"
	sheetFindings = "Findings"
)

// buildAnalysisWorkbook renders a completed analysis as a workbook with a
// summary sheet, a property details sheet and one row per finding.
func buildAnalysisWorkbook(record *domain.AnalysisRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		_ = f.Close()
		return nil, err
	}

	analysis := record.Outcome.Analysis
	summary := record.Outcome.Summary
	documentType := ""
	if analysis != nil {
		summary = analysis.Summary
		documentType = analysis.DocumentType
	}

	rows := [][]any{
		{"Analysis ID", record.ID},
		{"Document", firstNonEmpty(record.Filename, record.DocumentURL)},
		{"Language", record.Language},
		{"Document type", documentType},
		{"Summary", summary},
		{"Created at", record.CreatedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	if err := writeRows(f, sheetSummary, rows); err != nil {
		_ = f.Close()
		return nil, err
	}
	if analysis == nil {
		return f, nil
	}

	d := analysis.Details
	detailRows := [][]any{
		{"Field", "Value"},
		{"Address", d.Address},
		{"Property type", d.PropertyType},
		{"Price", d.Price},
		{"Bedrooms", optionalNumber(float64(d.Bedrooms))},
		{"Bathrooms", optionalNumber(d.Bathrooms)},
		{"Area (sqm)", optionalNumber(d.AreaSqm)},
		{"Year built", optionalNumber(float64(d.YearBuilt))},
		{"Energy rating", d.EnergyRating},
	}
	if _, err := f.NewSheet(sheetDetails); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeRows(f, sheetDetails, detailRows); err != nil {
		_ = f.Close()
		return nil, err
	}

	findingRows := [][]any{{"Kind", "Title", "Description", "Severity"}}
	for _, s := range analysis.Strengths {
		findingRows = append(findingRows, []any{"strength", s.Title, s.Description, s.Severity})
	}
	for _, c := range analysis.Concerns {
		findingRows = append(findingRows, []any{"concern", c.Title, c.Description, c.Severity})
	}
	if _, err := f.NewSheet(sheetFindings); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeRows(f, sheetFindings, findingRows); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// optionalNumber leaves unknown numeric details blank instead of zero.
func optionalNumber(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
