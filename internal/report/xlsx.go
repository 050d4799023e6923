package report

import (
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"
)

const (
	scoresSheet  = "Scores"
	summarySheet = "Summary"
)

// WriteXLSX writes the report as a workbook with a Summary sheet (one row per
// backend) and a Scores sheet (one row per document/backend pair). Absent
// metrics are left blank.
func WriteXLSX(w io.Writer, r *Report, precision int) error {
	if precision < 0 {
		precision = DefaultPrecision
	}
	round := func(v *float64) any {
		if v == nil {
			return ""
		}
		p := math.Pow10(precision)
		return math.Round(*v*p) / p
	}

	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with a default Sheet1.
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("xlsx rename sheet: %w", err)
	}
	if _, err := f.NewSheet(scoresSheet); err != nil {
		return fmt.Errorf("xlsx new sheet: %w", err)
	}

	writeRow := func(sheet string, row int, values ...any) {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	writeRow(summarySheet, 1,
		"Backend", "Avg CER", "Avg WER", "Avg Table F1", "Avg Heading F1",
		"Avg Reading Order", "Avg Time (ms)", "Scored", "Skipped (missing field)", "Skipped (error)",
	)
	for i, s := range r.BackendSummaries {
		writeRow(summarySheet, i+2,
			s.BackendName,
			round(s.AvgCER),
			round(s.AvgWER),
			round(s.AvgTableF1),
			round(s.AvgHeadingF1),
			round(s.AvgReadingOrderScore),
			round(s.AvgProcessingTimeMS),
			s.ScoredCount,
			s.SkippedMissingFieldCount,
			s.SkippedErrorCount,
		)
	}

	writeRow(scoresSheet, 1,
		"Document", "Category", "Backend", "CER", "WER", "Table F1",
		"Heading F1", "Reading Order", "Time (ms)", "Error",
	)
	for i, s := range r.Scores {
		errMsg := ""
		if s.Error != nil {
			errMsg = s.Error.Kind + ": " + s.Error.Message
		}
		writeRow(scoresSheet, i+2,
			s.DocumentID,
			s.Category,
			s.BackendName,
			round(s.CER),
			round(s.WER),
			round(s.TableF1),
			round(s.HeadingF1),
			round(s.ReadingOrderScore),
			s.ProcessingTimeMS,
			errMsg,
		)
	}

	_ = f.SetColWidth(summarySheet, "A", "A", 22)
	_ = f.SetColWidth(summarySheet, "B", "J", 16)
	_ = f.SetColWidth(scoresSheet, "A", "C", 22)
	_ = f.SetColWidth(scoresSheet, "D", "I", 14)
	_ = f.SetColWidth(scoresSheet, "J", "J", 60)

	if idx, err := f.GetSheetIndex(summarySheet); err == nil {
		f.SetActiveSheet(idx)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
