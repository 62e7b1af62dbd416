package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

const (
	globalSheet     = "Global"
	interviewsSheet = "Interviews"
)

var interviewHeader = []any{
	"Interview", "Questions", "Answered", "Unanswered", "Answered %", "Unanswered %",
	"Average accuracy", "Answered accuracy", "High", "Medium", "Low", "With reason", "Updated",
}

// WriteXLSX writes the global snapshot and the interview snapshots as a
// two-sheet workbook.
func WriteXLSX(w io.Writer, d Data) error {
	f, err := Workbook(d)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveXLSX is WriteXLSX to a file.
func SaveXLSX(path string, d Data) error {
	f, err := Workbook(d)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// Workbook builds the export in memory. The caller closes it.
func Workbook(d Data) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", globalSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(interviewsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("add sheet: %w", err)
	}
	if err := writeGlobal(f, d); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeInterviews(f, d.Interviews); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeGlobal(f *excelize.File, d Data) error {
	rows := [][]any{{"Metric", "Value"}, {"Period", periodLabel(d.Period)}}
	if g := d.Global; g != nil {
		rows = append(rows,
			[]any{"Interviews", g.TotalInterviews},
			[]any{"Questions", g.TotalQuestions},
			[]any{"Answered", g.TotalAnswered},
			[]any{"Unanswered", g.TotalUnanswered},
			[]any{"With reason", g.TotalWithReason},
			[]any{"High confidence", g.TotalHighConfidence},
			[]any{"Medium confidence", g.TotalMediumConfidence},
			[]any{"Low confidence", g.TotalLowConfidence},
			[]any{"Answered %", g.GlobalAnsweredPercent},
			[]any{"Unanswered %", g.GlobalUnansweredPercent},
			[]any{"Average accuracy", g.GlobalAverageAccuracy},
			[]any{"Answered accuracy", g.GlobalAnsweredAccuracy},
		)
		if g.HasBest() {
			rows = append(rows,
				[]any{"Best interview", g.BestInterviewID},
				[]any{"Best score", g.BestInterviewScore},
				[]any{"Worst interview", g.WorstInterviewID},
				[]any{"Worst score", g.WorstInterviewScore},
			)
		}
		rows = append(rows, []any{"Last updated", g.LastUpdated.UTC().Format(time.RFC3339)})
	}
	rows = append(rows, []any{"Stale", d.Stale})
	return setRows(f, globalSheet, rows)
}

func writeInterviews(f *excelize.File, items []analytics.InterviewAnalytics) error {
	rows := make([][]any, 0, len(items)+1)
	rows = append(rows, interviewHeader)
	for _, a := range items {
		rows = append(rows, []any{
			a.InterviewID, a.TotalQuestions, a.AnsweredQuestions, a.UnansweredQuestions,
			a.AnsweredPercentage, a.UnansweredPercentage,
			a.AverageAccuracy, a.AverageAnsweredAccuracy,
			a.HighConfidenceQuestions, a.MediumConfidenceQuestions, a.LowConfidenceQuestions,
			a.QuestionsWithReason, a.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return setRows(f, interviewsSheet, rows)
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func periodLabel(period string) string {
	if period == "" {
		return "all"
	}
	return period
}
