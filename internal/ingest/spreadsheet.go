package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// LoadSpreadsheet reads the first sheet of an .xlsx file with one question per
// row. Columns are found by header name: interview (groups rows into calls),
// question, answer, reason, accuracy and an optional transcript. Rows without
// an interview key each become their own call.
func LoadSpreadsheet(path string) ([]analytics.Submission, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no sheets", analytics.ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("%w: no data rows", analytics.ErrInvalidInput)
	}

	cols := spreadsheetColumns(rows[0])
	if cols.accuracy < 0 || cols.question < 0 {
		return nil, fmt.Errorf("%w: header needs question and accuracy columns", analytics.ErrInvalidInput)
	}

	var order []string
	byKey := make(map[string]*BatchCall)
	for i, r := range rows[1:] {
		rowNum := i + 2
		if isBlankRow(r) {
			continue
		}
		key := cell(r, cols.interview)
		if key == "" {
			key = fmt.Sprintf("row-%d", rowNum)
		}
		call, ok := byKey[key]
		if !ok {
			call = &BatchCall{}
			byKey[key] = call
			order = append(order, key)
		}
		if t := cell(r, cols.transcript); t != "" && call.Transcript == "" {
			call.Transcript = t
		}

		acc, err := strconv.ParseFloat(strings.TrimSuffix(cell(r, cols.accuracy), "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: accuracy %q is not a number", analytics.ErrInvalidInput, rowNum, cell(r, cols.accuracy))
		}
		call.Questions = append(call.Questions, AnalyzedQuestion{
			Question:   cell(r, cols.question),
			FullAnswer: cell(r, cols.answer),
			Reason:     cell(r, cols.reason),
			Accuracy:   acc,
		})
	}

	b := Batch{}
	for _, key := range order {
		b.Calls = append(b.Calls, *byKey[key])
	}
	return b.submissions()
}

type columns struct {
	interview, question, answer, reason, accuracy, transcript int
}

func spreadsheetColumns(header []string) columns {
	c := columns{-1, -1, -1, -1, -1, -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "transcript"):
			c.transcript = i
		case strings.Contains(l, "interview") || strings.Contains(l, "call"):
			if c.interview == -1 {
				c.interview = i
			}
		case strings.Contains(l, "question"):
			c.question = i
		case strings.Contains(l, "reason"):
			c.reason = i
		case strings.Contains(l, "answer"):
			c.answer = i
		case strings.Contains(l, "accuracy") || strings.Contains(l, "score"):
			c.accuracy = i
		}
	}
	return c
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
