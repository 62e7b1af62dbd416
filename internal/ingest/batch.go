package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// Batch is the YAML/JSON batch file format: several calls in one file.
type Batch struct {
	Calls []BatchCall `json:"calls" yaml:"calls"`
}

// BatchCall is one call of a batch. Either Questions (analyzer fields) or
// Answers (explicit outcomes) may be given.
type BatchCall struct {
	Transcript string                     `json:"transcript" yaml:"transcript"`
	Questions  []AnalyzedQuestion         `json:"questions" yaml:"questions"`
	Answers    []analytics.QuestionAnswer `json:"answers" yaml:"-"`
}

// LoadFile reads submissions from a file, picking the format by extension:
// .json (analyzer output, a Submission, or a batch), .yaml/.yml (batch) and
// .xlsx (one row per question).
func LoadFile(path string) ([]analytics.Submission, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadSpreadsheet(path)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return ParseYAMLBatch(data)
	case ".json", ".md", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", analytics.ErrInvalidInput, filepath.Ext(path))
	}
}

// ParseJSON accepts analyzer output, a single Submission or a batch.
func ParseJSON(data []byte) ([]analytics.Submission, error) {
	text := stripCodeFence(string(data))
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, fmt.Errorf("%w: parsing JSON: %v", analytics.ErrInvalidInput, err)
	}

	switch {
	case probe["calls"] != nil:
		var b Batch
		if err := json.Unmarshal([]byte(text), &b); err != nil {
			return nil, fmt.Errorf("%w: parsing batch: %v", analytics.ErrInvalidInput, err)
		}
		return b.submissions()
	case probe["questions"] != nil:
		sub, err := SubmissionFromAnalysis("", text)
		if err != nil {
			return nil, err
		}
		return []analytics.Submission{sub}, nil
	default:
		sub, err := ParseSubmission([]byte(text))
		if err != nil {
			return nil, err
		}
		return []analytics.Submission{sub}, nil
	}
}

// ParseSubmission decodes a Submission and validates its records.
func ParseSubmission(data []byte) (analytics.Submission, error) {
	var sub analytics.Submission
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		return analytics.Submission{}, fmt.Errorf("%w: parsing submission: %v", analytics.ErrInvalidInput, err)
	}
	for i, qa := range sub.Answers {
		if err := analytics.ValidateQuestionAnswer(qa); err != nil {
			return analytics.Submission{}, fmt.Errorf("answer %d: %w", i+1, err)
		}
	}
	return sub, nil
}

// ParseYAMLBatch decodes a YAML batch file.
func ParseYAMLBatch(data []byte) ([]analytics.Submission, error) {
	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: parsing YAML batch: %v", analytics.ErrInvalidInput, err)
	}
	return b.submissions()
}

func (b Batch) submissions() ([]analytics.Submission, error) {
	out := make([]analytics.Submission, 0, len(b.Calls))
	for i, c := range b.Calls {
		qas := c.Answers
		if len(c.Questions) > 0 {
			var err error
			qas, err = Analysis{Questions: c.Questions}.QuestionAnswers()
			if err != nil {
				return nil, fmt.Errorf("call %d: %w", i+1, err)
			}
		}
		for j, qa := range qas {
			if err := analytics.ValidateQuestionAnswer(qa); err != nil {
				return nil, fmt.Errorf("call %d answer %d: %w", i+1, j+1, err)
			}
		}
		sub := analytics.Submission{Call: analytics.Call{Transcript: c.Transcript}, Answers: qas}
		if len(c.Questions) > 0 {
			raw, err := json.Marshal(Analysis{Questions: c.Questions})
			if err != nil {
				return nil, err
			}
			sub.Call.Analysis = raw
		}
		out = append(out, sub)
	}
	return out, nil
}
