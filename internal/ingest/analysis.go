// Package ingest reads analyzed calls from the formats they arrive in: the
// analyzer's JSON document, Submission JSON, YAML batches and spreadsheets.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// AnalyzedQuestion is one entry of the analyzer's output document.
type AnalyzedQuestion struct {
	Question   string  `json:"question" yaml:"question"`
	FullAnswer string  `json:"full_answer" yaml:"full_answer"`
	Accuracy   float64 `json:"accuracy" yaml:"accuracy"`
	Reason     string  `json:"reason" yaml:"reason"`
	Questioner string  `json:"questioner,omitempty" yaml:"questioner,omitempty"`
	Answerer   string  `json:"answerer,omitempty" yaml:"answerer,omitempty"`
}

// Analysis is the analyzer's output document for one call.
type Analysis struct {
	Questions []AnalyzedQuestion `json:"questions" yaml:"questions"`
}

// QuestionAnswers converts the document into validated records. The answered
// decision is taken here, once, from the answer and reason texts.
func (a Analysis) QuestionAnswers() ([]analytics.QuestionAnswer, error) {
	out := make([]analytics.QuestionAnswer, 0, len(a.Questions))
	for i, q := range a.Questions {
		qa := analytics.QuestionAnswer{
			Question: strings.TrimSpace(q.Question),
			Outcome:  analytics.NewOutcome(q.FullAnswer, q.Reason),
			Accuracy: q.Accuracy,
		}
		if err := analytics.ValidateQuestionAnswer(qa); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		out = append(out, qa)
	}
	return out, nil
}

// ParseAnalysis parses analyzer output, tolerating a surrounding markdown code fence.
func ParseAnalysis(text string) (*Analysis, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty analysis", analytics.ErrInvalidInput)
	}

	var a Analysis
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, fmt.Errorf("%w: parsing analysis: %v", analytics.ErrInvalidInput, err)
	}
	return &a, nil
}

// SubmissionFromAnalysis builds a submission from a transcript and the raw
// analyzer output for it. The raw document is kept with the call.
func SubmissionFromAnalysis(transcript, analysisText string) (analytics.Submission, error) {
	a, err := ParseAnalysis(analysisText)
	if err != nil {
		return analytics.Submission{}, err
	}
	qas, err := a.QuestionAnswers()
	if err != nil {
		return analytics.Submission{}, err
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return analytics.Submission{}, err
	}
	return analytics.Submission{
		Call:    analytics.Call{Transcript: transcript, Analysis: raw},
		Answers: qas,
	}, nil
}

// stripCodeFence removes a markdown code fence around a document.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx <= 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}
