// Package analytics turns scored question/answer records into per-interview and
// corpus-wide summaries. Everything here is pure: persistence and scheduling
// live in the database and scheduler packages.
package analytics

import (
	"encoding/json"
	"time"
)

// State is the recompute state of an interview's snapshot.
type State string

const (
	StateDirty       State = "dirty"
	StateRecomputing State = "recomputing"
	StateClean       State = "clean"
)

// Interview groups the question/answer records extracted from one analyzed call.
type Interview struct {
	ID        int64     `json:"id"`
	State     State     `json:"state"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Call is the transcript and raw analyzer output an interview was built from.
type Call struct {
	ID          int64           `json:"id"`
	InterviewID int64           `json:"interviewId"`
	Transcript  string          `json:"transcript"`
	Analysis    json.RawMessage `json:"analysis,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// QuestionAnswer is one scored question/answer unit from a call transcript.
type QuestionAnswer struct {
	ID          int64     `json:"id"`
	InterviewID int64     `json:"interviewId"`
	Question    string    `json:"question"`
	Outcome     Outcome   `json:"outcome"`
	Accuracy    float64   `json:"accuracy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Submission is a completed call plus its extracted question/answer set,
// delivered by the analysis pipeline as one unit.
type Submission struct {
	Call    Call             `json:"call"`
	Answers []QuestionAnswer `json:"answers"`
}

// InterviewAnalytics is the derived snapshot for one interview.
//
// AccuracySum and AnsweredAccuracySum are the raw sums the averages were
// computed from. The global fold weights by question count through them.
type InterviewAnalytics struct {
	InterviewID               int64     `json:"interviewId"`
	TotalQuestions            int       `json:"totalQuestions"`
	AnsweredQuestions         int       `json:"answeredQuestions"`
	UnansweredQuestions       int       `json:"unansweredQuestions"`
	AnsweredPercentage        float64   `json:"answeredPercentage"`
	UnansweredPercentage      float64   `json:"unansweredPercentage"`
	AverageAccuracy           float64   `json:"averageAccuracy"`
	AverageAnsweredAccuracy   float64   `json:"averageAnsweredAccuracy"`
	HighConfidenceQuestions   int       `json:"highConfidenceQuestions"`
	MediumConfidenceQuestions int       `json:"mediumConfidenceQuestions"`
	LowConfidenceQuestions    int       `json:"lowConfidenceQuestions"`
	QuestionsWithReason       int       `json:"questionsWithReason"`
	AccuracySum               float64   `json:"accuracySum"`
	AnsweredAccuracySum       float64   `json:"answeredAccuracySum"`
	CreatedAt                 time.Time `json:"createdAt"`
	UpdatedAt                 time.Time `json:"updatedAt"`
}

// GlobalAnalytics is the singleton rollup across all interviews.
type GlobalAnalytics struct {
	TotalInterviews         int       `json:"totalInterviews"`
	TotalQuestions          int       `json:"totalQuestions"`
	TotalAnswered           int       `json:"totalAnswered"`
	TotalUnanswered         int       `json:"totalUnanswered"`
	TotalWithReason         int       `json:"totalWithReason"`
	TotalHighConfidence     int       `json:"totalHighConfidence"`
	TotalMediumConfidence   int       `json:"totalMediumConfidence"`
	TotalLowConfidence      int       `json:"totalLowConfidence"`
	GlobalAnsweredPercent   float64   `json:"globalAnsweredPercent"`
	GlobalUnansweredPercent float64   `json:"globalUnansweredPercent"`
	GlobalAverageAccuracy   float64   `json:"globalAverageAccuracy"`
	GlobalAnsweredAccuracy  float64   `json:"globalAnsweredAccuracy"`
	BestInterviewID         int64     `json:"bestInterviewID"`
	BestInterviewScore      float64   `json:"bestInterviewScore"`
	WorstInterviewID        int64     `json:"worstInterviewID"`
	WorstInterviewScore     float64   `json:"worstInterviewScore"`
	LastUpdated             time.Time `json:"lastUpdated"`
}

// HasBest reports whether any interview was eligible for best/worst selection.
func (g GlobalAnalytics) HasBest() bool {
	return g.BestInterviewID != NoInterview
}

// Filter narrows which interviews a listing or an ad-hoc rollup covers.
// Zero values mean "no bound".
type Filter struct {
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	MinAccuracy *float64   `json:"minAccuracy,omitempty"`
	MaxAccuracy *float64   `json:"maxAccuracy,omitempty"`

	// CleanOnly drops interviews whose snapshot is behind their records.
	CleanOnly bool `json:"-"`
}

// UTC normalises a timestamp before it is stored in a snapshot.
func UTC(t time.Time) time.Time {
	return t.UTC()
}

// WithInterview returns a copy of qa attached to interviewID.
func (qa QuestionAnswer) WithInterview(interviewID int64) QuestionAnswer {
	qa.InterviewID = interviewID
	return qa
}
