package database

import "time"

// Stats contains aggregate database statistics.
type Stats struct {
	Interviews        int
	DirtyInterviews   int
	Recomputing       int
	CleanInterviews   int
	QuestionAnswers   int
	Calls             int
	InterviewSnapshot int
	GlobalLastUpdated *time.Time
}

// Stale reports whether the persisted global snapshot lags behind the records.
func (s Stats) Stale() bool {
	return s.GlobalLastUpdated == nil || s.DirtyInterviews > 0 || s.Recomputing > 0
}
