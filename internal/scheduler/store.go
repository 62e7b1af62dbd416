package scheduler

import (
	"context"
	"time"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// Store is the record store the scheduler reads from and writes snapshots to.
// *database.DB implements it.
type Store interface {
	SaveSubmission(ctx context.Context, sub analytics.Submission, now time.Time) (int64, error)
	ReplaceQuestionAnswers(ctx context.Context, interviewID int64, qas []analytics.QuestionAnswer, now time.Time) error
	InsertQuestionAnswer(ctx context.Context, qa analytics.QuestionAnswer, now time.Time) (int64, error)
	UpdateQuestionAnswer(ctx context.Context, qa analytics.QuestionAnswer, now time.Time) (int64, error)
	DeleteInterview(ctx context.Context, id int64) error

	QuestionAnswers(ctx context.Context, interviewID int64) ([]analytics.QuestionAnswer, int64, error)
	InterviewIDsByState(ctx context.Context, states ...analytics.State) ([]int64, error)
	CountInterviewsByState(ctx context.Context) (map[analytics.State]int, error)
	SetInterviewState(ctx context.Context, id int64, state analytics.State) error
	MarkAllDirty(ctx context.Context) (int64, error)

	PutInterviewAnalytics(ctx context.Context, a analytics.InterviewAnalytics, revision int64) (bool, error)
	InterviewAnalytics(ctx context.Context, interviewID int64) (*analytics.InterviewAnalytics, error)
	ListInterviewAnalytics(ctx context.Context, f analytics.Filter) ([]analytics.InterviewAnalytics, error)
	CleanSnapshot(ctx context.Context) ([]analytics.InterviewAnalytics, error)
	PutGlobalAnalytics(ctx context.Context, g analytics.GlobalAnalytics) error
	GlobalAnalytics(ctx context.Context) (*analytics.GlobalAnalytics, error)
}
