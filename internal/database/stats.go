package database

import (
	"context"
	"errors"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// GetStats returns aggregate database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats

	counts, err := db.CountInterviewsByState(ctx)
	if err != nil {
		return nil, err
	}
	s.DirtyInterviews = counts[analytics.StateDirty]
	s.Recomputing = counts[analytics.StateRecomputing]
	s.CleanInterviews = counts[analytics.StateClean]
	for _, n := range counts {
		s.Interviews += n
	}

	for _, q := range []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM question_answers", &s.QuestionAnswers},
		{"SELECT COUNT(*) FROM calls", &s.Calls},
		{"SELECT COUNT(*) FROM interview_analytics", &s.InterviewSnapshot},
	} {
		if err := db.conn.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	g, err := db.GlobalAnalytics(ctx)
	switch {
	case err == nil:
		s.GlobalLastUpdated = &g.LastUpdated
	case errors.Is(err, analytics.ErrNotFound):
	default:
		return nil, err
	}
	return &s, nil
}
