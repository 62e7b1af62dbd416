package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

const interviewAnalyticsColumns = `a.interview_id, a.total_questions, a.answered_questions, a.unanswered_questions,
	a.answered_percentage, a.unanswered_percentage, a.average_accuracy, a.average_answered_accuracy,
	a.high_confidence_questions, a.medium_confidence_questions, a.low_confidence_questions,
	a.questions_with_reason, a.accuracy_sum, a.answered_accuracy_sum, a.created_at, a.updated_at`

// PutInterviewAnalytics stores a freshly computed snapshot and marks the
// interview clean, but only if the interview is still at the revision the
// snapshot was computed from. It reports whether the interview is now clean.
// A false result means a write landed during the recompute; the interview
// stays dirty and nothing is stored.
func (db *DB) PutInterviewAnalytics(ctx context.Context, a analytics.InterviewAnalytics, revision int64) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM interviews WHERE id = ?`, a.InterviewID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("interview %d: %w", a.InterviewID, analytics.ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	if current != revision {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO interview_analytics (interview_id, total_questions, answered_questions, unanswered_questions,
			answered_percentage, unanswered_percentage, average_accuracy, average_answered_accuracy,
			high_confidence_questions, medium_confidence_questions, low_confidence_questions,
			questions_with_reason, accuracy_sum, answered_accuracy_sum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(interview_id) DO UPDATE SET
			total_questions = excluded.total_questions,
			answered_questions = excluded.answered_questions,
			unanswered_questions = excluded.unanswered_questions,
			answered_percentage = excluded.answered_percentage,
			unanswered_percentage = excluded.unanswered_percentage,
			average_accuracy = excluded.average_accuracy,
			average_answered_accuracy = excluded.average_answered_accuracy,
			high_confidence_questions = excluded.high_confidence_questions,
			medium_confidence_questions = excluded.medium_confidence_questions,
			low_confidence_questions = excluded.low_confidence_questions,
			questions_with_reason = excluded.questions_with_reason,
			accuracy_sum = excluded.accuracy_sum,
			answered_accuracy_sum = excluded.answered_accuracy_sum,
			updated_at = excluded.updated_at`,
		a.InterviewID, a.TotalQuestions, a.AnsweredQuestions, a.UnansweredQuestions,
		a.AnsweredPercentage, a.UnansweredPercentage, a.AverageAccuracy, a.AverageAnsweredAccuracy,
		a.HighConfidenceQuestions, a.MediumConfidenceQuestions, a.LowConfidenceQuestions,
		a.QuestionsWithReason, a.AccuracySum, a.AnsweredAccuracySum,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE interviews SET state = ? WHERE id = ?`, analytics.StateClean, a.InterviewID,
	); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// InterviewAnalytics returns the stored snapshot for one interview.
func (db *DB) InterviewAnalytics(ctx context.Context, interviewID int64) (*analytics.InterviewAnalytics, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+interviewAnalyticsColumns+` FROM interview_analytics a WHERE a.interview_id = ?`, interviewID,
	)
	a, err := scanInterviewAnalytics(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analytics for interview %d: %w", interviewID, analytics.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListInterviewAnalytics returns stored snapshots matching the filter, ordered
// by interview id. Date bounds apply to the interview's creation time and
// accuracy bounds to its average accuracy; both are inclusive except To,
// which is exclusive. CleanOnly skips interviews that are not clean.
func (db *DB) ListInterviewAnalytics(ctx context.Context, f analytics.Filter) ([]analytics.InterviewAnalytics, error) {
	query := `SELECT ` + interviewAnalyticsColumns + `
		FROM interview_analytics a JOIN interviews i ON i.id = a.interview_id`
	var conds []string
	var args []any
	if f.From != nil {
		conds = append(conds, "i.created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "i.created_at < ?")
		args = append(args, formatTime(*f.To))
	}
	if f.MinAccuracy != nil {
		conds = append(conds, "a.average_accuracy >= ?")
		args = append(args, *f.MinAccuracy)
	}
	if f.MaxAccuracy != nil {
		conds = append(conds, "a.average_accuracy <= ?")
		args = append(args, *f.MaxAccuracy)
	}
	if f.CleanOnly {
		conds = append(conds, "i.state = ?")
		args = append(args, analytics.StateClean)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY a.interview_id"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInterviewAnalyticsRows(rows)
}

// CleanSnapshot returns every interview snapshot, read in one transaction
// together with a check that every interview is clean and has a snapshot.
// If any is not, it fails with ErrStale.
func (db *DB) CleanSnapshot(ctx context.Context) ([]analytics.InterviewAnalytics, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interviews i LEFT JOIN interview_analytics a ON a.interview_id = i.id
		WHERE i.state != ? OR a.interview_id IS NULL`, analytics.StateClean,
	).Scan(&pending); err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, fmt.Errorf("%d interviews not clean: %w", pending, analytics.ErrStale)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+interviewAnalyticsColumns+` FROM interview_analytics a ORDER BY a.interview_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snaps, err := scanInterviewAnalyticsRows(rows)
	if err != nil {
		return nil, err
	}
	return snaps, tx.Commit()
}

// PutGlobalAnalytics replaces the singleton global snapshot.
func (db *DB) PutGlobalAnalytics(ctx context.Context, g analytics.GlobalAnalytics) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO global_analytics (id, total_interviews, total_questions, total_answered,
			total_unanswered, total_with_reason, total_high_confidence, total_medium_confidence,
			total_low_confidence, global_answered_percent, global_unanswered_percent,
			global_average_accuracy, global_answered_accuracy, best_interview_id, best_interview_score,
			worst_interview_id, worst_interview_score, last_updated)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.TotalInterviews, g.TotalQuestions, g.TotalAnswered, g.TotalUnanswered, g.TotalWithReason,
		g.TotalHighConfidence, g.TotalMediumConfidence, g.TotalLowConfidence,
		g.GlobalAnsweredPercent, g.GlobalUnansweredPercent, g.GlobalAverageAccuracy, g.GlobalAnsweredAccuracy,
		g.BestInterviewID, g.BestInterviewScore, g.WorstInterviewID, g.WorstInterviewScore,
		formatTime(g.LastUpdated),
	)
	return err
}

// GlobalAnalytics returns the global snapshot, or ErrNotFound before the
// first global pass has completed.
func (db *DB) GlobalAnalytics(ctx context.Context) (*analytics.GlobalAnalytics, error) {
	var g analytics.GlobalAnalytics
	var updated string
	err := db.conn.QueryRowContext(ctx,
		`SELECT total_interviews, total_questions, total_answered, total_unanswered, total_with_reason,
			total_high_confidence, total_medium_confidence, total_low_confidence,
			global_answered_percent, global_unanswered_percent, global_average_accuracy, global_answered_accuracy,
			best_interview_id, best_interview_score, worst_interview_id, worst_interview_score, last_updated
		FROM global_analytics WHERE id = 1`,
	).Scan(&g.TotalInterviews, &g.TotalQuestions, &g.TotalAnswered, &g.TotalUnanswered, &g.TotalWithReason,
		&g.TotalHighConfidence, &g.TotalMediumConfidence, &g.TotalLowConfidence,
		&g.GlobalAnsweredPercent, &g.GlobalUnansweredPercent, &g.GlobalAverageAccuracy, &g.GlobalAnsweredAccuracy,
		&g.BestInterviewID, &g.BestInterviewScore, &g.WorstInterviewID, &g.WorstInterviewScore, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("global analytics: %w", analytics.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if g.LastUpdated, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanInterviewAnalyticsRows(rows *sql.Rows) ([]analytics.InterviewAnalytics, error) {
	var out []analytics.InterviewAnalytics
	for rows.Next() {
		a, err := scanInterviewAnalytics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanInterviewAnalytics(row scanner) (*analytics.InterviewAnalytics, error) {
	var a analytics.InterviewAnalytics
	var created, updated string
	if err := row.Scan(&a.InterviewID, &a.TotalQuestions, &a.AnsweredQuestions, &a.UnansweredQuestions,
		&a.AnsweredPercentage, &a.UnansweredPercentage, &a.AverageAccuracy, &a.AverageAnsweredAccuracy,
		&a.HighConfidenceQuestions, &a.MediumConfidenceQuestions, &a.LowConfidenceQuestions,
		&a.QuestionsWithReason, &a.AccuracySum, &a.AnsweredAccuracySum, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}
