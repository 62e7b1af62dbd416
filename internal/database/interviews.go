package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// SaveSubmission stores a call and its question/answer set as a new, dirty
// interview in one transaction. It returns the new interview id.
func (db *DB) SaveSubmission(ctx context.Context, sub analytics.Submission, now time.Time) (int64, error) {
	ts := formatTime(now)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO interviews (created_at, updated_at, state, revision) VALUES (?, ?, ?, 1)`,
		ts, ts, analytics.StateDirty,
	)
	if err != nil {
		return 0, err
	}
	interviewID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	var analysis *string
	if len(sub.Call.Analysis) > 0 {
		s := string(sub.Call.Analysis)
		analysis = &s
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO calls (interview_id, transcript, analysis, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		interviewID, sub.Call.Transcript, analysis, ts, ts,
	); err != nil {
		return 0, err
	}

	for _, qa := range sub.Answers {
		qa.InterviewID = interviewID
		if _, err := insertQuestionAnswer(ctx, tx, qa, ts); err != nil {
			return 0, err
		}
	}

	return interviewID, tx.Commit()
}

// GetInterview returns a single interview by ID.
func (db *DB) GetInterview(ctx context.Context, id int64) (*analytics.Interview, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, state, revision, created_at, updated_at FROM interviews WHERE id = ?`, id,
	)
	iv, err := scanInterview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interview %d: %w", id, analytics.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return iv, nil
}

// ListInterviews returns every interview ordered by id.
func (db *DB) ListInterviews(ctx context.Context) ([]analytics.Interview, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, state, revision, created_at, updated_at FROM interviews ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analytics.Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *iv)
	}
	return out, rows.Err()
}

// InterviewIDs returns the ids of all interviews in ascending order.
func (db *DB) InterviewIDs(ctx context.Context) ([]int64, error) {
	return db.queryIDs(ctx, `SELECT id FROM interviews ORDER BY id`)
}

// InterviewIDsByState returns the ids of interviews in any of the given states.
func (db *DB) InterviewIDsByState(ctx context.Context, states ...analytics.State) ([]int64, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = s
	}
	return db.queryIDs(ctx,
		`SELECT id FROM interviews WHERE state IN (`+placeholders+`) ORDER BY id`, args...)
}

// SetInterviewState moves an interview to a new recompute state.
func (db *DB) SetInterviewState(ctx context.Context, id int64, state analytics.State) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE interviews SET state = ? WHERE id = ?`, state, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, "interview", id)
}

// MarkAllDirty flags every interview for recompute and returns how many were flagged.
func (db *DB) MarkAllDirty(ctx context.Context) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE interviews SET state = ?`, analytics.StateDirty,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteInterview removes an interview. Its call, question answers and
// snapshot go with it through ON DELETE CASCADE.
func (db *DB) DeleteInterview(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM interviews WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "interview", id)
}

// CountInterviewsByState returns how many interviews sit in each state.
func (db *DB) CountInterviewsByState(ctx context.Context) (map[analytics.State]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT state, COUNT(*) FROM interviews GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[analytics.State]int{
		analytics.StateDirty:       0,
		analytics.StateRecomputing: 0,
		analytics.StateClean:       0,
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[analytics.State(state)] = n
	}
	return counts, rows.Err()
}

func (db *DB) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// bumpRevision records a question/answer write against an interview: the
// revision moves on and the interview becomes dirty.
func bumpRevision(ctx context.Context, tx *sql.Tx, interviewID int64, ts string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE interviews SET revision = revision + 1, state = ?, updated_at = ? WHERE id = ?`,
		analytics.StateDirty, ts, interviewID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, "interview", interviewID)
}

func requireRow(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, analytics.ErrNotFound)
	}
	return nil
}

func scanInterview(row scanner) (*analytics.Interview, error) {
	var iv analytics.Interview
	var state, created, updated string
	if err := row.Scan(&iv.ID, &state, &iv.Revision, &created, &updated); err != nil {
		return nil, err
	}
	iv.State = analytics.State(state)
	var err error
	if iv.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if iv.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &iv, nil
}
