package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

const qaColumns = `id, interview_id, question, status, full_answer, reason, accuracy, created_at, updated_at`

// QuestionAnswers returns an interview's records ordered by id, together with
// the interview revision they were read at.
func (db *DB) QuestionAnswers(ctx context.Context, interviewID int64) ([]analytics.QuestionAnswer, int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var revision int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM interviews WHERE id = ?`, interviewID).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("interview %d: %w", interviewID, analytics.ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+qaColumns+` FROM question_answers WHERE interview_id = ? ORDER BY id`, interviewID,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	qas, err := scanQuestionAnswers(rows)
	if err != nil {
		return nil, 0, err
	}
	return qas, revision, tx.Commit()
}

// GetQuestionAnswer returns a single record by ID.
func (db *DB) GetQuestionAnswer(ctx context.Context, id int64) (*analytics.QuestionAnswer, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+qaColumns+` FROM question_answers WHERE id = ?`, id)
	qa, err := scanQuestionAnswer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("question answer %d: %w", id, analytics.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return qa, nil
}

// ReplaceQuestionAnswers swaps an interview's whole record set and marks it dirty.
func (db *DB) ReplaceQuestionAnswers(ctx context.Context, interviewID int64, qas []analytics.QuestionAnswer, now time.Time) error {
	ts := formatTime(now)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := bumpRevision(ctx, tx, interviewID, ts); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM question_answers WHERE interview_id = ?`, interviewID); err != nil {
		return err
	}
	for _, qa := range qas {
		qa.InterviewID = interviewID
		if _, err := insertQuestionAnswer(ctx, tx, qa, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertQuestionAnswer adds one record to an existing interview and marks it dirty.
func (db *DB) InsertQuestionAnswer(ctx context.Context, qa analytics.QuestionAnswer, now time.Time) (int64, error) {
	ts := formatTime(now)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := bumpRevision(ctx, tx, qa.InterviewID, ts); err != nil {
		return 0, err
	}
	id, err := insertQuestionAnswer(ctx, tx, qa, ts)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// UpdateQuestionAnswer rewrites one record in place and marks its interview
// dirty. It returns the owning interview id. A record cannot move between
// interviews.
func (db *DB) UpdateQuestionAnswer(ctx context.Context, qa analytics.QuestionAnswer, now time.Time) (int64, error) {
	ts := formatTime(now)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var owner int64
	err = tx.QueryRowContext(ctx, `SELECT interview_id FROM question_answers WHERE id = ?`, qa.ID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("question answer %d: %w", qa.ID, analytics.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	if qa.InterviewID != 0 && qa.InterviewID != owner {
		return 0, fmt.Errorf("%w: question answer %d belongs to interview %d", analytics.ErrInvalidInput, qa.ID, owner)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE question_answers
		SET question = ?, status = ?, full_answer = ?, reason = ?, accuracy = ?, updated_at = ?
		WHERE id = ?`,
		qa.Question, qa.Outcome.Status(), qa.Outcome.FullAnswer(), qa.Outcome.Reason(), qa.Accuracy, ts, qa.ID,
	); err != nil {
		return 0, err
	}
	if err := bumpRevision(ctx, tx, owner, ts); err != nil {
		return 0, err
	}
	return owner, tx.Commit()
}

// AllQuestionAnswers walks every record in id order, pageSize rows at a time,
// handing each page to fn. It stops at the first error fn returns.
func (db *DB) AllQuestionAnswers(ctx context.Context, pageSize int, fn func([]analytics.QuestionAnswer) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	var after int64
	for {
		rows, err := db.conn.QueryContext(ctx,
			`SELECT `+qaColumns+` FROM question_answers WHERE id > ? ORDER BY id LIMIT ?`, after, pageSize,
		)
		if err != nil {
			return err
		}
		page, err := scanQuestionAnswers(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func insertQuestionAnswer(ctx context.Context, tx *sql.Tx, qa analytics.QuestionAnswer, ts string) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO question_answers (interview_id, question, status, full_answer, reason, accuracy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		qa.InterviewID, qa.Question, qa.Outcome.Status(), qa.Outcome.FullAnswer(), qa.Outcome.Reason(),
		qa.Accuracy, ts, ts,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func scanQuestionAnswers(rows *sql.Rows) ([]analytics.QuestionAnswer, error) {
	var qas []analytics.QuestionAnswer
	for rows.Next() {
		qa, err := scanQuestionAnswer(rows)
		if err != nil {
			return nil, err
		}
		qas = append(qas, *qa)
	}
	return qas, rows.Err()
}

func scanQuestionAnswer(row scanner) (*analytics.QuestionAnswer, error) {
	var qa analytics.QuestionAnswer
	var status, answer, reason, created, updated string
	if err := row.Scan(&qa.ID, &qa.InterviewID, &qa.Question, &status, &answer, &reason,
		&qa.Accuracy, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if qa.Outcome, err = analytics.RestoreOutcome(analytics.Status(status), answer, reason); err != nil {
		return nil, err
	}
	if qa.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if qa.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &qa, nil
}
