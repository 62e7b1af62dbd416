package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "interviews, calls and question answers",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS interviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    interview_id INTEGER NOT NULL UNIQUE REFERENCES interviews(id) ON DELETE CASCADE,
    transcript TEXT NOT NULL DEFAULT '',
    analysis TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS question_answers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    interview_id INTEGER NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
    question TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('answered', 'unanswered')),
    full_answer TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    accuracy REAL NOT NULL CHECK(accuracy >= 0 AND accuracy <= 100),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_question_answers_interview ON question_answers(interview_id);
CREATE INDEX IF NOT EXISTS idx_interviews_created ON interviews(created_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "analytics snapshots and recompute state",
		Up: func(tx *sql.Tx) error {
			if err := addColumn(tx, "interviews", "state", "TEXT NOT NULL DEFAULT 'dirty'"); err != nil {
				return err
			}
			if err := addColumn(tx, "interviews", "revision", "INTEGER NOT NULL DEFAULT 0"); err != nil {
				return err
			}
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS interview_analytics (
    interview_id INTEGER PRIMARY KEY REFERENCES interviews(id) ON DELETE CASCADE,
    total_questions INTEGER NOT NULL,
    answered_questions INTEGER NOT NULL,
    unanswered_questions INTEGER NOT NULL,
    answered_percentage REAL NOT NULL,
    unanswered_percentage REAL NOT NULL,
    average_accuracy REAL NOT NULL,
    average_answered_accuracy REAL NOT NULL,
    high_confidence_questions INTEGER NOT NULL,
    medium_confidence_questions INTEGER NOT NULL,
    low_confidence_questions INTEGER NOT NULL,
    questions_with_reason INTEGER NOT NULL,
    accuracy_sum REAL NOT NULL,
    answered_accuracy_sum REAL NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS global_analytics (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    total_interviews INTEGER NOT NULL,
    total_questions INTEGER NOT NULL,
    total_answered INTEGER NOT NULL,
    total_unanswered INTEGER NOT NULL,
    total_with_reason INTEGER NOT NULL,
    total_high_confidence INTEGER NOT NULL,
    total_medium_confidence INTEGER NOT NULL,
    total_low_confidence INTEGER NOT NULL,
    global_answered_percent REAL NOT NULL,
    global_unanswered_percent REAL NOT NULL,
    global_average_accuracy REAL NOT NULL,
    global_answered_accuracy REAL NOT NULL,
    best_interview_id INTEGER NOT NULL,
    best_interview_score REAL NOT NULL,
    worst_interview_id INTEGER NOT NULL,
    worst_interview_score REAL NOT NULL,
    last_updated TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interviews_state ON interviews(state);
`)
			return err
		},
	},
}

// addColumn adds a column unless it already exists, so a migration that
// crashed before its version was stamped can re-run.
func addColumn(tx *sql.Tx, table, column, decl string) error {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
