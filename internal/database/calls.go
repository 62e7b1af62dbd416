package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// GetCall returns the call an interview was built from.
func (db *DB) GetCall(ctx context.Context, interviewID int64) (*analytics.Call, error) {
	var c analytics.Call
	var analysis sql.NullString
	var created, updated string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, interview_id, transcript, analysis, created_at, updated_at
		FROM calls WHERE interview_id = ?`, interviewID,
	).Scan(&c.ID, &c.InterviewID, &c.Transcript, &analysis, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("call for interview %d: %w", interviewID, analytics.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if analysis.Valid && analysis.String != "" {
		c.Analysis = json.RawMessage(analysis.String)
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}
