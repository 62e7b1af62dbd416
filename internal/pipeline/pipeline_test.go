package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
	"github.com/TobiSchelling/interviewstats/internal/config"
	"github.com/TobiSchelling/interviewstats/internal/database"
	"github.com/TobiSchelling/interviewstats/internal/logging"
	"github.com/TobiSchelling/interviewstats/internal/scheduler"
)

const batchYAML = `calls:
  - transcript: first call
    questions:
      - {question: q1, full_answer: a, accuracy: 80, reason: ""}
      - {question: q2, full_answer: a, accuracy: 80, reason: ""}
      - {question: q3, full_answer: a, accuracy: 80, reason: ""}
  - transcript: second call
    questions:
      - {question: q1, full_answer: a, accuracy: 95, reason: ""}
  - transcript: empty call
`

func newTestPipeline(t *testing.T) (*Pipeline, *database.DB) {
	t.Helper()
	log := logging.Discard()
	db, err := database.OpenWithLogger(filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Database.PageSize = 2
	cfg.Scheduler.InitialBackoff = time.Millisecond
	cfg.Scheduler.MaxBackoff = 5 * time.Millisecond

	sched := scheduler.New(db, cfg.Scheduler, log, nil, nil)
	return New(cfg, db, sched, log), db
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func stepNames(r *Result) []string {
	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestRun(t *testing.T) {
	p, db := newTestPipeline(t)
	file := writeFile(t, "batch.yaml", batchYAML)

	r := p.Run(context.Background(), []string{file})
	require.False(t, r.Failed(), "%+v", r.Steps)
	assert.Equal(t, []string{"Load", "Ingest", "Recompute", "Verify"}, stepNames(r))
	assert.Equal(t, 3, r.Submissions)
	assert.Len(t, r.Interviews, 3)

	g, err := db.GlobalAnalytics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, g.TotalInterviews)
	assert.Equal(t, 4, g.TotalQuestions)
	assert.InDelta(t, 83.75, g.GlobalAverageAccuracy, 1e-9)
	assert.Equal(t, r.Interviews[1], g.BestInterviewID)
	assert.Equal(t, r.Interviews[0], g.WorstInterviewID)
}

func TestRunStopsOnBadFile(t *testing.T) {
	p, db := newTestPipeline(t)
	bad := writeFile(t, "bad.yaml", "calls:\n  - questions:\n      - {question: q, full_answer: a, accuracy: 101}\n")

	r := p.Run(context.Background(), []string{bad})
	require.True(t, r.Failed())
	assert.Equal(t, []string{"Load"}, stepNames(r))
	assert.True(t, errors.Is(r.Steps[0].Err, analytics.ErrInvalidInput))

	ids, err := db.InterviewIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDryRunWritesNothing(t *testing.T) {
	p, db := newTestPipeline(t)
	file := writeFile(t, "batch.yaml", batchYAML)

	r := p.DryRun(context.Background(), []string{file})
	require.False(t, r.Failed(), "%+v", r.Steps)
	assert.Contains(t, r.Steps[1].Summary, "3 interviews with 4 questions")

	ids, err := db.InterviewIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestVerifyDetectsDrift(t *testing.T) {
	p, db := newTestPipeline(t)
	r := p.Run(context.Background(), []string{writeFile(t, "batch.yaml", batchYAML)})
	require.False(t, r.Failed())

	g, err := db.GlobalAnalytics(context.Background())
	require.NoError(t, err)
	g.TotalQuestions++
	require.NoError(t, db.PutGlobalAnalytics(context.Background(), *g))

	err = p.Verify(context.Background())
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestCompare(t *testing.T) {
	a := analytics.GlobalAnalytics{TotalInterviews: 2, GlobalAverageAccuracy: 83.75, LastUpdated: time.Now()}
	b := a
	b.LastUpdated = time.Time{}
	b.GlobalAverageAccuracy += 1e-9
	assert.NoError(t, Compare(a, b))

	b.GlobalAverageAccuracy = 80
	assert.ErrorIs(t, Compare(a, b), ErrMismatch)
}
