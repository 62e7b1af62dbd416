package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
	"github.com/TobiSchelling/interviewstats/internal/config"
	"github.com/TobiSchelling/interviewstats/internal/database"
	"github.com/TobiSchelling/interviewstats/internal/logging"
	"github.com/TobiSchelling/interviewstats/internal/metrics"
	"github.com/TobiSchelling/interviewstats/internal/scheduler"
)

type testEnv struct {
	db    *database.DB
	sched *scheduler.Scheduler
	srv   *Server
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	return newTestServerWithStore(t, nil)
}

// newTestServerWithStore lets a test put a wrapper between the scheduler and
// the database.
func newTestServerWithStore(t *testing.T, wrap func(*database.DB) scheduler.Store) *testEnv {
	t.Helper()
	log := logging.Discard()
	db, err := database.OpenWithLogger(filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Scheduler.InitialBackoff = time.Millisecond
	cfg.Scheduler.MaxBackoff = 5 * time.Millisecond
	m := metrics.New()
	var store scheduler.Store = db
	if wrap != nil {
		store = wrap(db)
	}
	sched := scheduler.New(store, cfg.Scheduler, log, m, nil)

	srv, err := New(db, sched, *cfg, Options{Logger: log, Metrics: m})
	require.NoError(t, err)
	return &testEnv{db: db, sched: sched, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) ingest(t *testing.T, accuracies ...float64) int64 {
	t.Helper()
	qas := make([]analytics.QuestionAnswer, len(accuracies))
	for i, a := range accuracies {
		qas[i] = analytics.QuestionAnswer{Question: "q", Outcome: analytics.Answered("yes"), Accuracy: a}
	}
	id, err := e.sched.Ingest(context.Background(), analytics.Submission{
		Call:    analytics.Call{Transcript: "transcript"},
		Answers: qas,
	})
	require.NoError(t, err)
	return id
}

var errDiskGone = errors.New("disk gone")

// failingStore breaks selected calls of a real database.
type failingStore struct {
	*database.DB
	saves    int // successful SaveSubmission calls before failing, -1 for never
	failPuts bool
}

func (f *failingStore) SaveSubmission(ctx context.Context, sub analytics.Submission, now time.Time) (int64, error) {
	if f.saves == 0 {
		return 0, errDiskGone
	}
	if f.saves > 0 {
		f.saves--
	}
	return f.DB.SaveSubmission(ctx, sub, now)
}

func (f *failingStore) PutInterviewAnalytics(ctx context.Context, a analytics.InterviewAnalytics, revision int64) (bool, error) {
	if f.failPuts {
		return false, errDiskGone
	}
	return f.DB.PutInterviewAnalytics(ctx, a, revision)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestIndexRoute(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, "GET", "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Interview analytics")
	assert.Contains(t, body, "No analytics available yet.")
	assert.NotEmpty(t, rec.Header().Get(logging.RequestIDHeader))
}

func TestIndexShowsReport(t *testing.T) {
	env := newTestServer(t)
	env.ingest(t, 80, 80, 80)
	env.ingest(t, 95)

	rec := env.do(t, "GET", "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<table>")
	assert.Contains(t, body, "83.75")
	assert.NotContains(t, body, "stale-banner")
}

func TestIndexBadPeriod(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, "GET", "/?period=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, "GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestSubmissionAndGlobal(t *testing.T) {
	env := newTestServer(t)

	body := `{"call":{"transcript":"hello"},"answers":[
		{"question":"q1","outcome":{"status":"answered","fullAnswer":"yes"},"accuracy":90},
		{"question":"q2","outcome":{"status":"unanswered","reason":"off-topic"},"accuracy":40}]}`
	rec := env.do(t, "POST", "/api/interviews", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		InterviewIDs []int64 `json:"interviewIds"`
	}
	decode(t, rec, &created)
	require.Len(t, created.InterviewIDs, 1)

	rec = env.do(t, "GET", "/api/analytics/global", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp globalResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Stale)
	assert.False(t, resp.Filtered)
	require.NotNil(t, resp.Global)
	assert.Equal(t, 1, resp.Global.TotalInterviews)
	assert.Equal(t, 2, resp.Global.TotalQuestions)
	assert.InDelta(t, 65.0, resp.Global.GlobalAverageAccuracy, 1e-9)
	assert.InDelta(t, 90.0, resp.Global.GlobalAnsweredAccuracy, 1e-9)
	assert.Equal(t, created.InterviewIDs[0], resp.Global.BestInterviewID)
}

func TestIngestAnalyzerOutput(t *testing.T) {
	env := newTestServer(t)

	body := "```json\n" + `{"questions":[
		{"question":"q","full_answer":"a","accuracy":85,"reason":""},
		{"question":"q","full_answer":"","accuracy":10,"reason":"skipped"}]}` + "\n```"
	rec := env.do(t, "POST", "/api/interviews", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, "GET", "/api/interviews/1/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp interviewResponse
	decode(t, rec, &resp)
	assert.Equal(t, analytics.StateClean, resp.State)
	assert.False(t, resp.Stale)
	assert.Equal(t, 1, resp.Analytics.AnsweredQuestions)
	assert.Equal(t, 1, resp.Analytics.QuestionsWithReason)
}

func TestIngestRejectsInvalidAccuracy(t *testing.T) {
	env := newTestServer(t)

	body := `{"call":{"transcript":"t"},"answers":[{"question":"q","outcome":{"status":"answered","fullAnswer":"a"},"accuracy":150}]}`
	rec := env.do(t, "POST", "/api/interviews", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ids, err := env.db.InterviewIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

const submissionBody = `{"call":{"transcript":"t"},"answers":[{"question":"q","outcome":{"status":"answered","fullAnswer":"a"},"accuracy":70}]}`

func TestWriteReportsFreshSnapshots(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, "POST", "/api/interviews", submissionBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Stale bool `json:"stale"`
	}
	decode(t, rec, &resp)
	assert.False(t, resp.Stale)
	assert.Empty(t, rec.Header().Get(staleHeader))
}

func TestWriteReportsStaleWhenRecomputeFails(t *testing.T) {
	store := &failingStore{saves: -1, failPuts: true}
	env := newTestServerWithStore(t, func(db *database.DB) scheduler.Store {
		store.DB = db
		return store
	})

	rec := env.do(t, "POST", "/api/interviews", submissionBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		InterviewIDs []int64 `json:"interviewIds"`
		Stale        bool    `json:"stale"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.InterviewIDs, 1)
	assert.True(t, resp.Stale)
	assert.Equal(t, "true", rec.Header().Get(staleHeader))

	iv, err := env.db.GetInterview(context.Background(), resp.InterviewIDs[0])
	require.NoError(t, err)
	assert.Equal(t, analytics.StateDirty, iv.State)
}

func TestIngestBatchFailureReportsCommittedCalls(t *testing.T) {
	store := &failingStore{saves: 1}
	env := newTestServerWithStore(t, func(db *database.DB) scheduler.Store {
		store.DB = db
		return store
	})

	body := `{"calls":[
		{"transcript":"one","questions":[{"question":"q","full_answer":"a","accuracy":80}]},
		{"transcript":"two","questions":[{"question":"q","full_answer":"b","accuracy":60}]}]}`
	rec := env.do(t, "POST", "/api/interviews", body)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	var resp errorResponse
	decode(t, rec, &resp)
	assert.Contains(t, resp.Error, "call 2 of 2")
	require.Len(t, resp.InterviewIDs, 1)
	require.NotNil(t, resp.LastUpdated)

	ids, err := env.db.InterviewIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resp.InterviewIDs, ids)
}

func TestGlobalBeforeFirstPass(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, "GET", "/api/analytics/global", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInterviewAnalyticsNotFound(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, "GET", "/api/interviews/42/analytics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "GET", "/api/interviews/abc/analytics", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilteredGlobalAndList(t *testing.T) {
	env := newTestServer(t)
	env.ingest(t, 80, 80, 80)
	best := env.ingest(t, 95)

	rec := env.do(t, "GET", "/api/analytics/global?min=90", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var g globalResponse
	decode(t, rec, &g)
	assert.True(t, g.Filtered)
	assert.Equal(t, 1, g.Global.TotalInterviews)
	assert.Equal(t, best, g.Global.BestInterviewID)

	rec = env.do(t, "GET", "/api/interviews", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	decode(t, rec, &list)
	assert.Len(t, list.Interviews, 2)

	rec = env.do(t, "GET", "/api/interviews?min=90&max=10", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "GET", "/api/interviews?min=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswerEdits(t *testing.T) {
	env := newTestServer(t)
	id := env.ingest(t, 80)

	rec := env.do(t, "POST", fmt.Sprintf("/api/interviews/%d/answers", id),
		`{"question":"q2","outcome":{"status":"answered","fullAnswer":"b"},"accuracy":100}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added struct {
		AnswerID int64 `json:"answerId"`
	}
	decode(t, rec, &added)

	a, err := env.db.InterviewAnalytics(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, a.AverageAccuracy, 1e-9)

	rec = env.do(t, "PUT", fmt.Sprintf("/api/answers/%d", added.AnswerID),
		`{"question":"q2","outcome":{"status":"unanswered","reason":"dodged"},"accuracy":20}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	a, err = env.db.InterviewAnalytics(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, a.AverageAccuracy, 1e-9)
	assert.Equal(t, 1, a.UnansweredQuestions)

	rec = env.do(t, "PUT", fmt.Sprintf("/api/interviews/%d/answers", id),
		`[{"question":"only","outcome":{"status":"answered","fullAnswer":"c"},"accuracy":60}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	g, err := env.db.GlobalAnalytics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, g.TotalQuestions)
	assert.InDelta(t, 60.0, g.GlobalAverageAccuracy, 1e-9)

	rec = env.do(t, "PUT", "/api/answers/999", `{"question":"x","outcome":{"status":"answered","fullAnswer":"c"},"accuracy":60}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteInterviewRoute(t *testing.T) {
	env := newTestServer(t)
	keep := env.ingest(t, 50)
	gone := env.ingest(t, 100)

	rec := env.do(t, "DELETE", fmt.Sprintf("/api/interviews/%d", gone), "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get(staleHeader))

	g, err := env.db.GlobalAnalytics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, g.TotalInterviews)
	assert.Equal(t, keep, g.BestInterviewID)

	rec = env.do(t, "DELETE", fmt.Sprintf("/api/interviews/%d", gone), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusRecomputeAndHealth(t *testing.T) {
	env := newTestServer(t)
	env.ingest(t, 70)

	_, err := env.db.MarkAllDirty(context.Background())
	require.NoError(t, err)

	rec := env.do(t, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st scheduler.Status
	decode(t, rec, &st)
	assert.True(t, st.Stale)
	assert.Equal(t, 1, st.Dirty)

	rec = env.do(t, "POST", "/api/recompute", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, "GET", "/api/status", "")
	decode(t, rec, &st)
	assert.False(t, st.Stale)
	assert.Equal(t, 1, st.Clean)

	rec = env.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMetricsRoute(t *testing.T) {
	env := newTestServer(t)
	env.do(t, "GET", "/api/status", "")

	rec := env.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "interviewstats_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="GET /api/status"`)
}

func TestInterviewPage(t *testing.T) {
	env := newTestServer(t)
	id := env.ingest(t, 75)

	rec := env.do(t, "GET", fmt.Sprintf("/interviews/%d", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, fmt.Sprintf("Interview #%d", id))
	assert.Contains(t, body, "75.00")
	assert.Contains(t, body, "transcript")

	rec = env.do(t, "GET", "/interviews/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", analytics.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", analytics.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", analytics.ErrStale), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", analytics.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}
