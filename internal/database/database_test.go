package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

var testNow = time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenWithLogger(filepath.Join(t.TempDir(), "test.db"), quietLogger())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func answered(question string, accuracy float64) analytics.QuestionAnswer {
	return analytics.QuestionAnswer{Question: question, Outcome: analytics.Answered("an answer"), Accuracy: accuracy}
}

func unanswered(question string, accuracy float64, reason string) analytics.QuestionAnswer {
	return analytics.QuestionAnswer{Question: question, Outcome: analytics.Unanswered(reason), Accuracy: accuracy}
}

func saveTestInterview(t *testing.T, db *DB, qas ...analytics.QuestionAnswer) int64 {
	t.Helper()
	id, err := db.SaveSubmission(context.Background(), analytics.Submission{
		Call:    analytics.Call{Transcript: "Q: hello\nA: hi", Analysis: []byte(`{"questions":[]}`)},
		Answers: qas,
	}, testNow)
	if err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}
	return id
}

func TestSaveSubmission(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := saveTestInterview(t, db, answered("q1", 90), unanswered("q2", 40, "off-topic"))
	if id == 0 {
		t.Fatal("expected non-zero interview ID")
	}

	iv, err := db.GetInterview(ctx, id)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if iv.State != analytics.StateDirty {
		t.Errorf("expected state dirty, got %q", iv.State)
	}
	if !iv.CreatedAt.Equal(testNow) {
		t.Errorf("expected created_at %v, got %v", testNow, iv.CreatedAt)
	}

	qas, revision, err := db.QuestionAnswers(ctx, id)
	if err != nil {
		t.Fatalf("QuestionAnswers: %v", err)
	}
	if len(qas) != 2 {
		t.Fatalf("expected 2 question answers, got %d", len(qas))
	}
	if revision != 1 {
		t.Errorf("expected revision 1, got %d", revision)
	}
	if !qas[0].Outcome.Answered() || qas[1].Outcome.Answered() {
		t.Error("outcomes did not survive the round trip")
	}
	if qas[1].Outcome.Reason() != "off-topic" {
		t.Errorf("expected reason 'off-topic', got %q", qas[1].Outcome.Reason())
	}

	call, err := db.GetCall(ctx, id)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.Transcript != "Q: hello\nA: hi" {
		t.Errorf("unexpected transcript %q", call.Transcript)
	}
}

func TestSaveSubmissionRollsBackOnBadRecord(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.SaveSubmission(ctx, analytics.Submission{
		Answers: []analytics.QuestionAnswer{answered("ok", 50), answered("bad", 250)},
	}, testNow)
	if err == nil {
		t.Fatal("expected CHECK constraint failure")
	}
	ids, _ := db.InterviewIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("expected no interviews after rollback, got %d", len(ids))
	}
}

func TestQuestionAnswersNotFound(t *testing.T) {
	db := openTestDB(t)
	_, _, err := db.QuestionAnswers(context.Background(), 42)
	if !errors.Is(err, analytics.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWritesBumpRevision(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := saveTestInterview(t, db, answered("q1", 90))

	qaID, err := db.InsertQuestionAnswer(ctx, analytics.QuestionAnswer{
		InterviewID: id, Question: "q2", Outcome: analytics.Answered("x"), Accuracy: 60,
	}, testNow)
	if err != nil {
		t.Fatalf("InsertQuestionAnswer: %v", err)
	}

	edited := answered("q2 edited", 70)
	edited.ID = qaID
	owner, err := db.UpdateQuestionAnswer(ctx, edited, testNow)
	if err != nil {
		t.Fatalf("UpdateQuestionAnswer: %v", err)
	}
	if owner != id {
		t.Errorf("expected owner %d, got %d", id, owner)
	}

	if err := db.ReplaceQuestionAnswers(ctx, id, []analytics.QuestionAnswer{answered("only", 10)}, testNow); err != nil {
		t.Fatalf("ReplaceQuestionAnswers: %v", err)
	}

	qas, revision, err := db.QuestionAnswers(ctx, id)
	if err != nil {
		t.Fatalf("QuestionAnswers: %v", err)
	}
	if revision != 4 {
		t.Errorf("expected revision 4, got %d", revision)
	}
	if len(qas) != 1 || qas[0].Question != "only" {
		t.Errorf("expected the replaced set, got %+v", qas)
	}
}

func TestUpdateQuestionAnswerCannotMoveInterview(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := saveTestInterview(t, db, answered("q1", 90))
	b := saveTestInterview(t, db)

	qas, _, _ := db.QuestionAnswers(ctx, a)
	moved := qas[0]
	moved.InterviewID = b
	if _, err := db.UpdateQuestionAnswer(ctx, moved, testNow); !errors.Is(err, analytics.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	missing := answered("x", 1)
	missing.ID = 999
	if _, err := db.UpdateQuestionAnswer(ctx, missing, testNow); !errors.Is(err, analytics.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutInterviewAnalyticsRevisionGuard(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := saveTestInterview(t, db, answered("q1", 90))

	qas, revision, _ := db.QuestionAnswers(ctx, id)
	snap, err := analytics.AggregateInterview(id, qas, testNow)
	if err != nil {
		t.Fatalf("AggregateInterview: %v", err)
	}

	// A write lands between the read and the store.
	if _, err := db.InsertQuestionAnswer(ctx, analytics.QuestionAnswer{
		InterviewID: id, Question: "late", Outcome: analytics.Answered("x"), Accuracy: 10,
	}, testNow); err != nil {
		t.Fatalf("InsertQuestionAnswer: %v", err)
	}

	clean, err := db.PutInterviewAnalytics(ctx, snap, revision)
	if err != nil {
		t.Fatalf("PutInterviewAnalytics: %v", err)
	}
	if clean {
		t.Error("expected stale revision to be rejected")
	}
	if _, err := db.InterviewAnalytics(ctx, id); !errors.Is(err, analytics.ErrNotFound) {
		t.Errorf("expected no snapshot stored, got %v", err)
	}
	iv, _ := db.GetInterview(ctx, id)
	if iv.State != analytics.StateDirty {
		t.Errorf("expected interview to stay dirty, got %q", iv.State)
	}

	qas, revision, _ = db.QuestionAnswers(ctx, id)
	snap, _ = analytics.AggregateInterview(id, qas, testNow)
	clean, err = db.PutInterviewAnalytics(ctx, snap, revision)
	if err != nil || !clean {
		t.Fatalf("expected clean store, got clean=%v err=%v", clean, err)
	}
	stored, err := db.InterviewAnalytics(ctx, id)
	if err != nil {
		t.Fatalf("InterviewAnalytics: %v", err)
	}
	if stored.TotalQuestions != 2 || stored.AverageAccuracy != 50 {
		t.Errorf("unexpected stored snapshot %+v", stored)
	}
}

func TestCleanSnapshotRequiresAllClean(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := saveTestInterview(t, db, answered("q1", 90))
	b := saveTestInterview(t, db, answered("q1", 30))

	storeSnapshot(t, db, a)
	if _, err := db.CleanSnapshot(ctx); !errors.Is(err, analytics.ErrStale) {
		t.Fatalf("expected ErrStale with one dirty interview, got %v", err)
	}

	storeSnapshot(t, db, b)
	snaps, err := db.CleanSnapshot(ctx)
	if err != nil {
		t.Fatalf("CleanSnapshot: %v", err)
	}
	if len(snaps) != 2 || snaps[0].InterviewID != a || snaps[1].InterviewID != b {
		t.Errorf("unexpected snapshots %+v", snaps)
	}
}

func TestGlobalAnalyticsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.GlobalAnalytics(ctx); !errors.Is(err, analytics.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first pass, got %v", err)
	}

	g := analytics.GlobalAnalytics{
		TotalInterviews: 2, TotalQuestions: 4, TotalAnswered: 3, TotalUnanswered: 1,
		GlobalAverageAccuracy: 83.75, BestInterviewID: 2, BestInterviewScore: 95,
		WorstInterviewID: 1, WorstInterviewScore: 80, LastUpdated: testNow,
	}
	if err := db.PutGlobalAnalytics(ctx, g); err != nil {
		t.Fatalf("PutGlobalAnalytics: %v", err)
	}
	g.TotalInterviews = 3
	if err := db.PutGlobalAnalytics(ctx, g); err != nil {
		t.Fatalf("second PutGlobalAnalytics: %v", err)
	}

	got, err := db.GlobalAnalytics(ctx)
	if err != nil {
		t.Fatalf("GlobalAnalytics: %v", err)
	}
	if !got.LastUpdated.Equal(g.LastUpdated) {
		t.Errorf("expected last_updated %v, got %v", g.LastUpdated, got.LastUpdated)
	}
	got.LastUpdated, g.LastUpdated = time.Time{}, time.Time{}
	if *got != g {
		t.Errorf("expected %+v, got %+v", g, *got)
	}
}

func TestDeleteInterviewCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := saveTestInterview(t, db, answered("q1", 90))
	storeSnapshot(t, db, id)

	if err := db.DeleteInterview(ctx, id); err != nil {
		t.Fatalf("DeleteInterview: %v", err)
	}
	if _, err := db.GetCall(ctx, id); !errors.Is(err, analytics.ErrNotFound) {
		t.Errorf("expected call to be gone, got %v", err)
	}
	if _, err := db.InterviewAnalytics(ctx, id); !errors.Is(err, analytics.ErrNotFound) {
		t.Errorf("expected snapshot to be gone, got %v", err)
	}
	stats, _ := db.GetStats(ctx)
	if stats.QuestionAnswers != 0 {
		t.Errorf("expected 0 question answers, got %d", stats.QuestionAnswers)
	}
	if err := db.DeleteInterview(ctx, id); !errors.Is(err, analytics.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListInterviewAnalyticsFilter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	low := saveTestInterview(t, db, answered("q", 20))
	high := saveTestInterview(t, db, answered("q", 90))
	storeSnapshot(t, db, low)
	storeSnapshot(t, db, high)

	min := 50.0
	got, err := db.ListInterviewAnalytics(ctx, analytics.Filter{MinAccuracy: &min})
	if err != nil {
		t.Fatalf("ListInterviewAnalytics: %v", err)
	}
	if len(got) != 1 || got[0].InterviewID != high {
		t.Errorf("expected only interview %d, got %+v", high, got)
	}

	f, err := PeriodFilter("2026-02-07", nil, nil)
	if err != nil {
		t.Fatalf("PeriodFilter: %v", err)
	}
	got, _ = db.ListInterviewAnalytics(ctx, f)
	if len(got) != 0 {
		t.Errorf("expected no interviews on 2026-02-07, got %d", len(got))
	}

	f, _ = PeriodFilter("2026-02-01..2026-02-06", nil, nil)
	got, _ = db.ListInterviewAnalytics(ctx, f)
	if len(got) != 2 {
		t.Errorf("expected 2 interviews in range, got %d", len(got))
	}
	if err := db.SetInterviewState(ctx, high, analytics.StateDirty); err != nil {
		t.Fatalf("SetInterviewState: %v", err)
	}
	got, _ = db.ListInterviewAnalytics(ctx, analytics.Filter{CleanOnly: true})
	if len(got) != 1 || got[0].InterviewID != low {
		t.Errorf("expected only clean interview %d, got %+v", low, got)
	}
}

func TestAllQuestionAnswersPages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	saveTestInterview(t, db, answered("a", 1), answered("b", 2), answered("c", 3))
	saveTestInterview(t, db, answered("d", 4), answered("e", 5))

	var pages, total int
	err := db.AllQuestionAnswers(ctx, 2, func(page []analytics.QuestionAnswer) error {
		pages++
		total += len(page)
		return nil
	})
	if err != nil {
		t.Fatalf("AllQuestionAnswers: %v", err)
	}
	if pages != 3 || total != 5 {
		t.Errorf("expected 3 pages / 5 records, got %d / %d", pages, total)
	}
}

func TestStateTransitionsAndStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := saveTestInterview(t, db, answered("q", 20))
	saveTestInterview(t, db, answered("q", 90))

	if err := db.SetInterviewState(ctx, a, analytics.StateRecomputing); err != nil {
		t.Fatalf("SetInterviewState: %v", err)
	}
	ids, _ := db.InterviewIDsByState(ctx, analytics.StateDirty)
	if len(ids) != 1 {
		t.Errorf("expected 1 dirty interview, got %d", len(ids))
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Interviews != 2 || stats.Recomputing != 1 || stats.DirtyInterviews != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !stats.Stale() {
		t.Error("expected stats to report stale")
	}

	n, err := db.MarkAllDirty(ctx)
	if err != nil || n != 2 {
		t.Errorf("expected 2 interviews marked dirty, got %d (%v)", n, err)
	}
	list, err := db.ListInterviews(ctx)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if len(list) != 2 || list[0].ID != a || list[0].State != analytics.StateDirty {
		t.Errorf("unexpected interviews %+v", list)
	}
	if err := db.SetInterviewState(ctx, 999, analytics.StateClean); !errors.Is(err, analytics.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestParsePeriod(t *testing.T) {
	from, to, err := ParsePeriod("2026-02-01..2026-02-06")
	if err != nil {
		t.Fatalf("ParsePeriod: %v", err)
	}
	if from.Format(dateLayout) != "2026-02-01" || to.Format(dateLayout) != "2026-02-07" {
		t.Errorf("unexpected range %v..%v", from, to)
	}
	if _, _, err := ParsePeriod("2026-02-06..2026-02-01"); !errors.Is(err, analytics.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for inverted range, got %v", err)
	}
	if from, to, err := ParsePeriod(""); from != nil || to != nil || err != nil {
		t.Error("expected empty period to mean no bounds")
	}
	if got := FormatPeriodDisplay("2026-02-01..2026-02-06"); got != "Feb 01 - Feb 06, 2026" {
		t.Errorf("unexpected display %q", got)
	}
	if got := MakePeriodID("2026-02-06", "2026-02-06"); got != "2026-02-06" {
		t.Errorf("unexpected period id %q", got)
	}
}

func storeSnapshot(t *testing.T, db *DB, id int64) {
	t.Helper()
	ctx := context.Background()
	qas, revision, err := db.QuestionAnswers(ctx, id)
	if err != nil {
		t.Fatalf("QuestionAnswers: %v", err)
	}
	snap, err := analytics.AggregateInterview(id, qas, testNow)
	if err != nil {
		t.Fatalf("AggregateInterview: %v", err)
	}
	if clean, err := db.PutInterviewAnalytics(ctx, snap, revision); err != nil || !clean {
		t.Fatalf("PutInterviewAnalytics: clean=%v err=%v", clean, err)
	}
}
