package analytics

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func qa(interviewID int64, accuracy float64, answer, reason string) QuestionAnswer {
	return QuestionAnswer{
		InterviewID: interviewID,
		Question:    "q",
		Outcome:     NewOutcome(answer, reason),
		Accuracy:    accuracy,
	}
}

func TestAggregateInterviewMixed(t *testing.T) {
	got, err := AggregateInterview(1, []QuestionAnswer{
		qa(1, 90, "a thorough answer", ""),
		qa(1, 40, "rambling", "off-topic"),
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 2, got.TotalQuestions)
	assert.Equal(t, 1, got.AnsweredQuestions)
	assert.Equal(t, 1, got.UnansweredQuestions)
	assert.Equal(t, 50.0, got.AnsweredPercentage)
	assert.Equal(t, 50.0, got.UnansweredPercentage)
	assert.Equal(t, 65.0, got.AverageAccuracy)
	assert.Equal(t, 90.0, got.AverageAnsweredAccuracy)
	assert.Equal(t, 1, got.HighConfidenceQuestions)
	assert.Equal(t, 0, got.MediumConfidenceQuestions)
	assert.Equal(t, 1, got.LowConfidenceQuestions)
	assert.Equal(t, 1, got.QuestionsWithReason)
	assert.Equal(t, 130.0, got.AccuracySum)
	assert.Equal(t, 90.0, got.AnsweredAccuracySum)
	assert.Equal(t, testNow, got.UpdatedAt)
}

func TestAggregateInterviewEmpty(t *testing.T) {
	got, err := AggregateInterview(7, nil, testNow)
	require.NoError(t, err)

	assert.Equal(t, int64(7), got.InterviewID)
	assert.Zero(t, got.TotalQuestions)
	for _, v := range []float64{got.AnsweredPercentage, got.UnansweredPercentage, got.AverageAccuracy, got.AverageAnsweredAccuracy} {
		assert.False(t, math.IsNaN(v))
		assert.Zero(t, v)
	}
}

func TestAggregateInterviewNoneAnswered(t *testing.T) {
	got, err := AggregateInterview(2, []QuestionAnswer{
		qa(2, 10, "", "silence"),
		qa(2, 30, "", "declined"),
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.AverageAccuracy)
	assert.Zero(t, got.AverageAnsweredAccuracy)
	assert.Equal(t, 100.0, got.UnansweredPercentage)
}

func TestAggregateInterviewRejectsForeignRecord(t *testing.T) {
	_, err := AggregateInterview(1, []QuestionAnswer{qa(1, 50, "x", ""), qa(2, 50, "y", "")}, testNow)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAggregateInterviewRejectsBadAccuracy(t *testing.T) {
	_, err := AggregateInterview(1, []QuestionAnswer{qa(1, 101, "x", "")}, testNow)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = AggregateInterview(1, []QuestionAnswer{qa(1, math.NaN(), "x", "")}, testNow)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAggregateInterviewIsIdempotent(t *testing.T) {
	records := randomRecords(rand.New(rand.NewSource(11)), 1, 25)
	a, err := AggregateInterview(1, records, testNow)
	require.NoError(t, err)
	b, err := AggregateInterview(1, records, testNow)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAggregateInterviewCountInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		records := randomRecords(rng, 1, rng.Intn(40))
		got, err := AggregateInterview(1, records, testNow)
		require.NoError(t, err)

		assert.Equal(t, got.TotalQuestions, got.AnsweredQuestions+got.UnansweredQuestions)
		assert.Equal(t, got.TotalQuestions,
			got.HighConfidenceQuestions+got.MediumConfidenceQuestions+got.LowConfidenceQuestions)
		if got.TotalQuestions > 0 {
			assert.InDelta(t, 100.0, got.AnsweredPercentage+got.UnansweredPercentage, 1e-9)
		}
	}
}

func randomRecords(rng *rand.Rand, interviewID int64, n int) []QuestionAnswer {
	out := make([]QuestionAnswer, 0, n)
	for i := 0; i < n; i++ {
		answer, reason := "an answer", ""
		switch rng.Intn(4) {
		case 0:
			reason = "not answered"
		case 1:
			answer = ""
		}
		r := qa(interviewID, math.Round(rng.Float64()*10000)/100, answer, reason)
		r.ID = int64(i + 1)
		out = append(out, r)
	}
	return out
}

func TestSnapshotTimestampsAreUTC(t *testing.T) {
	local := time.Date(2026, 3, 14, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	a, err := AggregateInterview(1, []QuestionAnswer{qa(1, 90, "yes", "")}, local)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, a.CreatedAt.Location())
	assert.Equal(t, time.UTC, a.UpdatedAt.Location())
	assert.True(t, a.CreatedAt.Equal(testNow))

	g := AggregateGlobal([]InterviewAnalytics{a}, local)
	assert.Equal(t, time.UTC, g.LastUpdated.Location())
	assert.True(t, g.LastUpdated.Equal(testNow))
}
