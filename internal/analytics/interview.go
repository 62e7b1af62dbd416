package analytics

import (
	"fmt"
	"time"
)

// AggregateInterview computes the snapshot for one interview in a single pass
// over its question/answer records. Every record must belong to interviewID and
// carry a valid accuracy; otherwise ErrInvalidInput is returned and no snapshot
// is produced.
func AggregateInterview(interviewID int64, qas []QuestionAnswer, now time.Time) (InterviewAnalytics, error) {
	now = UTC(now)
	out := InterviewAnalytics{
		InterviewID: interviewID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, qa := range qas {
		if qa.InterviewID != interviewID {
			return InterviewAnalytics{}, fmt.Errorf("%w: question %d belongs to interview %d, not %d",
				ErrInvalidInput, qa.ID, qa.InterviewID, interviewID)
		}
		if err := ValidateQuestionAnswer(qa); err != nil {
			return InterviewAnalytics{}, err
		}

		out.TotalQuestions++
		out.AccuracySum += qa.Accuracy
		if IsAnswered(qa) {
			out.AnsweredQuestions++
			out.AnsweredAccuracySum += qa.Accuracy
		}
		if qa.Outcome.HasReason() {
			out.QuestionsWithReason++
		}
		switch Classify(qa.Accuracy) {
		case High:
			out.HighConfidenceQuestions++
		case Medium:
			out.MediumConfidenceQuestions++
		default:
			out.LowConfidenceQuestions++
		}
	}

	out.UnansweredQuestions = out.TotalQuestions - out.AnsweredQuestions
	out.AnsweredPercentage = percent(out.AnsweredQuestions, out.TotalQuestions)
	out.UnansweredPercentage = percent(out.UnansweredQuestions, out.TotalQuestions)
	out.AverageAccuracy = mean(out.AccuracySum, out.TotalQuestions)
	out.AverageAnsweredAccuracy = mean(out.AnsweredAccuracySum, out.AnsweredQuestions)
	return out, nil
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
