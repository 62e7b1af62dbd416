package analytics

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// AggregateGlobal folds per-interview snapshots into the global rollup.
//
// Averages are weighted by question count through the carried raw sums, so
// the result equals a full re-scan of the underlying records. Snapshots are
// folded in ascending interview id order regardless of input order.
func AggregateGlobal(snapshots []InterviewAnalytics, now time.Time) GlobalAnalytics {
	sorted := make([]InterviewAnalytics, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].InterviewID < sorted[j].InterviewID })

	var f fold
	for _, s := range sorted {
		f.totalInterviews++
		f.totalQuestions += s.TotalQuestions
		f.totalAnswered += s.AnsweredQuestions
		f.totalWithReason += s.QuestionsWithReason
		f.high += s.HighConfidenceQuestions
		f.medium += s.MediumConfidenceQuestions
		f.low += s.LowConfidenceQuestions
		f.accuracySum += s.AccuracySum
		f.answeredSum += s.AnsweredAccuracySum
		if s.TotalQuestions > 0 {
			f.rank(s.InterviewID, s.AverageAccuracy)
		}
	}
	return f.result(now)
}

// ScanGlobal computes the global rollup directly from raw records, without
// going through per-interview snapshots. It is the reference the snapshot fold
// is checked against.
func ScanGlobal(interviewIDs []int64, qas []QuestionAnswer, now time.Time, log logrus.FieldLogger) GlobalAnalytics {
	s := NewScan(interviewIDs, log)
	s.Add(qas)
	return s.Result(now)
}

// Scan accumulates the global rollup over raw records fed one page at a time.
// Only per-interview counters are kept between pages.
//
// Records that reference an interview outside the known ids are inconsistent,
// and records that fail validation cannot be aggregated. Both are logged and
// skipped; the scan continues.
type Scan struct {
	known map[int64]*scanned
	f     fold
	log   logrus.FieldLogger
}

type scanned struct {
	count int
	sum   float64
}

// NewScan starts a scan over the given interviews.
func NewScan(interviewIDs []int64, log logrus.FieldLogger) *Scan {
	s := &Scan{known: make(map[int64]*scanned, len(interviewIDs)), log: log}
	for _, id := range interviewIDs {
		s.known[id] = &scanned{}
	}
	s.f.totalInterviews = len(s.known)
	return s
}

// Add folds one page of records into the scan.
func (s *Scan) Add(page []QuestionAnswer) {
	for _, qa := range page {
		p, ok := s.known[qa.InterviewID]
		if !ok {
			if s.log != nil {
				s.log.WithFields(logrus.Fields{
					"question_id":  qa.ID,
					"interview_id": qa.InterviewID,
				}).WithError(ErrInconsistent).Error("Skipping question for unknown interview")
			}
			continue
		}
		if err := ValidateQuestionAnswer(qa); err != nil {
			if s.log != nil {
				s.log.WithField("interview_id", qa.InterviewID).WithError(err).Error("Skipping invalid question")
			}
			continue
		}

		p.count++
		p.sum += qa.Accuracy
		s.f.totalQuestions++
		s.f.accuracySum += qa.Accuracy
		if IsAnswered(qa) {
			s.f.totalAnswered++
			s.f.answeredSum += qa.Accuracy
		}
		if qa.Outcome.HasReason() {
			s.f.totalWithReason++
		}
		switch Classify(qa.Accuracy) {
		case High:
			s.f.high++
		case Medium:
			s.f.medium++
		default:
			s.f.low++
		}
	}
}

// Result ranks the interviews seen so far and returns the rollup. It does not
// consume the scan.
func (s *Scan) Result(now time.Time) GlobalAnalytics {
	ids := make([]int64, 0, len(s.known))
	for id := range s.known {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	f := s.f
	f.ranked = false
	for _, id := range ids {
		if p := s.known[id]; p.count > 0 {
			f.rank(id, mean(p.sum, p.count))
		}
	}
	return f.result(now)
}

type fold struct {
	totalInterviews int
	totalQuestions  int
	totalAnswered   int
	totalWithReason int
	high            int
	medium          int
	low             int
	accuracySum     float64
	answeredSum     float64

	ranked     bool
	bestID     int64
	bestScore  float64
	worstID    int64
	worstScore float64
}

// rank must be called in ascending id order; strict comparisons keep the
// lower id on ties.
func (f *fold) rank(id int64, score float64) {
	if !f.ranked {
		f.ranked = true
		f.bestID, f.bestScore = id, score
		f.worstID, f.worstScore = id, score
		return
	}
	if score > f.bestScore {
		f.bestID, f.bestScore = id, score
	}
	if score < f.worstScore {
		f.worstID, f.worstScore = id, score
	}
}

func (f *fold) result(now time.Time) GlobalAnalytics {
	g := GlobalAnalytics{
		TotalInterviews:        f.totalInterviews,
		TotalQuestions:         f.totalQuestions,
		TotalAnswered:          f.totalAnswered,
		TotalUnanswered:        f.totalQuestions - f.totalAnswered,
		TotalWithReason:        f.totalWithReason,
		TotalHighConfidence:    f.high,
		TotalMediumConfidence:  f.medium,
		TotalLowConfidence:     f.low,
		GlobalAverageAccuracy:  mean(f.accuracySum, f.totalQuestions),
		GlobalAnsweredAccuracy: mean(f.answeredSum, f.totalAnswered),
		BestInterviewID:        NoInterview,
		WorstInterviewID:       NoInterview,
		LastUpdated:            UTC(now),
	}
	g.GlobalAnsweredPercent = percent(g.TotalAnswered, g.TotalQuestions)
	g.GlobalUnansweredPercent = percent(g.TotalUnanswered, g.TotalQuestions)
	if f.ranked {
		g.BestInterviewID, g.BestInterviewScore = f.bestID, f.bestScore
		g.WorstInterviewID, g.WorstInterviewScore = f.worstID, f.worstScore
	}
	return g
}
