package analytics

import (
	"fmt"
	"math"
)

// Accuracy scale and confidence bucket thresholds. These are the only
// thresholds used anywhere in the module.
const (
	MinAccuracy = 0.0
	MaxAccuracy = 100.0

	HighConfidenceThreshold   = 80.0
	MediumConfidenceThreshold = 50.0
)

// NoInterview is the best/worst sentinel used when no interview has questions.
const NoInterview int64 = 0

// Confidence is a bucket of the accuracy scale.
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

func (c Confidence) String() string {
	switch c {
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

// Classify buckets an accuracy already known to be in [0,100].
func Classify(accuracy float64) Confidence {
	switch {
	case accuracy >= HighConfidenceThreshold:
		return High
	case accuracy >= MediumConfidenceThreshold:
		return Medium
	default:
		return Low
	}
}

// IsAnswered is the single answered predicate used by every aggregation.
func IsAnswered(qa QuestionAnswer) bool {
	return qa.Outcome.Answered()
}

// ValidateAccuracy rejects NaN, infinities and values outside [0,100].
func ValidateAccuracy(a float64) error {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return fmt.Errorf("%w: accuracy %v is not a finite number", ErrInvalidInput, a)
	}
	if a < MinAccuracy || a > MaxAccuracy {
		return fmt.Errorf("%w: accuracy %v outside [%v,%v]", ErrInvalidInput, a, MinAccuracy, MaxAccuracy)
	}
	return nil
}

// ValidateQuestionAnswer checks a record before it is written or aggregated.
func ValidateQuestionAnswer(qa QuestionAnswer) error {
	if err := ValidateAccuracy(qa.Accuracy); err != nil {
		return fmt.Errorf("question %d: %w", qa.ID, err)
	}
	if qa.Outcome.Status() == "" {
		return fmt.Errorf("%w: question %d has no outcome", ErrInvalidInput, qa.ID)
	}
	if !qa.Outcome.consistent() {
		return fmt.Errorf("%w: question %d is %s but has answer %q and reason %q", ErrInvalidInput,
			qa.ID, qa.Outcome.Status(), qa.Outcome.FullAnswer(), qa.Outcome.Reason())
	}
	return nil
}
