package analytics

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the answered/unanswered tag of an Outcome.
type Status string

const (
	StatusAnswered   Status = "answered"
	StatusUnanswered Status = "unanswered"
)

// Outcome records whether a question was answered. The answered/unanswered
// decision is taken once, when the Outcome is built, and is never re-derived
// from the texts afterwards.
type Outcome struct {
	status Status
	answer string
	reason string
}

// Answered builds the outcome of a question that got an answer. A blank
// answer yields an unanswered outcome.
func Answered(fullAnswer string) Outcome {
	return NewOutcome(fullAnswer, "")
}

// Unanswered builds the outcome of a question left unanswered for reason.
func Unanswered(reason string) Outcome {
	return Outcome{status: StatusUnanswered, reason: reason}
}

// NewOutcome applies the answered rule to raw analyzer fields: a question is
// answered iff the reason is blank and the answer is not. Both texts are kept.
func NewOutcome(fullAnswer, reason string) Outcome {
	o := Outcome{status: StatusUnanswered, answer: fullAnswer, reason: reason}
	if strings.TrimSpace(reason) == "" && strings.TrimSpace(fullAnswer) != "" {
		o.status = StatusAnswered
	}
	return o
}

// RestoreOutcome rebuilds a previously classified outcome with both texts. An
// explicit status must agree with the answered rule applied to the texts.
func RestoreOutcome(status Status, fullAnswer, reason string) (Outcome, error) {
	o := NewOutcome(fullAnswer, reason)
	switch status {
	case "":
		return o, nil
	case StatusAnswered, StatusUnanswered:
		if o.status != status {
			return Outcome{}, fmt.Errorf("%w: outcome status %q contradicts answer %q and reason %q",
				ErrInvalidInput, status, fullAnswer, reason)
		}
		return o, nil
	default:
		return Outcome{}, fmt.Errorf("%w: outcome status %q", ErrInvalidInput, status)
	}
}

// consistent reports whether the status is the one the answered rule gives.
func (o Outcome) consistent() bool {
	return o.status != "" && o.status == NewOutcome(o.answer, o.reason).status
}

func (o Outcome) Answered() bool     { return o.status == StatusAnswered }
func (o Outcome) Status() Status     { return o.status }
func (o Outcome) FullAnswer() string { return o.answer }
func (o Outcome) Reason() string     { return o.reason }

// HasReason reports whether a non-blank unanswered reason was recorded.
func (o Outcome) HasReason() bool {
	return strings.TrimSpace(o.reason) != ""
}

type outcomeJSON struct {
	Status     Status `json:"status"`
	FullAnswer string `json:"fullAnswer"`
	Reason     string `json:"reason"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	s := o.status
	if s == "" {
		s = StatusUnanswered
	}
	return json.Marshal(outcomeJSON{Status: s, FullAnswer: o.answer, Reason: o.reason})
}

// UnmarshalJSON accepts an explicit status, or derives it from the texts when
// the status is omitted.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var raw outcomeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	restored, err := RestoreOutcome(raw.Status, raw.FullAnswer, raw.Reason)
	if err != nil {
		return err
	}
	*o = restored
	return nil
}
