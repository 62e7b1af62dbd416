// Package scheduler keeps interview and global analytics snapshots in step
// with the question/answer records.
//
// Every interview moves dirty -> recomputing -> clean. Writes mark an
// interview dirty and bump its revision; a recompute only marks it clean when
// the revision it read is still current. The global snapshot is published only
// from a consistent read in which every interview is clean.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
	"github.com/TobiSchelling/interviewstats/internal/config"
	"github.com/TobiSchelling/interviewstats/internal/metrics"
	"github.com/TobiSchelling/interviewstats/internal/notify"
)

// Metric result labels.
const (
	resultOK         = "ok"
	resultSuperseded = "superseded"
	resultStale      = "stale"
	resultError      = "error"
)

// Scheduler serializes recomputes per interview and runs at most one global
// pass at a time.
type Scheduler struct {
	store     Store
	cfg       config.Scheduler
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	publisher notify.Publisher
	now       func() time.Time

	interviews *keyedMutex
	globalMu   sync.Mutex
}

// New creates a scheduler. metrics may be nil; a nil publisher drops events.
func New(store Store, cfg config.Scheduler, log logrus.FieldLogger, m *metrics.Metrics, pub notify.Publisher) *Scheduler {
	if pub == nil {
		pub = notify.Nop{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Scheduler{
		store:      store,
		cfg:        cfg,
		log:        log,
		metrics:    m,
		publisher:  pub,
		now:        func() time.Time { return time.Now().UTC() },
		interviews: newKeyedMutex(),
	}
}

// Ingest validates and stores a call with its question/answer set, then
// brings the interview and global snapshots up to date.
func (s *Scheduler) Ingest(ctx context.Context, sub analytics.Submission) (int64, error) {
	for i, qa := range sub.Answers {
		if err := analytics.ValidateQuestionAnswer(qa); err != nil {
			return 0, fmt.Errorf("answer %d: %w", i, err)
		}
	}

	var id int64
	err := s.once(ctx, "saving submission", func(ctx context.Context) error {
		var err error
		id, err = s.store.SaveSubmission(ctx, sub, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"interview_id": id,
		"answers":      len(sub.Answers),
	}).Info("Ingested interview")
	s.refresh(ctx, id)
	return id, nil
}

// ReplaceAnswers swaps an interview's whole question/answer set.
func (s *Scheduler) ReplaceAnswers(ctx context.Context, interviewID int64, qas []analytics.QuestionAnswer) error {
	for i, qa := range qas {
		if err := analytics.ValidateQuestionAnswer(qa); err != nil {
			return fmt.Errorf("answer %d: %w", i, err)
		}
	}
	err := s.once(ctx, "replacing answers", func(ctx context.Context) error {
		return s.store.ReplaceQuestionAnswers(ctx, interviewID, qas, s.now())
	})
	if err != nil {
		return err
	}
	s.refresh(ctx, interviewID)
	return nil
}

// AddAnswer appends one record to an existing interview.
func (s *Scheduler) AddAnswer(ctx context.Context, qa analytics.QuestionAnswer) (int64, error) {
	if err := analytics.ValidateQuestionAnswer(qa); err != nil {
		return 0, err
	}
	var id int64
	err := s.once(ctx, "adding answer", func(ctx context.Context) error {
		var err error
		id, err = s.store.InsertQuestionAnswer(ctx, qa, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.refresh(ctx, qa.InterviewID)
	return id, nil
}

// EditAnswer rewrites one record in place. It returns the owning interview.
func (s *Scheduler) EditAnswer(ctx context.Context, qa analytics.QuestionAnswer) (int64, error) {
	if err := analytics.ValidateQuestionAnswer(qa); err != nil {
		return 0, err
	}
	var owner int64
	err := s.once(ctx, "editing answer", func(ctx context.Context) error {
		var err error
		owner, err = s.store.UpdateQuestionAnswer(ctx, qa, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.refresh(ctx, owner)
	return owner, nil
}

// DeleteInterview removes an interview and its records, then republishes the
// global snapshot without it.
func (s *Scheduler) DeleteInterview(ctx context.Context, id int64) error {
	err := s.once(ctx, "deleting interview", func(ctx context.Context) error {
		return s.store.DeleteInterview(ctx, id)
	})
	if err != nil {
		return err
	}
	e := notify.NewEvent(notify.TypeInterviewDeleted, s.now())
	e.InterviewID = id
	s.publish(ctx, e)

	if _, err := s.RecomputeGlobal(ctx); err != nil {
		s.degraded(err, logrus.Fields{"interview_id": id})
	}
	return nil
}

// refresh recomputes after a committed write. Failures leave the interview
// dirty for the background loop and are only logged: the write itself stands.
func (s *Scheduler) refresh(ctx context.Context, interviewID int64) {
	if err := s.RecomputeInterview(ctx, interviewID); err != nil {
		s.degraded(err, logrus.Fields{"interview_id": interviewID})
		return
	}
	if _, err := s.RecomputeGlobal(ctx); err != nil {
		s.degraded(err, logrus.Fields{"interview_id": interviewID})
	}
}

// RecomputeInterview rebuilds one interview's snapshot from its records.
// Recomputes of different interviews run in parallel; the same interview is
// never recomputed twice at once.
//
// If a write lands while the recompute runs, nothing is stored, the interview
// stays dirty and ErrStale is returned. If the store keeps failing the
// interview is put back to dirty and ErrStoreUnavailable is returned.
func (s *Scheduler) RecomputeInterview(ctx context.Context, interviewID int64) error {
	unlock := s.interviews.Lock(interviewID)
	defer unlock()

	start := time.Now()
	log := s.log.WithField("interview_id", interviewID)

	err := s.retry(ctx, "marking interview recomputing", func(ctx context.Context) error {
		return s.store.SetInterviewState(ctx, interviewID, analytics.StateRecomputing)
	})
	if err != nil {
		s.metrics.ObserveRecompute(metrics.ScopeInterview, resultError, time.Since(start))
		return err
	}

	var (
		qas      []analytics.QuestionAnswer
		revision int64
	)
	err = s.retry(ctx, "reading question answers", func(ctx context.Context) error {
		var err error
		qas, revision, err = s.store.QuestionAnswers(ctx, interviewID)
		return err
	})
	if err != nil {
		return s.abandon(interviewID, start, err)
	}

	snap, err := analytics.AggregateInterview(interviewID, qas, s.now())
	if err != nil {
		log.WithError(err).Error("Stored records failed validation")
		return s.abandon(interviewID, start, err)
	}

	var clean bool
	err = s.retry(ctx, "storing interview analytics", func(ctx context.Context) error {
		var err error
		clean, err = s.store.PutInterviewAnalytics(ctx, snap, revision)
		return err
	})
	if err != nil {
		return s.abandon(interviewID, start, err)
	}
	if !clean {
		s.metrics.ObserveRecompute(metrics.ScopeInterview, resultSuperseded, time.Since(start))
		log.WithField("revision", revision).Debug("Interview changed during recompute, left dirty")
		return fmt.Errorf("interview %d changed during recompute: %w", interviewID, analytics.ErrStale)
	}

	s.metrics.ObserveRecompute(metrics.ScopeInterview, resultOK, time.Since(start))
	log.WithFields(logrus.Fields{
		"questions":        snap.TotalQuestions,
		"average_accuracy": snap.AverageAccuracy,
	}).Debug("Recomputed interview analytics")

	e := notify.NewEvent(notify.TypeInterviewUpdated, s.now())
	e.InterviewID = interviewID
	e.Interview = &snap
	s.publish(ctx, e)
	return nil
}

// abandon puts an interview whose recompute failed back to dirty. It uses a
// fresh context so a cancelled caller does not strand the interview in the
// recomputing state.
func (s *Scheduler) abandon(interviewID int64, start time.Time, cause error) error {
	s.metrics.ObserveRecompute(metrics.ScopeInterview, resultError, time.Since(start))
	if errors.Is(cause, analytics.ErrNotFound) {
		return cause
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.store.SetInterviewState(ctx, interviewID, analytics.StateDirty); err != nil && !errors.Is(err, analytics.ErrNotFound) {
		s.log.WithError(err).WithField("interview_id", interviewID).Error("Could not return interview to dirty")
	}
	return cause
}

// RecomputeGlobal brings every pending interview up to date and then rebuilds
// the global snapshot from a consistent read of all interview snapshots. If
// any interview cannot be made clean the pass fails with ErrStale and the
// previous global snapshot stays in place.
func (s *Scheduler) RecomputeGlobal(ctx context.Context) (*analytics.GlobalAnalytics, error) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	start := time.Now()
	var pending []int64
	err := s.retry(ctx, "listing pending interviews", func(ctx context.Context) error {
		var err error
		pending, err = s.store.InterviewIDsByState(ctx, analytics.StateDirty, analytics.StateRecomputing)
		return err
	})
	if err != nil {
		s.metrics.ObserveRecompute(metrics.ScopeGlobal, resultError, time.Since(start))
		return nil, err
	}

	if err := s.recomputeMany(ctx, pending); err != nil {
		s.metrics.ObserveRecompute(metrics.ScopeGlobal, resultStale, time.Since(start))
		return nil, fmt.Errorf("global pass: %w", err)
	}

	var snaps []analytics.InterviewAnalytics
	err = s.retry(ctx, "reading interview snapshots", func(ctx context.Context) error {
		var err error
		snaps, err = s.store.CleanSnapshot(ctx)
		return err
	})
	if err != nil {
		result := resultError
		if errors.Is(err, analytics.ErrStale) {
			result = resultStale
		}
		s.metrics.ObserveRecompute(metrics.ScopeGlobal, result, time.Since(start))
		return nil, err
	}

	g := analytics.AggregateGlobal(snaps, s.now())
	err = s.retry(ctx, "storing global analytics", func(ctx context.Context) error {
		return s.store.PutGlobalAnalytics(ctx, g)
	})
	if err != nil {
		s.metrics.ObserveRecompute(metrics.ScopeGlobal, resultError, time.Since(start))
		return nil, err
	}

	s.metrics.ObserveRecompute(metrics.ScopeGlobal, resultOK, time.Since(start))
	s.metrics.GlobalUpdated(g.LastUpdated)
	s.log.WithFields(logrus.Fields{
		"interviews":       g.TotalInterviews,
		"questions":        g.TotalQuestions,
		"average_accuracy": g.GlobalAverageAccuracy,
	}).Info("Published global analytics")

	e := notify.NewEvent(notify.TypeGlobalUpdated, s.now())
	e.Global = &g
	s.publish(ctx, e)
	return &g, nil
}

// recomputeMany recomputes interviews on a bounded number of workers. It
// returns ErrStale joined with every failure if any interview is left
// unclean. Interviews deleted in the meantime are skipped.
func (s *Scheduler) recomputeMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		sem  = make(chan struct{}, s.cfg.Workers)
	)
	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.RecomputeInterview(ctx, id); err != nil && !errors.Is(err, analytics.ErrNotFound) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(append([]error{fmt.Errorf("%d of %d interviews not clean: %w", len(errs), len(ids), analytics.ErrStale)}, errs...)...)
	}
	return nil
}

// RecomputeAll marks every interview dirty and rebuilds everything.
func (s *Scheduler) RecomputeAll(ctx context.Context) (*analytics.GlobalAnalytics, error) {
	var n int64
	err := s.retry(ctx, "marking all interviews dirty", func(ctx context.Context) error {
		var err error
		n, err = s.store.MarkAllDirty(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("interviews", n).Info("Recomputing all analytics")
	return s.RecomputeGlobal(ctx)
}

func (s *Scheduler) publish(ctx context.Context, e notify.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.WithError(err).WithField("type", e.Type).Warn("Could not publish analytics event")
	}
}

// degraded logs a recompute that could not finish. Snapshots served until the
// next successful pass are stale.
func (s *Scheduler) degraded(err error, fields logrus.Fields) {
	entry := s.log.WithFields(fields).WithError(err)
	if errors.Is(err, analytics.ErrStoreUnavailable) {
		entry.Warn("Analytics degraded: record store unavailable, snapshots are stale")
		return
	}
	entry.Info("Analytics left stale until the next recompute")
}
