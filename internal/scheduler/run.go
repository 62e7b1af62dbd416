package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// Run retries pending interviews and the global pass once at start and then
// on every tick, until ctx is cancelled. Interviews left recomputing by a
// previous process are picked up as pending.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.WithField("interval", s.cfg.Interval).Info("Starting recompute scheduler")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("Recompute scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	st, err := s.Status(ctx)
	if err != nil {
		s.degraded(err, nil)
		return
	}
	if !st.Stale {
		return
	}
	s.log.WithFields(logrus.Fields{
		"dirty":       st.Dirty,
		"recomputing": st.Recomputing,
	}).Debug("Retrying pending recomputes")
	if _, err := s.RecomputeGlobal(ctx); err != nil && ctx.Err() == nil {
		s.degraded(err, nil)
	}
}

// Status describes how current the stored snapshots are.
type Status struct {
	Dirty             int        `json:"dirty"`
	Recomputing       int        `json:"recomputing"`
	Clean             int        `json:"clean"`
	GlobalLastUpdated *time.Time `json:"globalLastUpdated,omitempty"`
	// Stale is true while any interview is pending or no global snapshot exists.
	Stale      bool    `json:"stale"`
	AgeSeconds float64 `json:"ageSeconds"`
}

// Status reports per-state counts and the age of the global snapshot.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	var counts map[analytics.State]int
	err := s.retry(ctx, "counting interview states", func(ctx context.Context) error {
		var err error
		counts, err = s.store.CountInterviewsByState(ctx)
		return err
	})
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Dirty:       counts[analytics.StateDirty],
		Recomputing: counts[analytics.StateRecomputing],
		Clean:       counts[analytics.StateClean],
	}
	s.metrics.SetStateCounts(map[string]int{
		string(analytics.StateDirty):       st.Dirty,
		string(analytics.StateRecomputing): st.Recomputing,
		string(analytics.StateClean):       st.Clean,
	})

	g, err := s.Global(ctx)
	switch {
	case err == nil:
		st.GlobalLastUpdated = &g.LastUpdated
		st.AgeSeconds = s.now().Sub(g.LastUpdated).Seconds()
	case errors.Is(err, analytics.ErrNotFound):
	default:
		return Status{}, err
	}
	st.Stale = st.GlobalLastUpdated == nil || st.Dirty > 0 || st.Recomputing > 0
	return st, nil
}

// Global returns the last published global snapshot.
func (s *Scheduler) Global(ctx context.Context) (*analytics.GlobalAnalytics, error) {
	var g *analytics.GlobalAnalytics
	err := s.retry(ctx, "reading global analytics", func(ctx context.Context) error {
		var err error
		g, err = s.store.GlobalAnalytics(ctx)
		return err
	})
	return g, err
}

// Interview returns the stored snapshot for one interview.
func (s *Scheduler) Interview(ctx context.Context, interviewID int64) (*analytics.InterviewAnalytics, error) {
	var a *analytics.InterviewAnalytics
	err := s.retry(ctx, "reading interview analytics", func(ctx context.Context) error {
		var err error
		a, err = s.store.InterviewAnalytics(ctx, interviewID)
		return err
	})
	return a, err
}

// Interviews lists stored interview snapshots matching f.
func (s *Scheduler) Interviews(ctx context.Context, f analytics.Filter) ([]analytics.InterviewAnalytics, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var out []analytics.InterviewAnalytics
	err := s.retry(ctx, "listing interview analytics", func(ctx context.Context) error {
		var err error
		out, err = s.store.ListInterviewAnalytics(ctx, f)
		return err
	})
	return out, err
}

// FilteredGlobal folds the clean interview snapshots matching f into an
// ad-hoc rollup. It is computed on the fly and never stored.
func (s *Scheduler) FilteredGlobal(ctx context.Context, f analytics.Filter) (analytics.GlobalAnalytics, error) {
	f.CleanOnly = true
	snaps, err := s.Interviews(ctx, f)
	if err != nil {
		return analytics.GlobalAnalytics{}, err
	}
	return analytics.AggregateGlobal(snaps, s.now()), nil
}
