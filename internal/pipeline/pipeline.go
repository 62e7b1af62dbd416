package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
	"github.com/TobiSchelling/interviewstats/internal/config"
	"github.com/TobiSchelling/interviewstats/internal/database"
	"github.com/TobiSchelling/interviewstats/internal/ingest"
	"github.com/TobiSchelling/interviewstats/internal/scheduler"
)

// verifyTolerance absorbs float summation order differences.
const verifyTolerance = 1e-6

// ErrMismatch is returned by Verify when the stored rollup and a full re-scan
// disagree.
var ErrMismatch = errors.New("global snapshot does not match records")

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Files       []string
	Steps       []StepResult
	Interviews  []int64
	Submissions int
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline loads batch files, ingests them through the scheduler and checks
// the published rollup against the raw records.
type Pipeline struct {
	cfg   *config.Config
	db    *database.DB
	sched *scheduler.Scheduler
	log   logrus.FieldLogger
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, sched *scheduler.Scheduler, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{cfg: cfg, db: db, sched: sched, log: log}
}

// Run executes load, ingest, recompute and verify.
func (p *Pipeline) Run(ctx context.Context, files []string) *Result {
	r := &Result{Files: files}

	// Step 1: Load
	subs, step := p.runLoad(files)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}
	r.Submissions = len(subs)

	// Step 2: Ingest
	ids, step := p.runIngest(ctx, subs)
	r.Interviews = ids
	r.Steps = append(r.Steps, step)
	if len(ids) == 0 && step.Err != nil {
		return r
	}

	// Step 3: Recompute
	step = p.runRecompute(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 4: Verify
	r.Steps = append(r.Steps, p.runVerify(ctx))
	return r
}

// DryRun parses and validates the files without writing anything.
func (p *Pipeline) DryRun(ctx context.Context, files []string) *Result {
	r := &Result{Files: files}

	subs, step := p.runLoad(files)
	step.Summary = "[dry-run] " + step.Summary
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}
	r.Submissions = len(subs)

	questions := 0
	for _, s := range subs {
		questions += len(s.Answers)
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Ingest",
		Summary: fmt.Sprintf("[dry-run] Would ingest %d interviews with %d questions", len(subs), questions),
	})

	st, err := p.sched.Status(ctx)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Recompute", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Recompute",
		Summary: fmt.Sprintf("[dry-run] %d interviews pending before ingest", st.Dirty+st.Recomputing),
	})
	return r
}

func (p *Pipeline) runLoad(files []string) ([]analytics.Submission, StepResult) {
	p.log.WithField("files", len(files)).Info("Step 1/4: Loading batch files...")
	var all []analytics.Submission
	for _, f := range files {
		subs, err := ingest.LoadFile(f)
		if err != nil {
			return nil, StepResult{Name: "Load", Err: fmt.Errorf("%s: %w", f, err)}
		}
		all = append(all, subs...)
	}
	return all, StepResult{
		Name:    "Load",
		Summary: fmt.Sprintf("Loaded %d interviews from %d files", len(all), len(files)),
	}
}

func (p *Pipeline) runIngest(ctx context.Context, subs []analytics.Submission) ([]int64, StepResult) {
	p.log.WithField("interviews", len(subs)).Info("Step 2/4: Ingesting interviews...")
	var ids []int64
	var errs []error
	for i, sub := range subs {
		id, err := p.sched.Ingest(ctx, sub)
		if err != nil {
			p.log.WithError(err).WithField("index", i).Warn("Skipping interview")
			errs = append(errs, fmt.Errorf("interview %d: %w", i+1, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, StepResult{
		Name:    "Ingest",
		Summary: fmt.Sprintf("Ingested %d interviews, %d failed", len(ids), len(errs)),
		Err:     errors.Join(errs...),
	}
}

func (p *Pipeline) runRecompute(ctx context.Context) StepResult {
	p.log.Info("Step 3/4: Recomputing global analytics...")
	g, err := p.sched.RecomputeGlobal(ctx)
	if err != nil {
		return StepResult{Name: "Recompute", Err: err}
	}
	return StepResult{
		Name: "Recompute",
		Summary: fmt.Sprintf("Published global snapshot: %d interviews, %d questions, avg accuracy %.2f",
			g.TotalInterviews, g.TotalQuestions, g.GlobalAverageAccuracy),
	}
}

func (p *Pipeline) runVerify(ctx context.Context) StepResult {
	p.log.Info("Step 4/4: Verifying against a full re-scan...")
	if err := p.Verify(ctx); err != nil {
		return StepResult{Name: "Verify", Err: err}
	}
	return StepResult{Name: "Verify", Summary: "Global snapshot matches a full re-scan"}
}

// Verify re-scans every question/answer record and compares the result with
// the stored global snapshot.
func (p *Pipeline) Verify(ctx context.Context) error {
	stored, err := p.sched.Global(ctx)
	if err != nil {
		return err
	}
	ids, err := p.db.InterviewIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing interviews: %w", err)
	}
	scan := analytics.NewScan(ids, p.log)
	err = p.db.AllQuestionAnswers(ctx, p.cfg.Database.PageSize, func(page []analytics.QuestionAnswer) error {
		scan.Add(page)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning records: %w", err)
	}

	return Compare(*stored, scan.Result(time.Now()))
}

// Compare reports the first field where two rollups differ. LastUpdated is
// ignored.
func Compare(stored, scanned analytics.GlobalAnalytics) error {
	ints := []struct {
		name      string
		got, want int64
	}{
		{"totalInterviews", int64(stored.TotalInterviews), int64(scanned.TotalInterviews)},
		{"totalQuestions", int64(stored.TotalQuestions), int64(scanned.TotalQuestions)},
		{"totalAnswered", int64(stored.TotalAnswered), int64(scanned.TotalAnswered)},
		{"totalUnanswered", int64(stored.TotalUnanswered), int64(scanned.TotalUnanswered)},
		{"totalWithReason", int64(stored.TotalWithReason), int64(scanned.TotalWithReason)},
		{"totalHighConfidence", int64(stored.TotalHighConfidence), int64(scanned.TotalHighConfidence)},
		{"totalMediumConfidence", int64(stored.TotalMediumConfidence), int64(scanned.TotalMediumConfidence)},
		{"totalLowConfidence", int64(stored.TotalLowConfidence), int64(scanned.TotalLowConfidence)},
		{"bestInterviewID", stored.BestInterviewID, scanned.BestInterviewID},
		{"worstInterviewID", stored.WorstInterviewID, scanned.WorstInterviewID},
	}
	for _, c := range ints {
		if c.got != c.want {
			return fmt.Errorf("%w: %s stored %d, scanned %d", ErrMismatch, c.name, c.got, c.want)
		}
	}

	floats := []struct {
		name      string
		got, want float64
	}{
		{"globalAnsweredPercent", stored.GlobalAnsweredPercent, scanned.GlobalAnsweredPercent},
		{"globalUnansweredPercent", stored.GlobalUnansweredPercent, scanned.GlobalUnansweredPercent},
		{"globalAverageAccuracy", stored.GlobalAverageAccuracy, scanned.GlobalAverageAccuracy},
		{"globalAnsweredAccuracy", stored.GlobalAnsweredAccuracy, scanned.GlobalAnsweredAccuracy},
		{"bestInterviewScore", stored.BestInterviewScore, scanned.BestInterviewScore},
		{"worstInterviewScore", stored.WorstInterviewScore, scanned.WorstInterviewScore},
	}
	for _, c := range floats {
		if math.Abs(c.got-c.want) > verifyTolerance {
			return fmt.Errorf("%w: %s stored %.6f, scanned %.6f", ErrMismatch, c.name, c.got, c.want)
		}
	}
	return nil
}
