package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
	"github.com/TobiSchelling/interviewstats/internal/database"
	"github.com/TobiSchelling/interviewstats/internal/ingest"
	"github.com/TobiSchelling/interviewstats/internal/pipeline"
	"github.com/TobiSchelling/interviewstats/internal/report"
	"github.com/TobiSchelling/interviewstats/internal/scheduler"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
}

// --- ingest command ---

var dryRun bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest analyzed calls: load -> ingest -> recompute -> verify",
	Long: `Ingest analyzed calls from .json (analyzer output, a submission or a batch),
.yaml/.yml batches or .xlsx sheets with one question per row.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sched, closePub := newScheduler(cmd.Context(), db)
		defer closePub()
		pipe := pipeline.New(cfg, db, sched, logger.WithField("component", "pipeline"))

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(cmd.Context(), args)
		} else {
			result = pipe.Run(cmd.Context(), args)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		if result.Failed() {
			return errors.New("ingest finished with errors")
		}
		if !dryRun {
			fmt.Println("\nIngest complete! Run 'interviewstats show global' or 'interviewstats serve'.")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate files without writing anything")
}

// --- edit command ---

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit question/answer records",
}

var (
	editQuestion string
	editAnswer   string
	editReason   string
	editAccuracy float64
)

var editAnswerCmd = &cobra.Command{
	Use:   "answer [answer-id]",
	Short: "Change one question/answer record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "answer")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		qa, err := db.GetQuestionAnswer(cmd.Context(), id)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("question") {
			qa.Question = editQuestion
		}
		if flags.Changed("accuracy") {
			qa.Accuracy = editAccuracy
		}
		if flags.Changed("answer") || flags.Changed("reason") {
			answer, reason := qa.Outcome.FullAnswer(), qa.Outcome.Reason()
			if flags.Changed("answer") {
				answer = editAnswer
			}
			if flags.Changed("reason") {
				reason = editReason
			}
			qa.Outcome = analytics.NewOutcome(answer, reason)
		}

		sched, closePub := newScheduler(cmd.Context(), db)
		defer closePub()
		owner, err := sched.EditAnswer(cmd.Context(), *qa)
		if err != nil {
			return err
		}
		fmt.Printf("Updated answer [%d] of interview %d (%s, accuracy %.1f)\n",
			id, owner, qa.Outcome.Status(), qa.Accuracy)
		warnIfStale(cmd.Context(), sched)
		return nil
	},
}

var editAddCmd = &cobra.Command{
	Use:   "add [interview-id]",
	Short: "Add a question/answer record to an interview",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interviewID, err := parseID(args[0], "interview")
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("accuracy") {
			return fmt.Errorf("--accuracy is required")
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sched, closePub := newScheduler(cmd.Context(), db)
		defer closePub()
		qa := analytics.QuestionAnswer{
			InterviewID: interviewID,
			Question:    editQuestion,
			Outcome:     analytics.NewOutcome(editAnswer, editReason),
			Accuracy:    editAccuracy,
		}
		id, err := sched.AddAnswer(cmd.Context(), qa)
		if err != nil {
			return err
		}
		fmt.Printf("Added answer [%d] to interview %d\n", id, interviewID)
		warnIfStale(cmd.Context(), sched)
		return nil
	},
}

var editReplaceCmd = &cobra.Command{
	Use:   "replace [interview-id] [file]",
	Short: "Replace all of an interview's records with those of one analyzed call",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		interviewID, err := parseID(args[0], "interview")
		if err != nil {
			return err
		}
		subs, err := ingest.LoadFile(args[1])
		if err != nil {
			return err
		}
		if len(subs) != 1 {
			return fmt.Errorf("%s holds %d calls, expected exactly one", args[1], len(subs))
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sched, closePub := newScheduler(cmd.Context(), db)
		defer closePub()
		if err := sched.ReplaceAnswers(cmd.Context(), interviewID, subs[0].Answers); err != nil {
			return err
		}
		fmt.Printf("Replaced interview %d with %d answers\n", interviewID, len(subs[0].Answers))
		warnIfStale(cmd.Context(), sched)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{editAnswerCmd, editAddCmd} {
		c.Flags().StringVar(&editQuestion, "question", "", "Question text")
		c.Flags().StringVar(&editAnswer, "answer", "", "Full answer text")
		c.Flags().StringVar(&editReason, "reason", "", "Reason the question went unanswered")
		c.Flags().Float64Var(&editAccuracy, "accuracy", 0, "Accuracy score (0-100)")
	}
	editCmd.AddCommand(editAnswerCmd)
	editCmd.AddCommand(editAddCmd)
	editCmd.AddCommand(editReplaceCmd)
}

// --- delete command ---

var deleteCmd = &cobra.Command{
	Use:   "delete [interview-id]",
	Short: "Delete an interview and its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "interview")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sched, closePub := newScheduler(cmd.Context(), db)
		defer closePub()
		if err := sched.DeleteInterview(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted interview %d\n", id)
		warnIfStale(cmd.Context(), sched)
		return nil
	},
}

// --- recompute command ---

var (
	recomputeAll    bool
	recomputeVerify bool
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute pending snapshots and republish the global rollup",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sched, closePub := newScheduler(cmd.Context(), db)
		defer closePub()

		var g *analytics.GlobalAnalytics
		if recomputeAll {
			g, err = sched.RecomputeAll(cmd.Context())
		} else {
			g, err = sched.RecomputeGlobal(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Printf("Global snapshot published: %d interviews, %d questions, avg accuracy %.2f\n",
			g.TotalInterviews, g.TotalQuestions, g.GlobalAverageAccuracy)

		if recomputeVerify {
			pipe := pipeline.New(cfg, db, sched, logger.WithField("component", "pipeline"))
			if err := pipe.Verify(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Verified against a full re-scan of the records.")
		}
		return nil
	},
}

func init() {
	recomputeCmd.Flags().BoolVar(&recomputeAll, "all", false, "Mark every interview dirty first")
	recomputeCmd.Flags().BoolVar(&recomputeVerify, "verify", false, "Compare the result with a full re-scan")
}

// --- show command ---

var (
	period      string
	minAccuracy float64
	maxAccuracy float64
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print stored analytics as JSON",
}

var showGlobalCmd = &cobra.Command{
	Use:   "global",
	Short: "Show the global rollup, or an ad-hoc rollup for --period/--min/--max",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		f, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		sched := scheduler.New(db, cfg.Scheduler, logger, nil, nil)
		if f.IsZero() {
			g, err := sched.Global(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(g)
		}
		g, err := sched.FilteredGlobal(cmd.Context(), f)
		if err != nil {
			return err
		}
		return printJSON(g)
	},
}

var showInterviewsCmd = &cobra.Command{
	Use:   "interviews",
	Short: "List interview snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		f, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		items, err := scheduler.New(db, cfg.Scheduler, logger, nil, nil).Interviews(cmd.Context(), f)
		if err != nil {
			return err
		}
		return printJSON(items)
	},
}

var showInterviewCmd = &cobra.Command{
	Use:   "interview [interview-id]",
	Short: "Show one interview's snapshot and records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "interview")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		iv, err := db.GetInterview(cmd.Context(), id)
		if err != nil {
			return err
		}
		qas, _, err := db.QuestionAnswers(cmd.Context(), id)
		if err != nil {
			return err
		}
		a, err := db.InterviewAnalytics(cmd.Context(), id)
		if err != nil && !errors.Is(err, analytics.ErrNotFound) {
			return err
		}
		return printJSON(map[string]any{
			"interview": iv,
			"analytics": a,
			"answers":   qas,
		})
	},
}

var showStatesCmd = &cobra.Command{
	Use:   "states",
	Short: "List interviews with their recompute state and revision",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListInterviews(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No interviews yet. Add some with: interviewstats ingest")
			return nil
		}
		for _, iv := range items {
			fmt.Printf("  [%d] %-11s rev %-4d updated %s\n",
				iv.ID, iv.State, iv.Revision, iv.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var showCallCmd = &cobra.Command{
	Use:   "call [interview-id]",
	Short: "Show the call transcript and analyzer output of an interview",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "interview")
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		call, err := db.GetCall(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(call)
	},
}

func init() {
	for _, c := range []*cobra.Command{showGlobalCmd, showInterviewsCmd, reportCmd, exportCmd} {
		addFilterFlags(c)
	}
	showCmd.AddCommand(showGlobalCmd)
	showCmd.AddCommand(showInterviewsCmd)
	showCmd.AddCommand(showInterviewCmd)
	showCmd.AddCommand(showStatesCmd)
	showCmd.AddCommand(showCallCmd)
}

// --- report and export commands ---

var (
	reportHTML bool
	reportOut  string
	today      bool
	daysBack   int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a markdown (or HTML) analytics report",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := loadReportData(cmd)
		if err != nil {
			return err
		}

		out := report.Markdown(data)
		if reportHTML {
			if out, err = report.HTML(data); err != nil {
				return err
			}
		}
		if reportOut == "" {
			fmt.Print(out)
			return nil
		}
		if err := os.WriteFile(reportOut, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportOut)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file.xlsx]",
	Short: "Export snapshots to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !strings.HasSuffix(strings.ToLower(args[0]), ".xlsx") {
			return fmt.Errorf("export target must be an .xlsx file")
		}
		data, err := loadReportData(cmd)
		if err != nil {
			return err
		}
		if err := report.SaveXLSX(args[0], data); err != nil {
			return err
		}
		fmt.Printf("Exported %d interviews to %s\n", len(data.Interviews), args[0])
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportHTML, "html", false, "Render HTML instead of markdown")
	reportCmd.Flags().StringVarP(&reportOut, "output", "o", "", "Write to a file instead of stdout")
	for _, c := range []*cobra.Command{reportCmd, exportCmd} {
		c.Flags().BoolVar(&today, "today", false, "Only interviews created today")
		c.Flags().IntVar(&daysBack, "days-back", 0, "Only interviews from the last N days")
	}
}

func loadReportData(cmd *cobra.Command) (report.Data, error) {
	if today {
		period = database.GetToday()
	} else if daysBack > 0 {
		end := database.GetToday()
		endDate, _ := time.Parse("2006-01-02", end)
		start := endDate.AddDate(0, 0, -(daysBack - 1)).Format("2006-01-02")
		period = database.MakePeriodID(start, end)
	}

	f, err := filterFromFlags(cmd)
	if err != nil {
		return report.Data{}, err
	}

	db, err := openDB()
	if err != nil {
		return report.Data{}, err
	}
	defer db.Close()

	ctx := cmd.Context()
	sched := scheduler.New(db, cfg.Scheduler, logger, nil, nil)
	st, err := sched.Status(ctx)
	if err != nil {
		return report.Data{}, err
	}
	items, err := sched.Interviews(ctx, f)
	if err != nil {
		return report.Data{}, err
	}
	data := report.Data{
		Period:      period,
		Interviews:  items,
		Stale:       st.Stale,
		AgeSeconds:  st.AgeSeconds,
		GeneratedAt: time.Now().UTC(),
	}
	if f.IsZero() {
		g, err := sched.Global(ctx)
		if err != nil && !errors.Is(err, analytics.ErrNotFound) {
			return report.Data{}, err
		}
		data.Global = g
		return data, nil
	}
	g, err := sched.FilteredGlobal(ctx, f)
	if err != nil {
		return report.Data{}, err
	}
	data.Global = &g
	return data, nil
}

// --- helpers ---

func addFilterFlags(c *cobra.Command) {
	c.Flags().StringVar(&period, "period", "", "Date range YYYY-MM-DD or YYYY-MM-DD..YYYY-MM-DD")
	c.Flags().Float64Var(&minAccuracy, "min", 0, "Minimum average accuracy")
	c.Flags().Float64Var(&maxAccuracy, "max", 100, "Maximum average accuracy")
}

func filterFromFlags(cmd *cobra.Command) (analytics.Filter, error) {
	var lo, hi *float64
	if cmd.Flags().Changed("min") {
		lo = &minAccuracy
	}
	if cmd.Flags().Changed("max") {
		hi = &maxAccuracy
	}
	return database.PeriodFilter(period, lo, hi)
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", what, raw)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// warnIfStale tells the user when the snapshots did not catch up with a write.
func warnIfStale(ctx context.Context, sched *scheduler.Scheduler) {
	if st, err := sched.Status(ctx); err == nil && !st.Stale {
		return
	}
	fmt.Println("Snapshots are stale. Run 'interviewstats recompute' or start 'interviewstats serve'.")
}
