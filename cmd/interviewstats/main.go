package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/interviewstats/internal/config"
	"github.com/TobiSchelling/interviewstats/internal/database"
	"github.com/TobiSchelling/interviewstats/internal/logging"
	"github.com/TobiSchelling/interviewstats/internal/metrics"
	"github.com/TobiSchelling/interviewstats/internal/notify"
	"github.com/TobiSchelling/interviewstats/internal/scheduler"
	"github.com/TobiSchelling/interviewstats/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "interviewstats",
	Short:   "Interview analytics",
	Long:    "interviewstats aggregates scored interview question/answer records into per-interview and global analytics.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		path, resolveErr := config.ResolveConfigPath(configPath)
		switch {
		case resolveErr == nil:
			cfg, err = config.Load(path)
		case configPath == "":
			cfg, err = config.Default()
		default:
			return resolveErr
		}
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger = logging.New(cfg.Logging)
		if verbose {
			logger.Logger.SetLevel(logrus.DebugLevel)
		}
		if resolveErr != nil {
			logger.Debug("No config file found, using built-in defaults")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("interviewstats", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/interviewstats/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the scheduler, server and AMQP notifications.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and snapshot status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n", database.GetToday())
		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Records:")
		fmt.Printf("  Interviews: %d\n", stats.Interviews)
		fmt.Printf("  Calls: %d\n", stats.Calls)
		fmt.Printf("  Question answers: %d\n", stats.QuestionAnswers)
		fmt.Println("\nSnapshots:")
		fmt.Printf("  Clean: %d\n", stats.CleanInterviews)
		fmt.Printf("  Dirty: %d\n", stats.DirtyInterviews)
		fmt.Printf("  Recomputing: %d\n", stats.Recomputing)
		fmt.Printf("  Interview snapshots: %d\n", stats.InterviewSnapshot)
		if stats.GlobalLastUpdated != nil {
			fmt.Printf("  Global last updated: %s (%s ago)\n",
				stats.GlobalLastUpdated.Format(time.RFC3339),
				time.Since(*stats.GlobalLastUpdated).Round(time.Second))
		} else {
			fmt.Println("  Global last updated: never")
		}
		if stats.Stale() {
			fmt.Println("\nSnapshots are stale. Run 'interviewstats recompute' or start 'interviewstats serve'.")
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, dashboard and background recompute loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		m := newMetrics()
		hub := notify.NewHub(logger.WithField("component", "hub"), m)
		pub, closePub := newPublisher(ctx, m, hub)
		defer closePub()

		sched := scheduler.New(db, cfg.Scheduler, logger.WithField("component", "scheduler"), m, pub)
		srv, err := server.New(db, sched, *cfg, server.Options{Logger: logger, Metrics: m, Hub: hub})
		if err != nil {
			return err
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil {
				logger.WithError(err).Error("Recompute scheduler stopped")
			}
		}()

		fmt.Printf("Starting server at http://localhost:%d\n", cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		err = server.Serve(ctx, srv, cfg.Server)
		stop()
		wg.Wait()
		return err
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.OpenWithLogger(cfg.DBPath(), logger.WithField("component", "database"))
}

func newMetrics() *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

// newPublisher fans events out to the given sinks plus the AMQP broker when
// one is configured. A broker that is down at startup is retried on publish.
func newPublisher(ctx context.Context, m *metrics.Metrics, sinks ...notify.Publisher) (notify.Publisher, func()) {
	multi := notify.Multi(sinks)
	if !cfg.Notify.AMQP.Enabled {
		return multi, func() {}
	}

	amqpPub := notify.NewAMQPPublisher(cfg.Notify.AMQP, logger.WithField("component", "amqp"), m)
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := amqpPub.Connect(connectCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("AMQP broker unavailable, events will be retried on publish")
	}
	return append(multi, amqpPub), func() {
		if err := amqpPub.Close(); err != nil {
			logger.WithError(err).Debug("Closing AMQP publisher")
		}
	}
}

// newScheduler wires a scheduler for one-shot commands.
func newScheduler(ctx context.Context, db *database.DB) (*scheduler.Scheduler, func()) {
	pub, closePub := newPublisher(ctx, nil)
	return scheduler.New(db, cfg.Scheduler, logger.WithField("component", "scheduler"), nil, pub), closePub
}
