package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
	"github.com/TobiSchelling/interviewstats/internal/config"
	"github.com/TobiSchelling/interviewstats/internal/database"
	"github.com/TobiSchelling/interviewstats/internal/logging"
	"github.com/TobiSchelling/interviewstats/internal/metrics"
	"github.com/TobiSchelling/interviewstats/internal/report"
	"github.com/TobiSchelling/interviewstats/internal/scheduler"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Server is the HTTP server for the analytics API and dashboard.
type Server struct {
	db      *database.DB
	sched   *scheduler.Scheduler
	log     *logging.Logger
	metrics *metrics.Metrics
	hub     http.Handler
	cfg     config.Config
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// Options carries the optional collaborators. Nil values disable the
// matching route.
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Hub     http.Handler
}

// New creates a new Server.
func New(db *database.DB, sched *scheduler.Scheduler, cfg config.Config, opts Options) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":     renderMarkdown,
		"formatPeriod": database.FormatPeriodDisplay,
		"pct":          func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "%" },
		"num":          func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone so {{define "content"}} does not collide.
	pageNames := []string{"index.html", "interview.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		db:      db,
		sched:   sched,
		log:     log,
		metrics: opts.Metrics,
		hub:     opts.Hub,
		cfg:     cfg,
		pages:   pages,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.requestLogger(s.mux)
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /interviews/{id}", s.handleInterviewPage)

	// API
	s.mux.HandleFunc("GET /api/analytics/global", s.handleGlobal)
	s.mux.HandleFunc("GET /api/interviews", s.handleListInterviews)
	s.mux.HandleFunc("POST /api/interviews", s.handleIngest)
	s.mux.HandleFunc("GET /api/interviews/{id}/analytics", s.handleInterviewAnalytics)
	s.mux.HandleFunc("PUT /api/interviews/{id}/answers", s.handleReplaceAnswers)
	s.mux.HandleFunc("POST /api/interviews/{id}/answers", s.handleAddAnswer)
	s.mux.HandleFunc("DELETE /api/interviews/{id}", s.handleDeleteInterview)
	s.mux.HandleFunc("PUT /api/answers/{id}", s.handleEditAnswer)
	s.mux.HandleFunc("POST /api/recompute", s.handleRecompute)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, s.metrics.Handler())
	}
	if s.hub != nil {
		s.mux.Handle("GET /ws", s.hub)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	f, err := database.PeriodFilter(period, nil, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := s.reportData(r.Context(), period, f)
	if err != nil {
		s.log.WithError(err).Error("Loading dashboard")
		http.Error(w, "Analytics unavailable", statusFor(err))
		return
	}
	body, err := report.HTML(data)
	if err != nil {
		s.log.WithError(err).Error("Rendering report")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Period":     period,
		"Report":     template.HTML(body), //nolint: gosec
		"Interviews": data.Interviews,
		"Stale":      data.Stale,
	})
}

func (s *Server) handleInterviewPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	a, err := s.sched.Interview(r.Context(), id)
	if err != nil && !errors.Is(err, analytics.ErrNotFound) {
		http.Error(w, "Analytics unavailable", statusFor(err))
		return
	}
	qas, _, err := s.db.QuestionAnswers(r.Context(), id)
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Analytics unavailable", statusFor(err))
		return
	}
	call, _ := s.db.GetCall(r.Context(), id)

	s.render(w, "interview.html", map[string]any{
		"ID":        id,
		"Analytics": a,
		"Answers":   qas,
		"Call":      call,
	})
}

// reportData loads the global rollup for f. The stored snapshot is used when
// f is empty; otherwise the rollup is folded on the fly.
func (s *Server) reportData(ctx context.Context, period string, f analytics.Filter) (report.Data, error) {
	st, err := s.sched.Status(ctx)
	if err != nil {
		return report.Data{}, err
	}
	items, err := s.sched.Interviews(ctx, f)
	if err != nil {
		return report.Data{}, err
	}
	d := report.Data{
		Period:      period,
		Interviews:  items,
		Stale:       st.Stale,
		AgeSeconds:  st.AgeSeconds,
		GeneratedAt: time.Now().UTC(),
	}
	if f.IsZero() {
		g, err := s.sched.Global(ctx)
		switch {
		case err == nil:
			d.Global = g
		case !errors.Is(err, analytics.ErrNotFound):
			return report.Data{}, err
		}
		return d, nil
	}
	g, err := s.sched.FilteredGlobal(ctx, f)
	if err != nil {
		return report.Data{}, err
	}
	d.Global = &g
	return d, nil
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.WithField("template", name).Error("Template not found")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.WithError(err).WithField("template", name).Error("Rendering template")
	}
}

func renderMarkdown(text string) template.HTML {
	out, err := report.RenderMarkdown(text)
	if err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(out) //nolint: gosec
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, srv *Server, cfg config.Server) error {
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	hs := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.log.WithField("addr", "http://"+addr).Info("Server listening")
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.log.Info("Shutting down server")
	return hs.Shutdown(shutdownCtx)
}
