package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/hiercluster/internal/cluster"
	"github.com/TobiSchelling/hiercluster/internal/database"
	"github.com/TobiSchelling/hiercluster/internal/metrics"
	"github.com/TobiSchelling/hiercluster/internal/pipeline"
	"github.com/TobiSchelling/hiercluster/internal/report"
	"github.com/TobiSchelling/hiercluster/internal/table"
)

// maxUploadBytes bounds the CSV body accepted by POST /api/runs.
const maxUploadBytes = 32 << 20

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Options configures a Server.
type Options struct {
	// Pipeline runs uploaded tables. Nil disables POST /api/runs.
	Pipeline *pipeline.Pipeline
	// Defaults are the clustering options used when a request leaves them out.
	Defaults cluster.Options
	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
}

// Server is the HTTP server for browsing and creating runs.
type Server struct {
	db       *database.DB
	pages    map[string]*template.Template
	mux      *http.ServeMux
	pipeline *pipeline.Pipeline
	defaults cluster.Options
	gatherer prometheus.Gatherer
	logger   logrus.FieldLogger
}

// New creates a new Server.
func New(db *database.DB, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"short": func(id string) string {
			if len(id) > 8 {
				return id[:8]
			}
			return id
		},
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "run.html"}
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

	s := &Server{
		db:       db,
		pages:    pages,
		mux:      http.NewServeMux(),
		pipeline: opts.Pipeline,
		defaults: opts.Defaults,
		gatherer: opts.Gatherer,
		logger:   logger,
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/runs/", s.handleRun)
	s.mux.HandleFunc("/api/runs", s.handleAPIRuns)
	s.mux.HandleFunc("/api/runs/", s.handleAPIRun)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	runs, err := s.db.ListRuns()
	if err != nil {
		s.logger.WithError(err).Error("listing runs")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.db.GetStats()
	if err != nil {
		s.logger.WithError(err).Error("reading stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Runs":  runs,
		"Stats": stats,
	})
}

// handleRun serves /runs/{id} and POST /runs/{id}/delete.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/runs/")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	runID, err := s.db.ResolveRunID(parts[0])
	if err != nil {
		s.notFoundOr500(w, r, err)
		return
	}

	if len(parts) == 2 {
		if parts[1] != "delete" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if _, err := s.db.DeleteRun(runID); err != nil {
			s.logger.WithError(err).WithField("run", runID).Error("deleting run")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		s.logger.WithField("run", runID).Info("run deleted")
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	stored, err := s.db.LoadRun(runID)
	if err != nil {
		s.notFoundOr500(w, r, err)
		return
	}

	s.render(w, "run.html", map[string]any{
		"Run":    stored,
		"Report": report.Compose(stored),
	})
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		s.handleCreateRun(w, r)
		return
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runs, err := s.db.ListRuns()
	if err != nil {
		s.logger.WithError(err).Error("listing runs")
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateRun clusters a CSV request body and stores the run. Query
// parameters k, linkage, distance, cache, columns and source override the
// server defaults.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeJSONError(w, http.StatusMethodNotAllowed, "clustering is disabled")
		return
	}

	opts, err := s.requestOptions(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	tbl, err := table.ReadCSV(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.pipeline.Run(r.Context(), pipeline.Request{
		Table:   tbl,
		Source:  r.URL.Query().Get("source"),
		Options: opts,
	})
	if err := res.Err(); err != nil {
		switch {
		case errors.Is(err, cluster.ErrInvalidOptions), errors.Is(err, cluster.ErrMissingValue),
			errors.Is(err, cluster.ErrNonFiniteValue):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, cluster.ErrCanceled):
			s.logger.WithError(err).Warn("clustering request canceled")
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.WithError(err).Error("clustering request failed")
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	s.logger.WithField("run", res.Run.RunID).Info("run created")
	writeJSON(w, http.StatusCreated, toRunJSON(*res.Run))
}

func (s *Server) requestOptions(r *http.Request) (cluster.Options, error) {
	opts := s.defaults
	opts.Progress = nil
	opts.Logger = s.logger
	q := r.URL.Query()

	if v := q.Get("k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("query parameter k must be an integer, got %q", v)
		}
		opts.NumClusters = k
	}
	if v := q.Get("linkage"); v != "" {
		opts.Linkage = v
	}
	if v := q.Get("distance"); v != "" {
		opts.Distance = v
	}
	if v := q.Get("cache"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("query parameter cache must be a boolean, got %q", v)
		}
		opts.CacheDistances = b
	}
	if v := q.Get("columns"); v != "" {
		opts.Columns = strings.Split(v, ",")
	}
	return opts, nil
}

// handleAPIRun serves /api/runs/{id}[/fusion|/dendrogram|/cut].
func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.SplitN(path, "/", 2)

	runID, err := s.db.ResolveRunID(parts[0])
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) || errors.Is(err, database.ErrAmbiguousRun) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	stored, err := s.db.LoadRun(runID)
	if err != nil {
		s.logger.WithError(err).WithField("run", runID).Error("loading run")
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		writeJSON(w, http.StatusOK, toRunJSON(stored.Run))
	case "fusion":
		writeJSON(w, http.StatusOK, stored.Fusion)
	case "dendrogram":
		if stored.Root == cluster.NoNode {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusOK, toNodeJSON(stored.Dendrogram, stored.Root))
	case "cut":
		k, err := strconv.Atoi(r.URL.Query().Get("k"))
		if err != nil || k <= 0 {
			writeJSONError(w, http.StatusBadRequest, "query parameter k must be a positive integer")
			return
		}
		writeJSON(w, http.StatusOK, cutJSON(stored, k))
	default:
		writeJSONError(w, http.StatusNotFound, "unknown resource "+action)
	}
}

func (s *Server) notFoundOr500(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, database.ErrRunNotFound) || errors.Is(err, database.ErrAmbiguousRun) {
		http.NotFound(w, r)
		return
	}
	s.logger.WithError(err).Error("resolving run")
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Errorf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port and shuts it down when
// ctx is done. Uploaded runs use defaults for any option the request omits.
func Serve(ctx context.Context, db *database.DB, port int, defaults cluster.Options, logger logrus.FieldLogger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := New(db, Options{
		Pipeline: pipeline.New(db, metrics.New(reg), logger),
		Defaults: defaults,
		Gatherer: reg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		srv.logger.Infof("Server listening on http://%s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		srv.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
