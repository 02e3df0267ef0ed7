// Package server accepts pipeline documents over HTTP and runs them one at
// a time.
package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"depotci/internal/core"
	"depotci/internal/errs"
	"depotci/internal/ledger"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// DefaultQueueSize bounds the number of pipelines waiting to run.
const DefaultQueueSize = 32

const maxDocumentSize = 1 << 20

// Engine builds and runs pipelines. *core.Dispatcher implements it.
type Engine interface {
	Build(ctx context.Context, def *core.Definition) (*core.Pipeline, error)
	Run(ctx context.Context, p *core.Pipeline) error
}

// Run is the externally visible state of a submitted pipeline.
type Run struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Actions   int        `json:"actions"`
	Error     string     `json:"error,omitempty"`
	Submitted time.Time  `json:"submitted"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
}

// Server is the submission service.
type Server struct {
	engine   Engine
	ledger   *ledger.Ledger
	gatherer prometheus.Gatherer
	log      *logrus.Entry

	mu    sync.Mutex
	runs  map[string]*Run
	queue chan *core.Pipeline
}

// New returns a server. ledger and gatherer may be nil, which disables
// the matching endpoints.
func New(engine Engine, l *ledger.Ledger, gatherer prometheus.Gatherer, log *logrus.Entry, queueSize int) *Server {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Server{
		engine:   engine,
		ledger:   l,
		gatherer: gatherer,
		log:      log,
		runs:     make(map[string]*Run),
		queue:    make(chan *core.Pipeline, queueSize),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/pipelines", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleStatus)
	})
	r.Get("/ledger/verify", s.handleVerifyLedger)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Work runs queued pipelines until ctx is done. Exactly one pipeline runs
// at a time.
func (s *Server) Work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.queue:
			s.execute(ctx, p)
		}
	}
}

func (s *Server) execute(ctx context.Context, p *core.Pipeline) {
	s.update(p.ID, func(r *Run) {
		now := time.Now()
		r.Status, r.Started = StatusRunning, &now
	})

	err := s.engine.Run(ctx, p)

	s.update(p.ID, func(r *Run) {
		now := time.Now()
		r.Finished = &now
		r.Status = StatusSucceeded
		if err != nil {
			r.Status, r.Error = StatusFailed, err.Error()
		}
	})
	if err != nil {
		s.log.WithError(err).WithField("run", p.ID).Error("Pipeline failed")
	}
}

func (s *Server) update(id string, fn func(r *Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		fn(r)
	}
}

// POST /pipelines
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	def, err := core.ParsePipeline(data, formatOf(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.engine.Build(r.Context(), def)
	if err != nil {
		status := http.StatusBadRequest
		if errs.CodeOf(err) == errs.CodeResolution {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	run := &Run{ID: p.ID, Status: StatusPending, Actions: len(p.Actions), Submitted: time.Now()}
	s.mu.Lock()
	s.runs[p.ID] = run
	s.mu.Unlock()

	select {
	case s.queue <- p:
	default:
		s.mu.Lock()
		delete(s.runs, p.ID)
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "pipeline queue is full")
		return
	}

	s.log.WithFields(logrus.Fields{"run": p.ID, "actions": len(p.Actions)}).Info("Pipeline queued")
	writeJSON(w, http.StatusAccepted, s.snapshot(p.ID))
}

// GET /pipelines/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run := s.snapshot(chi.URLParam(r, "id"))
	if run == nil {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GET /pipelines
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	runs := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, *r)
	}
	s.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].Submitted.Before(runs[j].Submitted) })
	writeJSON(w, http.StatusOK, runs)
}

// GET /ledger/verify
func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "ledger is disabled")
		return
	}
	if err := s.ledger.VerifyChain(); err != nil {
		writeError(w, http.StatusConflict, "ledger verification failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"blocks": len(s.ledger.Blocks()),
		"head":   s.ledger.LastHash(),
	})
}

func (s *Server) snapshot(id string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// formatOf reads the document format from Content-Type. YAML is the
// default.
func formatOf(r *http.Request) core.Format {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && (mediaType == "application/toml" || mediaType == "text/toml") {
		return core.FormatTOML
	}
	return core.FormatYAML
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
