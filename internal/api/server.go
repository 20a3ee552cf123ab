// Package api serves the operator HTTP API: job control, prospect
// browsing and manual entry, scheduler settings, health and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scheduler"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Jobs is the orchestrator surface the API drives.
type Jobs interface {
	Trigger(ctx context.Context, t model.JobType, params any, source model.TriggerSource) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// Options wires the API to the rest of the process.
type Options struct {
	Jobs     Jobs
	Store    store.Store
	Intake   *discovery.Intake
	Settings scheduler.SettingsSource
	Breakers *resilience.Breakers
	// CORSOrigins defaults to allowing any origin.
	CORSOrigins []string
}

// Server holds the handlers.
type Server struct {
	opts     Options
	validate *validator.Validate
}

// New creates an API server.
func New(opts Options) *Server {
	if opts.Settings == nil {
		opts.Settings = scheduler.StoreSettings{Store: opts.Store}
	}
	return &Server{opts: opts, validate: validator.New()}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Post("/", s.triggerJob)
		r.Get("/{id}", s.getJob)
		r.Post("/{id}/cancel", s.cancelJob)
	})

	r.Route("/prospects", func(r chi.Router) {
		r.Get("/", s.listProspects)
		r.Post("/", s.addProspect)
		r.Get("/{id}", s.getProspect)
	})

	r.Get("/settings", s.getSettings)
	r.Put("/settings", s.putSettings)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	storeStatus := "ok"
	if err := s.opts.Store.Ping(ctx); err != nil {
		status, code = "unavailable", http.StatusServiceUnavailable
		storeStatus = err.Error()
	}

	breakers := map[string]string{}
	if s.opts.Breakers != nil {
		for name, st := range s.opts.Breakers.States() {
			breakers[name] = st.String()
			if st != resilience.Closed && code == http.StatusOK {
				status = "degraded"
			}
		}
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"store":    storeStatus,
		"breakers": breakers,
	})
}
