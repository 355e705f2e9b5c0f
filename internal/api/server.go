// Package api serves events, target selections, campaign drafts and stats
// over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nextgenfi/targeting-cli/internal/campaign"
	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/internal/model"
	"github.com/nextgenfi/targeting-cli/internal/targeting"
)

// Store is the persistence subset the API reads.
type Store interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
	ListCampaigns(ctx context.Context, eventID string) ([]model.Campaign, error)
	Stats(ctx context.Context) (*model.Stats, error)
	Ping(ctx context.Context) error
}

// Selector runs target selections.
type Selector interface {
	Select(ctx context.Context, eventID string, c targeting.Criteria) (*targeting.Result, error)
}

// Drafter writes campaign drafts.
type Drafter interface {
	Draft(ctx context.Context, res *targeting.Result, req campaign.Request) (*model.Campaign, error)
}

// Option configures a Server.
type Option func(*Server)

// WithDrafter enables POST /v1/events/{id}/campaigns.
func WithDrafter(d Drafter) Option {
	return func(s *Server) { s.drafter = d }
}

// WithDefaults sets the criteria used for omitted query parameters.
func WithDefaults(c targeting.Criteria) Option {
	return func(s *Server) { s.defaults = c }
}

// WithMetrics records request counts and latency and serves /metrics.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = rec }
}

// WithCORS sets the allowed origins.
func WithCORS(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithTimeout bounds each request. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Server holds the HTTP handlers.
type Server struct {
	store    Store
	selector Selector
	drafter  Drafter
	defaults targeting.Criteria
	metrics  *metrics.Recorder
	origins  []string
	timeout  time.Duration
}

// NewServer creates a Server.
func NewServer(store Store, selector Selector, opts ...Option) *Server {
	s := &Server{
		store:    store,
		selector: selector,
		defaults: targeting.DefaultCriteria(),
		origins:  []string{"*"},
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Get("/events", s.listEvents)
		r.Route("/events/{id}", func(r chi.Router) {
			r.Get("/", s.getEvent)
			r.Get("/targets", s.selectTargets)
			r.Get("/campaigns", s.listCampaigns)
			r.Post("/campaigns", s.draftCampaign)
		})
		r.Get("/stats", s.stats)
	})
	return r
}

const requestIDHeader = "X-Request-ID"

// requestID propagates or assigns a request ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument logs each request and records it under its route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(route, r.Method, status, elapsed)

		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
