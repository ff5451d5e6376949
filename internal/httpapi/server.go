// Package httpapi is the HTTP surface of the mock registry: the registry
// routes, the admin control plane, the recording stream and /metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/propagation"

	"github.com/spdci/registry-mock/internal/callback"
	"github.com/spdci/registry-mock/internal/config"
	"github.com/spdci/registry-mock/internal/contract"
	"github.com/spdci/registry-mock/internal/envelope"
	"github.com/spdci/registry-mock/internal/metrics"
	"github.com/spdci/registry-mock/internal/recorder"
	"github.com/spdci/registry-mock/internal/registry"
)

const DefaultMaxBodyBytes = 1 << 20

type Registry interface {
	Handle(ctx context.Context, req registry.Request) (registry.Response, error)
}

type Recordings interface {
	List(endpoint string) []recorder.RecordedRequest
	Count() int
	Clear() int
	Subscribe(buffer int) (<-chan recorder.Event, func())
}

type ConfigStore interface {
	Snapshot() config.ResponseConfig
	Merge(raw []byte) (config.ResponseConfig, error)
	Reset() config.ResponseConfig
}

type Callbacks interface {
	Trigger(ctx context.Context, url string, payload any) callback.Delivery
	Pending() int
	QueueStats() callback.QueueStats
}

type Options struct {
	Registry   Registry
	Recordings Recordings
	Config     ConfigStore
	// Callbacks may be nil; trigger-callback then answers 503.
	Callbacks Callbacks
	// Validator is nil when no contract is loaded.
	Validator *contract.Validator
	Domain    envelope.Domain
	Gatherer  prometheus.Gatherer
	// Propagator extracts inbound trace context. Nil ignores it.
	Propagator   propagation.TextMapPropagator
	MaxBodyBytes int64
	// StreamOrigins are the origin patterns accepted on the recording
	// stream besides same-host.
	StreamOrigins []string
	Logger        zerolog.Logger
}

type Server struct {
	router     chi.Router
	registry   Registry
	recordings Recordings
	config     ConfigStore
	callbacks  Callbacks
	validator  *contract.Validator
	domain     envelope.Domain
	propagator propagation.TextMapPropagator
	maxBody    int64
	origins    []string
	logger     zerolog.Logger
}

func NewServer(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Domain.Name == "" {
		opts.Domain, _ = envelope.LookupDomain(envelope.DefaultDomain)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		registry:   opts.Registry,
		recordings: opts.Recordings,
		config:     opts.Config,
		callbacks:  opts.Callbacks,
		validator:  opts.Validator,
		domain:     opts.Domain,
		propagator: opts.Propagator,
		maxBody:    opts.MaxBodyBytes,
		origins:    opts.StreamOrigins,
		logger:     opts.Logger.With().Str("component", "httpapi").Logger(),
	}
	s.router = s.routes(opts.Gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.traceContext)
	r.Use(s.accessLog)
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	r.Get("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Route("/admin", func(admin chi.Router) {
		admin.Get("/healthcheck", s.handleAdminHealth)
		admin.Get("/requests", s.handleListRequests)
		admin.Delete("/requests", s.handleClearRequests)
		admin.Get("/requests/stream", s.handleRequestStream)
		admin.Get("/requests/*", s.handleListEndpointRequests)
		admin.Get("/config", s.handleGetConfig)
		admin.Post("/config", s.handleMergeConfig)
		admin.Post("/reset", s.handleReset)
		admin.Post("/trigger-callback", s.handleTriggerCallback)
		admin.Post("/validate", s.handleValidate)
		// Other admin POSTs reach the registry like any unknown path.
		admin.Post("/*", s.handleRegistry)
	})

	r.Post("/*", s.handleRegistry)
	return r
}

// ServeHTTP trims trailing slashes before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if trimmed := registry.TrimPath(r.URL.Path); trimmed != r.URL.Path {
		r.URL.Path = trimmed
		r.URL.RawPath = ""
	}
	s.router.ServeHTTP(w, r)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
