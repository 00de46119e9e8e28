// Package server exposes the enrichment pipeline, product decomposition and
// the completion proxy over HTTP.
package server

import (
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teranos/carbonfill/am"
	"github.com/teranos/carbonfill/decompose"
	"github.com/teranos/carbonfill/enrich"
	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/logger"
)

const (
	// RequestIDHeader carries the request id in both directions
	RequestIDHeader = "X-Request-ID"
	// OutcomeHeader reports whether a completion came from a real backend
	OutcomeHeader = "X-Carbonfill-Outcome"
	// BackendHeader names the backend that produced a completion
	BackendHeader = "X-Carbonfill-Backend"
)

// Server is the carbonfill HTTP API
type Server struct {
	cfg        am.ServerConfig
	pipeline   *enrich.Pipeline
	invoker    enrich.Invoker
	decomposer *decompose.Decomposer
	registry   *prometheus.Registry
	tp         trace.TracerProvider
	logger     *zap.SugaredLogger
	router     *gin.Engine
	requests   *prometheus.CounterVec
	state      atomic.Int32
}

// Option configures a Server
type Option func(*Server)

// WithRegistry serves the given registry on /metrics and registers the
// request counter in it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithDecomposer replaces the decomposer built on the server's invoker
func WithDecomposer(d *decompose.Decomposer) Option {
	return func(s *Server) { s.decomposer = d }
}

// WithLogger sets the server logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTracerProvider sets the provider for request spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tp = tp }
}

// New builds the router. It fails only on an invalid CORS origin list.
func New(cfg am.ServerConfig, p *enrich.Pipeline, inv enrich.Invoker, opts ...Option) (*Server, error) {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = am.DefaultMaxBatchSize
	}
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		invoker:  inv,
		logger:   logger.ComponentLogger("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.decomposer == nil {
		var dopts []decompose.Option
		if s.tp != nil {
			dopts = append(dopts, decompose.WithTracerProvider(s.tp))
		}
		s.decomposer = decompose.New(inv, dopts...)
	}
	s.requests = promauto.With(s.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbonfill",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})

	router, err := s.buildRouter()
	if err != nil {
		return nil, err
	}
	s.router = router
	s.setState(ServerStateStarting)
	return s, nil
}

// Handler returns the router for use with net/http or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())

	var otelOpts []otelgin.Option
	if s.tp != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(s.tp))
	}
	router.Use(otelgin.Middleware("carbonfill", otelOpts...))
	router.Use(s.requestContext())

	if len(s.cfg.AllowedOrigins) > 0 {
		mw, err := corsMiddleware(s.cfg.AllowedOrigins)
		if err != nil {
			return nil, err
		}
		router.Use(mw)
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	ai := router.Group("/api/v1/ai")
	{
		ai.POST("/match-carbon-factors", s.handleMatchCarbonFactors)
		ai.POST("/optimize/:stage", s.handleOptimize)
		ai.POST("/decompose-product", s.handleDecomposeProduct)
		ai.POST("/completions", s.handleCompletions)
	}
	return router, nil
}

func corsMiddleware(origins []string) (gin.HandlerFunc, error) {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader, OutcomeHeader, BackendHeader},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "server.allowed_origins"),
			"origins need an http:// or https:// scheme, or use \"*\"")
	}
	return cors.New(cfg), nil
}

// requestContext assigns a request id, threads it into the request context
// for logging, and records one access log line and counter per request.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		s.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		logger.FromContext(c.Request.Context(), s.logger).Infow("Request",
			"method", c.Request.Method,
			"route", route,
			logger.FieldStatusCode, code,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}
}
