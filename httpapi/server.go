package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	glog "github.com/goliatone/go-logger/glog"

	meliconnect "github.com/goliatone/go-meli-connect"
	"github.com/goliatone/go-meli-connect/webhooks"
)

const RoutePrefix = "/api/ml"

type HealthCheck func(ctx context.Context) error

// NotificationProcessor handles marketplace notification bodies.
type NotificationProcessor interface {
	ProcessBody(ctx context.Context, body []byte) (webhooks.Result, error)
}

// Server exposes the connection facade over HTTP.
type Server struct {
	facade        *meliconnect.Facade
	authenticator *Authenticator
	validate      *validator.Validate
	logger        glog.Logger
	frontendURL   string
	metrics       http.Handler
	health        HealthCheck
	notifications NotificationProcessor
}

type Option func(*Server)

func WithLogger(logger glog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFrontendURL makes the OAuth callback redirect the browser back to the
// dashboard instead of answering with JSON.
func WithFrontendURL(frontendURL string) Option {
	return func(s *Server) {
		s.frontendURL = strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	}
}

func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

func WithHealthCheck(check HealthCheck) Option {
	return func(s *Server) {
		s.health = check
	}
}

func WithNotificationProcessor(processor NotificationProcessor) Option {
	return func(s *Server) {
		s.notifications = processor
	}
}

func NewServer(facade *meliconnect.Facade, authenticator *Authenticator, opts ...Option) (*Server, error) {
	if facade == nil {
		return nil, fmt.Errorf("httpapi: facade is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("httpapi: authenticator is required")
	}
	server := &Server{
		facade:        facade,
		authenticator: authenticator,
		validate:      newRequestValidator(),
		logger:        glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route(RoutePrefix, func(r chi.Router) {
		r.Get("/sites", s.handleSites)
		r.Get("/callback/{callbackID}", s.handleCallback)
		r.Post("/webhooks", s.handleNotification)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticator.Middleware)
			r.Post("/connect-store", s.handleConnectStore)
			r.Get("/my-stores", s.handleMyStores)
			r.Get("/stores/{connectionID}", s.handleGetStore)
			r.Delete("/stores/{connectionID}", s.handleDeleteStore)
			r.Get("/stores/{connectionID}/orders", s.handleStoreOrders)
			r.Post("/refresh-token/{connectionID}", s.handleRefreshToken)
			r.Delete("/disconnect/{connectionID}", s.handleDisconnect)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs method, route and status only; query strings carry
// OAuth codes and state on the callback route.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		args := []any{
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Error("http request failed", args...)
			return
		}
		s.logger.Debug("http request", args...)
	})
}

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
