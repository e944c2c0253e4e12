// Package server exposes the metering service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/config"
	"github.com/pario-ai/tollgate/pkg/metering"
)

// Server is the tollgate HTTP API.
type Server struct {
	listen  string
	svc     *metering.Service
	auth    *Authenticator
	metrics *Metrics
	logger  *zap.Logger
	router  *mux.Router
	handler http.Handler
}

// New creates a Server wired to svc. A nil metrics gets a fresh registry.
func New(cfg *config.Config, svc *metering.Service, metrics *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		listen:  cfg.Listen,
		svc:     svc,
		auth:    NewAuthenticator(cfg.Auth.JWTSecret),
		metrics: metrics,
		logger:  logger.With(zap.String("component", "server")),
		router:  mux.NewRouter(),
	}
	s.routes()

	s.handler = s.router
	if len(cfg.CORS.AllowedOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "If-Match", "X-Actor-ID", "X-Request-ID"},
			ExposedHeaders:   []string{"ETag", "Retry-After", "X-Request-ID"},
			AllowCredentials: true,
		}).Handler(s.router)
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.observe)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/models", s.handleModels).Methods("GET")
	api.HandleFunc("/usage", s.handleUsage).Methods("GET")
	api.HandleFunc("/admin/usage", s.handleAdminUsage).Methods("GET")
	api.HandleFunc("/budget", s.handleBudget).Methods("PATCH", "PUT")
	api.HandleFunc("/chat/events", s.handleChatEvent).Methods("POST")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("tollgate listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// observe tags the request with an id, then records the access log line and metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.metrics.observeRequest(route, r.Method, rec.code, elapsed)
		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.code),
			zap.Duration("duration", elapsed),
		)
	})
}
