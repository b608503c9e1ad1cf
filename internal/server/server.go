// Package server exposes the ledger over HTTP for the GUI and CLI
// collaborators and receives gateway webhooks.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/ledger"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/metrics"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/syncer"
)

// Syncer is the part of the sync engine the API drives.
type Syncer interface {
	Trigger(ctx context.Context, conn syncer.Connectivity) (syncer.Report, error)
	HandleNotification(ctx context.Context, n models.Notification) (syncer.NotificationResult, error)
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	router  *mux.Router
	server  *http.Server
	ledger  *ledger.Ledger
	sync    Syncer
	metrics *metrics.Metrics
	signals chan<- syncer.Connectivity
	log     zerolog.Logger
}

type ctxKey struct{}

type Option func(*Server)

// WithConnectivity enables POST /connectivity, through which the host
// reports network changes to the sync loop.
func WithConnectivity(signals chan<- syncer.Connectivity) Option {
	return func(s *Server) { s.signals = signals }
}

func New(cfg Config, l *ledger.Ledger, s Syncer, m *metrics.Metrics, log zerolog.Logger, opts ...Option) *Server {
	srv := &Server{
		router:  mux.NewRouter(),
		ledger:  l,
		sync:    s,
		metrics: m,
		log:     log.With().Str("component", "http").Logger(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.setupRoutes()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return srv
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.health).Methods("GET")

	api.HandleFunc("/members", s.registerMember).Methods("POST")
	api.HandleFunc("/members/{id}", s.getMember).Methods("GET")
	api.HandleFunc("/members/{id}/deactivate", s.deactivateMember).Methods("POST")

	api.HandleFunc("/groups", s.createGroup).Methods("POST")
	api.HandleFunc("/groups/{id}/close", s.closeGroup).Methods("POST")
	api.HandleFunc("/groups/{id}/members", s.addGroupMember).Methods("POST")
	api.HandleFunc("/groups/{id}/members", s.listGroupMembers).Methods("GET")
	api.HandleFunc("/groups/{id}/summary", s.savingsSummary).Methods("GET")

	api.HandleFunc("/contributions", s.recordEntry(models.KindContribution)).Methods("POST")
	api.HandleFunc("/payouts", s.recordEntry(models.KindPayout)).Methods("POST")
	api.HandleFunc("/entries", s.listEntries).Methods("GET")
	api.HandleFunc("/entries/{id}", s.getEntry).Methods("GET")
	api.HandleFunc("/entries/{id}/transition", s.transitionEntry).Methods("POST")
	api.HandleFunc("/entries/{id}/reverse", s.reverseEntry).Methods("POST")
	api.HandleFunc("/entries/{id}/retry", s.retryEntry).Methods("POST")
	api.HandleFunc("/entries/{id}/cancel", s.cancelEntry).Methods("POST")

	api.HandleFunc("/sync", s.triggerSync).Methods("POST")
	if s.signals != nil {
		api.HandleFunc("/connectivity", s.reportConnectivity).Methods("POST")
	}
	api.HandleFunc("/commission", s.commissionSummary).Methods("GET")
	api.HandleFunc("/commission/transfer", s.transferCommission).Methods("POST")
	api.HandleFunc("/review", s.reviewItems).Methods("GET")
	api.HandleFunc("/dead-letters", s.deadLetters).Methods("GET")

	api.HandleFunc("/webhooks/gateway", s.gatewayWebhook).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no route for " + r.Method + " " + r.URL.Path})
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(ctxKey{}).(string)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
