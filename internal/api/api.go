// Package api provides the HTTP surface of the sales agent.
//
// It exposes the webhook entry point for inbound leads, human takeover
// controls, customer lookups, and property catalog management.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/genai"
	"github.com/alberto591/ai-automation-agency-sub000/internal/messaging"
	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/store"
)

// Constants for server configuration.
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultRequestTimeout bounds one webhook-triggered pipeline run.
	DefaultRequestTimeout = 60 * time.Second
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

// Runner executes the conversation pipeline for one inbound message.
type Runner interface {
	Run(ctx context.Context, in models.InboundMessage) (string, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the pipeline engine, the store, and the messaging
// service behind the HTTP API.
type Server struct {
	engine     Runner
	store      store.Store
	ai         genai.ClientInterface
	msgService messaging.Service
	twilioSvc  *messaging.TwilioService // non-nil when Twilio webhooks are enabled
	httpServer *http.Server
}

// NewServer creates the API server. twilioSvc may be nil when the
// whatsmeow transport handles inbound traffic directly.
func NewServer(engine Runner, st store.Store, ai genai.ClientInterface, msgService messaging.Service, twilioSvc *messaging.TwilioService, opts ...Option) *Server {
	var options Opts
	for _, opt := range opts {
		opt(&options)
	}
	if options.Addr == "" {
		options.Addr = DefaultAddr
	}

	s := &Server{
		engine:     engine,
		store:      st,
		ai:         ai,
		msgService: msgService,
		twilioSvc:  twilioSvc,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/message", s.webhookMessageHandler)
	mux.HandleFunc("POST /webhook/twilio", s.webhookTwilioHandler)
	mux.HandleFunc("POST /customers/{phone}/pause", s.pauseHandler)
	mux.HandleFunc("POST /customers/{phone}/resume", s.resumeHandler)
	mux.HandleFunc("GET /customers/{phone}", s.getCustomerHandler)
	mux.HandleFunc("POST /properties", s.addPropertyHandler)
	mux.HandleFunc("GET /health", s.healthHandler)

	s.httpServer = &http.Server{
		Addr:    options.Addr,
		Handler: mux,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Start: API listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Server.Start: shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
