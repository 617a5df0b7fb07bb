// Package api provides the HTTP boundary of RelayPipe.
//
// It receives WhatsApp Cloud API and Twilio webhooks, hands each inbound
// message to the relay router, and exposes the admin, inspection, health
// and metrics endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/RelayPipe/internal/flow"
	"github.com/BTreeMap/RelayPipe/internal/messaging"
	"github.com/BTreeMap/RelayPipe/internal/metrics"
	"github.com/BTreeMap/RelayPipe/internal/relay"
	"github.com/BTreeMap/RelayPipe/internal/util"
)

// Default server settings.
const (
	DefaultAddr            = ":3000"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultReadTimeout     = 15 * time.Second
	// DefaultWriteTimeout outlasts a responder call with retries plus the outbound sends.
	DefaultWriteTimeout = 3 * time.Minute
	// DefaultMaxBodyBytes bounds webhook and admin request bodies.
	DefaultMaxBodyBytes = 1 << 20
	// RequestIDHeader carries the correlation id of a request.
	RequestIDHeader = "X-Request-ID"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	VerifyToken     string
	PublicDir       string
	MenuTrigger     string
	Metrics         *metrics.Collector
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the secret expected by the webhook verification challenge.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithPublicDir serves static files from dir under /public/.
func WithPublicDir(dir string) Option {
	return func(o *Opts) { o.PublicDir = dir }
}

// WithMenuTrigger sets the token a Twilio "menu" message is translated to.
func WithMenuTrigger(trigger string) Option {
	return func(o *Opts) { o.MenuTrigger = trigger }
}

// WithMetrics instruments requests and serves /metrics from c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Opts) { o.Metrics = c }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// Server serves the relay's HTTP endpoints.
type Server struct {
	router  *relay.Router
	channel messaging.Channel
	opts    Opts
}

// NewServer creates a Server that routes inbound messages through router.
// channel canonicalizes phone numbers given to the admin endpoints.
func NewServer(router *relay.Router, channel messaging.Channel, opts ...Option) *Server {
	cfg := Opts{
		Addr:            DefaultAddr,
		MenuTrigger:     flow.DefaultTrigger,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.VerifyToken == "" {
		slog.Warn("NewServer: no verify token configured, webhook verification will always fail")
	}
	return &Server{router: router, channel: channel, opts: cfg}
}

// Handler returns the server's routes wrapped in request instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", s.verifyWebhookHandler)
	mux.HandleFunc("POST /webhook", s.receiveWebhookHandler)
	mux.HandleFunc("POST /webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("POST /toggle-auto-respond", s.toggleAutoRespondHandler)
	mux.HandleFunc("GET /conversations/{phone}", s.getConversationHandler)
	mux.HandleFunc("POST /conversations/{phone}", s.appendConversationHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	if s.opts.PublicDir != "" {
		mux.Handle("GET /public/", http.StripPrefix("/public/", http.FileServer(http.Dir(s.opts.PublicDir))))
	}
	return s.instrument(mux)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down", "timeout", s.opts.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	slog.Info("Server.Run: stopped")
	return nil
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = util.GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.opts.Metrics.RecordHTTPRequest(r.Method, route, rec.status, elapsed)
		slog.Debug("Server.instrument: request served", "requestID", requestID, "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed)
	})
}
