package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkrause/leitung/pkg/observability"
	"github.com/tkrause/leitung/pkg/transport"
)

// Server wraps an http.Server around the transport adapter and manages
// the full lifecycle: startup, per-request task tracking, and a graceful
// shutdown that stops accepting, drains in-flight request tasks, and
// releases the transport core last.
type Server struct {
	config ServerConfig
	logger *slog.Logger

	transport  *transport.Transport
	tasks      *transport.TaskSet
	adapter    *Adapter
	httpServer *http.Server

	// serveCtx is the base context of every accepted connection; Stop
	// cancels it so open SSE streams and pending submissions unblock.
	serveCtx    context.Context
	serveCancel context.CancelFunc

	errCh chan error

	mu       sync.Mutex
	ln       net.Listener
	started  bool
	stopping bool

	stopOnce sync.Once
	stopErr  error
	stopped  atomic.Bool
}

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr              string
	EndpointPath      string
	MaxBodySize       int64
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
	Logger      *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// WriteTimeout is deliberately absent: SSE streams live as long as the
// peer keeps the connection open.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              ":8080",
		EndpointPath:      "/mcp",
		MaxBodySize:       4 << 20, // 4 MB
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		Logger:            slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithEndpointPath sets the single recognized endpoint path.
func WithEndpointPath(path string) ServerOption {
	return func(s *Server) { s.config.EndpointPath = path }
}

// WithMaxBodySize sets the maximum POST body size.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) { s.config.MaxBodySize = n }
}

// WithShutdownTimeout sets the graceful shutdown deadline used by Run.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithReadHeaderTimeout sets the request header read deadline.
func WithReadHeaderTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ReadHeaderTimeout = d }
}

// WithMetricsPath mounts the Prometheus metrics handler at the given path.
func WithMetricsPath(path string) ServerOption {
	return func(s *Server) { s.config.MetricsPath = path }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// NewServer creates a transport server over t with the given options.
// Default middleware (recovery, request ID, logging, metrics) is applied
// automatically.
func NewServer(t *transport.Transport, opts ...ServerOption) *Server {
	s := &Server{
		config:    DefaultServerConfig(),
		logger:    slog.Default(),
		transport: t,
		tasks:     transport.NewTaskSet(),
		errCh:     make(chan error, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	defaultMW := []transport.Middleware{
		transport.Recovery(s.logger),
		transport.RequestID(),
		transport.Logging(s.logger),
		observability.MetricsMiddleware,
	}

	s.adapter = NewAdapter(t, s.tasks, Config{
		EndpointPath: s.config.EndpointPath,
		MaxBodySize:  s.config.MaxBodySize,
	}, s.logger, defaultMW...)

	handler := s.adapter.Handler()
	if s.config.MetricsPath != "" {
		mux := http.NewServeMux()
		mux.Handle("GET "+s.config.MetricsPath, promhttp.Handler())
		mux.Handle("/", handler)
		handler = mux
	}

	s.serveCtx, s.serveCancel = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.serveCtx },
	}

	return s
}

// Start binds the listener and begins serving in the background, handing
// control back to the caller immediately. A listener failure after Start
// surfaces through Run.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return errors.New("server is stopped")
	}
	if s.started {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr, err)
	}
	s.ln = ln
	s.started = true

	go s.serve(ln)

	s.logger.Info("server started",
		slog.String("addr", ln.Addr().String()),
		slog.String("endpoint", s.config.EndpointPath))
	return nil
}

func (s *Server) serve(ln net.Listener) {
	err := s.httpServer.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		// Listener failures during an intentional stop are expected.
		s.logger.Debug("listener closed during shutdown", slog.String("error", err.Error()))
		return
	}

	select {
	case s.errCh <- err:
	default:
	}
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run starts the server and blocks until ctx is cancelled or the
// listener fails. On cancellation it stops gracefully within the
// configured shutdown timeout and returns the stop result; a listener
// failure outside an intentional stop is returned as-is after cleanup.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	select {
	case err := <-s.errCh:
		stopCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if stopErr := s.Stop(stopCtx); stopErr != nil {
			s.logger.Error("stop after listener failure", slog.String("error", stopErr.Error()))
		}
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(stopCtx)
	}
}

// Stop gracefully shuts the server down: it stops accepting new
// connections, signals open streams and pending submissions to finish,
// waits for in-flight request tasks within ctx's deadline (a timeout is
// logged, not escalated), and finally releases the transport core. Stop
// is idempotent and safe to call before or concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { s.stopErr = s.doStop(ctx) })
	return s.stopErr
}

func (s *Server) doStop(ctx context.Context) error {
	s.stopped.Store(true)
	s.mu.Lock()
	s.stopping = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.logger.Info("server stopping")
	}

	// Unblock open streams and pending submissions so their handlers can
	// finish, then stop accepting and wait for handlers to return.
	s.serveCancel()
	err := s.httpServer.Shutdown(ctx)

	if werr := s.tasks.Wait(ctx); werr != nil {
		s.logger.Warn("timed out draining request tasks",
			slog.Int("remaining", s.tasks.Len()),
			slog.String("error", werr.Error()))
	}

	s.transport.Shutdown()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("http shutdown", slog.String("error", err.Error()))
		return err
	}
	if started {
		s.logger.Info("server stopped")
	}
	return nil
}
