package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// Server represents the metrics HTTP server
type Server struct {
	port          int
	path          string
	server        *http.Server
	listener      net.Listener
	registry      *MetricsRegistry
	healthHandler http.Handler
	logger        *slog.Logger
	mu            sync.Mutex // protects server, listener and serveErr
	serveErr      chan error
}

// NewServer creates a new metrics server. healthHandler serves /health; when nil
// /health answers a plain 200 OK.
func NewServer(port int, path string, registry *MetricsRegistry, healthHandler http.Handler, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		port:          port,
		path:          path,
		registry:      registry,
		healthHandler: healthHandler,
		logger:        logger.With("component", "metrics"),
	}
}

// Start binds the listening socket and serves in the background. Bind errors are
// returned; a later serve failure is reported by Wait.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}

	if s.registry == nil {
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))

	if s.healthHandler != nil {
		mux.Handle("/health", s.healthHandler)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("failed to listen on port %d", s.port))
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	server := s.server
	serveErr := make(chan error, 1)
	s.serveErr = serveErr
	go func() {
		err := server.Serve(listener)
		if stderrors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("Metrics server failed", "error", err)
		}
		serveErr <- err
	}()

	s.logger.Info("Metrics server started", "address", listener.Addr().String(), "path", s.path)
	return nil
}

// Wait blocks until ctx is done or the server stops serving. A serve failure is
// returned as a fatal error; a server that was never started returns at once.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	serveErr := s.serveErr
	s.mu.Unlock()

	if serveErr == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		if err != nil {
			return errors.WrapFatal(err, "Server", "Wait", "serve metrics")
		}
		return nil
	}
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	s.serveErr = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "failed to stop HTTP server")
	}
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf(":%d", s.port)
}

// Address returns the metrics URL
func (s *Server) Address() string {
	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		port = fmt.Sprint(s.port)
	}
	return fmt.Sprintf("http://localhost:%s%s", port, s.path)
}
