// Package server exposes an executor over HTTP.
//
// One listener serves three bindings: the plain HTTP routes (POST a command
// envelope, GET a result), the Connect ExecutorService, and gRPC clients of
// the same service over cleartext HTTP/2.
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/astaric/orangeremote/executor"
	"github.com/astaric/orangeremote/metrics"
	"github.com/astaric/orangeremote/rpc"
)

var log = commonlog.GetLogger("orange.server")

// SessionHeader names the client session. Requests without it are keyed by
// remote address.
const SessionHeader = "X-Orange-Session"

// Server is the HTTP front end of an executor.
type Server struct {
	exec     *executor.Executor
	router   *mux.Router
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	maxBody  int64

	mu         sync.Mutex
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics into m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithMaxBody limits request bodies to n bytes.
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// New creates a Server for exec.
func New(exec *executor.Executor, opts ...Option) *Server {
	s := &Server{
		exec:    exec,
		router:  mux.NewRouter(),
		maxBody: 64 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}

	rpcPath, rpcHandler := rpc.NewExecutorServiceHandler(&executorService{exec: exec, metrics: s.metrics})
	s.router.PathPrefix(rpcPath).Handler(rpcHandler)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/sessions/{session}", s.handleReleaseSession).Methods(http.MethodDelete)
	s.router.HandleFunc("/", s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc("/{command}", s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc("/{id}", s.handleFetch).Methods(http.MethodGet)
	s.router.HandleFunc("/{id}", s.handleRelease).Methods(http.MethodDelete)

	return s
}

// Handler returns the root handler, accepting HTTP/1.1 and cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.router, &http2.Server{})
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	log.Infof("orange server listening on %s", l.Addr())
	log.Infof("  HTTP:    http://%s/{id}", l.Addr())
	log.Infof("  Connect: http://%s%s", l.Addr(), rpc.ExecutorServiceSubmitProcedure)
	err := srv.Serve(l)
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	log.Info("orange server shutting down")
	return srv.Shutdown(ctx)
}
