// Package api is the authenticated HTTP surface of the orchestrator.
//
// Every response is a JSON DockerInfo, except log and data streams which are
// written through unbuffered. A status outside the known valid set is
// answered with 404.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"recommerce"
	"recommerce/internal/metrics"
	"recommerce/internal/orchestrator"
)

const (
	maxConfigBytes  = 1 << 20
	shutdownTimeout = 30 * time.Second
)

// Orchestrator is the set of operations the surface dispatches to.
type Orchestrator interface {
	Start(ctx context.Context, config []byte, count int, role recommerce.Role) ([]recommerce.DockerInfo, error)
	Health(ctx context.Context, id string) recommerce.DockerInfo
	Pause(ctx context.Context, id string) recommerce.DockerInfo
	Unpause(ctx context.Context, id string) recommerce.DockerInfo
	Remove(ctx context.Context, id string) recommerce.DockerInfo
	TensorBoard(ctx context.Context, id string) recommerce.DockerInfo
	Logs(ctx context.Context, id string, req orchestrator.LogsRequest) recommerce.DockerInfo
	Data(ctx context.Context, id, path string) recommerce.DockerInfo
	Stats(ctx context.Context, system bool) recommerce.DockerInfo
	Ping(ctx context.Context) bool
}

type Authorizer interface {
	Authorize(header string) recommerce.Role
}

type Server struct {
	orch     Orchestrator
	auth     Authorizer
	notifier http.Handler
	metrics  *metrics.Metrics
	log      *slog.Logger
	router   *mux.Router
}

// New builds the router. notifier serves the /wss websocket endpoint.
func New(orch Orchestrator, auth Authorizer, notifier http.Handler, m *metrics.Metrics) *Server {
	s := &Server{
		orch:     orch,
		auth:     auth,
		notifier: notifier,
		metrics:  m,
		log:      slog.With("component", "api"),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.loggingMiddleware)
	r.Use(s.authMiddleware)

	s.handle("/start", s.handleStart, http.MethodPost)
	s.handle("/health/", s.idHandler(s.orch.Health), http.MethodGet)
	s.handle("/pause/", s.idHandler(s.orch.Pause), http.MethodGet)
	s.handle("/unpause/", s.idHandler(s.orch.Unpause), http.MethodGet)
	s.handle("/remove/", s.idHandler(s.orch.Remove), http.MethodGet)
	s.handle("/logs/", s.handleLogs, http.MethodGet)
	s.handle("/data/tensorboard/", s.idHandler(s.orch.TensorBoard), http.MethodGet)
	s.handle("/data/statistics", s.handleStats, http.MethodGet)
	s.handle("/data/", s.handleData, http.MethodGet)
	s.handle("/api_health", s.handleAPIHealth, http.MethodGet)
	if s.notifier != nil {
		s.handle("/wss", s.notifier.ServeHTTP, http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, recommerce.DockerInfo{Status: "Not found"})
	})
}

// handle registers path with and without its trailing slash.
func (s *Server) handle(path string, h http.HandlerFunc, methods ...string) {
	s.router.HandleFunc(path, h).Methods(methods...)
	alt := path + "/"
	if strings.HasSuffix(path, "/") {
		alt = strings.TrimSuffix(path, "/")
	}
	s.router.HandleFunc(alt, h).Methods(methods...)
}

func (s *Server) Handler() http.Handler { return s.router }

// TLS names a certificate and key. The zero value serves plain HTTP.
type TLS struct {
	CertFile string
	KeyFile  string
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string, tls TLS) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.serve(ctx, ln, tls)
}

func (s *Server) serve(ctx context.Context, ln net.Listener, tls TLS) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serving", "addr", ln.Addr().String(), "tls", tls.CertFile != "")
		if tls.CertFile != "" {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}
