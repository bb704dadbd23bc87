// Package server implements the daemon's read-only admin/status surface:
// JSON endpoints over live session, SOL, and blob state plus an SSE stream
// of audit events, and a Prometheus /metrics endpoint. Grounded on the
// teacher's server.Server (gorilla/mux router, graceful-shutdown Run loop),
// repointed from a console-proxy's server/log/analytics routes at the
// daemon's own session/SOL/blob status (SPEC_FULL.md §6).
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/openbmc-go/netipmid/daemon"
	"github.com/openbmc-go/netipmid/logs"
)

// Server is the admin HTTP listener. It holds no state of its own beyond
// the router: every endpoint reads live from the shared Services bundle.
type Server struct {
	addr       string
	version    string
	svc        *daemon.Services
	auditLog   *logs.Writer
	router     *mux.Router
	httpServer *http.Server
}

// New constructs a Server bound to addr (host:port), answering status
// queries against svc and streaming audit events read from auditLog.
func New(addr string, svc *daemon.Services, auditLog *logs.Writer, version string) *Server {
	s := &Server{
		addr:     addr,
		version:  version,
		svc:      svc,
		auditLog: auditLog,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")
	s.router.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	s.router.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	s.router.HandleFunc("/sol/{instance}", s.handleSOLStatus).Methods("GET")
	s.router.HandleFunc("/blob/state", s.handleBlobState).Methods("GET")
	s.router.HandleFunc("/events", s.handleEvents).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"version":%q}`, s.version)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(log.Fields{"method": r.Method, "path": r.URL.Path, "remote": r.RemoteAddr}).Debug("admin request")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP listener and blocks until ctx is cancelled, then
// shuts down gracefully. Mirrors the teacher's Server.Run.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("admin surface: context done, shutting down")
		s.httpServer.Shutdown(context.Background())
	}()

	log.WithField("addr", s.addr).Info("admin surface listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
