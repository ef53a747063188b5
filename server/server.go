/*
Package server exposes packed density files over HTTP.  Routes live under a configurable
prefix (default /DensityServer):

	GET {prefix}/_status
	GET {prefix}/{source}/{id}
	GET {prefix}/{source}/{id}/cell?encoding=&detail=&forcedLevel=
	GET {prefix}/{source}/{id}/box/{a1,a2,a3}/{b1,b2,b3}?space=&encoding=&detail=&forcedLevel=

Query results are BinaryCIF by default or CIF text with encoding=cif.
*/
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"golang.org/x/net/netutil"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/query"
)

// Version is reported in query results and by the status route.
const Version = "1.0.0"

// Server answers density queries.
type Server struct {
	config   *Config
	executor *query.Executor
	pending  *query.Counter
	started  time.Time
	handler  http.Handler
}

// New returns a server for the given configuration.
func New(c *Config) *Server {
	if c == nil {
		c = DefaultConfig()
	}
	s := &Server{
		config:  c,
		pending: new(query.Counter),
		started: time.Now(),
	}
	s.executor = &query.Executor{
		Limits:        c.Limits,
		ServerVersion: Version,
		Pending:       s.pending,
		Headers:       query.NewHeaderCache(c.Cache.HeaderMB),
	}

	mux := web.New()
	s.initRoutes(mux)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	s.handler = corsHandler.Handler(gzhttp.GzipHandler(mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Serve listens on the configured address until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	address := s.config.HTTPAddress()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	if n := s.config.Server.MaxConnections; n > 0 {
		listener = netutil.LimitListener(listener, n)
		density.Infof("Limiting web server to %d concurrent connections\n", n)
	}
	density.Infof("Web server listening at %s%s ...\n", address, s.config.Server.APIPrefix)

	srv := &http.Server{
		Handler:     s,
		ReadTimeout: 1 * time.Hour,
	}
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}
