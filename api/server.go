// Package api exposes the engine over HTTP.
//
// Voter identity and current weight are supplied by the trusted upstream
// gateway in the X-Voter-ID and X-Voter-Weight headers. Errors are returned
// as {"error": "...", "kind": "..."} with a status derived from the error
// kind.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/blockberries/tallyberry/engine"
)

// Identity headers set by the gateway.
const (
	HeaderVoterID     = "X-Voter-ID"
	HeaderVoterWeight = "X-Voter-Weight"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to an engine.
type Server struct {
	eng      *engine.Engine
	log      logrus.FieldLogger
	gatherer prometheus.Gatherer
	router   *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer builds the router.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		eng:      eng,
		log:      logrus.StandardLogger(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Path("/projects").Methods(http.MethodPost).HandlerFunc(s.createProject)
	v1.Path("/projects/{project}").Methods(http.MethodGet).HandlerFunc(s.getProject)
	v1.Path("/projects/{project}/publish").Methods(http.MethodPost).HandlerFunc(s.publishProject)
	v1.Path("/projects/{project}/proposals").Methods(http.MethodPost).HandlerFunc(s.proposeProject)
	v1.Path("/projects/{project}/votes").Methods(http.MethodGet).HandlerFunc(s.voterAllocations)

	item := v1.PathPrefix("/projects/{project}/items/{key}").Subrouter()
	item.Path("/proposals").Methods(http.MethodPost).HandlerFunc(s.proposeItem)
	item.Path("/candidates").Methods(http.MethodGet).HandlerFunc(s.candidates)
	item.Path("/votes").Methods(http.MethodPost).HandlerFunc(s.castVote)
	item.Path("/votes").Methods(http.MethodPut).HandlerFunc(s.switchVote)
	item.Path("/leader").Methods(http.MethodGet).HandlerFunc(s.leader)
	item.Path("/totals").Methods(http.MethodGet).HandlerFunc(s.totals)
	item.Path("/history").Methods(http.MethodGet).HandlerFunc(s.history)

	v1.Path("/votes/{allocation}").Methods(http.MethodDelete).HandlerFunc(s.cancelVote)

	r.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Path("/healthz").Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
			"voter":    r.Header.Get(HeaderVoterID),
		}).Debug("request")
	})
}
