// Package api is the HTTP façade: an OpenWhisk-compatible REST surface
// over the store, the orchestrator and the scheduler.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/activation"
	"github.com/penguinwhisk/controller/internal/blob"
	"github.com/penguinwhisk/controller/internal/metrics"
	"github.com/penguinwhisk/controller/internal/orchestrator"
	"github.com/penguinwhisk/controller/internal/scheduler"
	"github.com/penguinwhisk/controller/internal/store"
)

// Server holds the façade's collaborators.
type Server struct {
	store   *store.Store
	blob    *blob.Store
	orch    *orchestrator.Orchestrator
	sched   *scheduler.Scheduler
	acts    *activation.Manager
	metrics *metrics.Metrics
	log     *zap.Logger

	gatherer prometheus.Gatherer
}

// Options configure the server.
type Options struct {
	Store        *store.Store
	Blob         *blob.Store
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Activations  *activation.Manager
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
}

// New builds a Server.
func New(opts Options) *Server {
	return &Server{
		store:    opts.Store,
		blob:     opts.Blob,
		orch:     opts.Orchestrator,
		sched:    opts.Scheduler,
		acts:     opts.Activations,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		log:      opts.Logger,
	}
}

// Handler assembles the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Web actions carry their own auth via annotations. Any verb is
		// accepted; the method reaches the action as __ow_method and any
		// trailing path as __ow_path.
		r.HandleFunc("/web/{namespace}/{pkg}/{action}", s.handleWebAction)
		r.HandleFunc("/web/{namespace}/{pkg}/{action}/*", s.handleWebAction)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/invokers", s.handleInvokers)

			r.Route("/namespaces", func(r chi.Router) {
				r.Get("/", s.handleListNamespaces)

				r.Route("/{namespace}", func(r chi.Router) {
					r.Get("/", s.handleGetNamespace)
					r.Put("/", s.handleCreateNamespace)
					r.Delete("/", s.handleDeleteNamespace)
					r.Get("/limits", s.handleNamespaceLimits)

					r.Route("/packages", func(r chi.Router) {
						r.Get("/", s.handleListPackages)
						r.Route("/{name}", func(r chi.Router) {
							r.Get("/", s.handleGetPackage)
							r.Put("/", s.handlePutPackage)
							r.Delete("/", s.handleDeletePackage)
						})
					})

					r.Route("/actions", func(r chi.Router) {
						r.Get("/", s.handleListActions)
						// Both bare and package-qualified action paths.
						r.Route("/{first}", func(r chi.Router) {
							r.Get("/", s.handleGetAction)
							r.Put("/", s.handlePutAction)
							r.Delete("/", s.handleDeleteAction)
							r.Post("/", s.handleInvokeAction)
							r.Route("/{second}", func(r chi.Router) {
								r.Get("/", s.handleGetAction)
								r.Put("/", s.handlePutAction)
								r.Delete("/", s.handleDeleteAction)
								r.Post("/", s.handleInvokeAction)
							})
						})
					})

					r.Route("/triggers", func(r chi.Router) {
						r.Get("/", s.handleListTriggers)
						r.Route("/{name}", func(r chi.Router) {
							r.Get("/", s.handleGetTrigger)
							r.Put("/", s.handlePutTrigger)
							r.Delete("/", s.handleDeleteTrigger)
							r.Post("/", s.handleFireTrigger)
						})
					})

					r.Route("/rules", func(r chi.Router) {
						r.Get("/", s.handleListRules)
						r.Route("/{name}", func(r chi.Router) {
							r.Get("/", s.handleGetRule)
							r.Put("/", s.handlePutRule)
							r.Delete("/", s.handleDeleteRule)
							r.Post("/", s.handleSetRuleStatus)
						})
					})

					r.Route("/activations", func(r chi.Router) {
						r.Get("/", s.handleListActivations)
						r.Route("/{activationID}", func(r chi.Router) {
							r.Get("/", s.handleGetActivation)
							r.Get("/logs", s.handleActivationLogs)
							r.Get("/result", s.handleActivationResult)
						})
					})
				})
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(ww.Status()/100) + "xx"
		s.metrics.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		s.metrics.RequestSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// queryBool reports whether a flag parameter is set truthy.
func queryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	return v == "true" || v == "1"
}
