/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/herdguard/herdguard/pkg/config"
	"github.com/herdguard/herdguard/pkg/providers"
	"github.com/herdguard/herdguard/pkg/risk"
	"github.com/herdguard/herdguard/pkg/store"
)

// Deps are the storage and domain collaborators the HTTP handlers, and the
// k8s-mode pipeline runner (reconcile.go), are layered over.
type Deps struct {
	DB          *pgxpool.Pool
	Redis       *redis.Client
	Agents      *store.AgentStore
	Commands    *store.CommandStore
	Replicas    *store.ReplicaStore
	Pricing     *store.PricingStore
	PriceCache  *store.PriceCache
	RiskTracker *risk.Tracker

	Prices   providers.PriceProvider
	Metadata providers.InstanceMetadataProvider
	Advisor  providers.SpotAdvisor
	Signals  providers.SignalProvider
	Risk     providers.RiskModel
}

// Server wires the chi router over Deps.
type Server struct {
	Router    *chi.Mux
	startedAt time.Time
	deps      Deps
	cfg       *config.Server
}

// New builds a Server with its middleware stack, health endpoints, and the
// agent-facing route tree of §4.5 mounted.
func New(cfg *config.Server, deps Deps, logger logr.Logger) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		startedAt: time.Now(),
		deps:      deps,
		cfg:       cfg,
	}

	s.Router.Use(requestID)
	s.Router.Use(withLogger(logger))
	s.Router.Use(accessLog)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)

	s.Router.Route("/agents", func(r chi.Router) {
		r.Use(bearerToken)
		r.Post("/register", s.handleRegister)

		r.Route("/{agentID}", func(r chi.Router) {
			r.Use(s.requireAgentOwnership)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Post("/pricing-report", s.handlePricingReport)
			r.Get("/commands", s.handleListCommands)
			r.Post("/commands/{cmd}/executed", s.handleCommandExecuted)
			r.Post("/rebalance", s.handleRebalance)
			r.Post("/termination", s.handleTermination)
		})
	})

	// Client-facing read API (supplemented from the original source's
	// replica/client routes): operator tooling reads on the same
	// bearer-token-owns-agent-id gate as the agent protocol above, rather
	// than a separate unauthenticated surface.
	s.Router.Route("/replicas", func(r chi.Router) {
		r.Use(bearerToken)
		r.Route("/{agentID}", func(r chi.Router) {
			r.Use(s.requireAgentOwnership)
			r.Get("/", s.handleReadReplicas)
		})
	})
	s.Router.Route("/commands", func(r chi.Router) {
		r.Use(bearerToken)
		r.Route("/{agentID}", func(r chi.Router) {
			r.Use(s.requireAgentOwnership)
			r.Get("/", s.handleReadCommands)
		})
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.deps.DB.Ping(ctx); err != nil {
		Respond(w, http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "database not ready"})
		return
	}
	if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
		Respond(w, http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "redis not ready"})
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
