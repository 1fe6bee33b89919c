// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opsserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abcxyz/pkg/healthcheck"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/version"
)

// Server serves the ops-facing HTTP routes: liveness, version, and
// Prometheus metrics. It carries no Control API or business-route
// knowledge.
type Server struct {
	projectID string
	origins   []string
}

// NewServer builds a Server from cfg.
func NewServer(ctx context.Context, cfg *Config, projectID string) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ops server configuration: %w", err)
	}
	return &Server{projectID: projectID, origins: cfg.AllowedOriginsList()}, nil
}

// Routes builds the ops router: CORS and request logging middleware
// wrapping /healthz, /version, and /metrics.
func (s *Server) Routes(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx)

	r := chi.NewRouter()
	corsOpts := cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet},
	}
	if len(s.origins) == 0 {
		// go-chi/cors treats an empty AllowedOrigins list as "allow all".
		corsOpts.AllowOriginFunc = func(r *http.Request, origin string) bool { return false }
	}
	r.Use(cors.Handler(corsOpts))

	r.Handle("/healthz", healthcheck.HandleHTTPHealthCheck())
	r.Get("/version", s.handleVersion())
	r.Handle("/metrics", promhttp.Handler())

	return logging.HTTPInterceptor(logger, s.projectID)(r)
}

// handleVersion responds with the binary's build-time version info.
func (s *Server) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name":%q,"version":%q,"commit":%q}`, version.Name, version.Version, version.Commit)
	}
}
