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

// Package opsserver serves the liveness, version, and metrics routes
// every long-running process in this system carries. It has no
// knowledge of the Control API or any business route — those are an
// external presentation layer's concern.
package opsserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config is the ops server's environment-driven configuration.
type Config struct {
	// Port is the TCP port the server listens on.
	Port string `env:"PORT,default=8080"`
	// AllowedOrigins is a comma-separated list of origins permitted to
	// make cross-origin requests against the ops routes. Empty allows
	// none.
	AllowedOrigins string `env:"OPS_ALLOWED_ORIGINS"`
}

// AllowedOriginsList splits AllowedOrigins into its component origins.
func (c *Config) AllowedOriginsList() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p := strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT %q is not a valid port number: %w", c.Port, err)
	}
	return nil
}

// ToFlags binds the configuration to a flag set.
func (c *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("OPS SERVER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "port",
		Target:  &c.Port,
		EnvVar:  "PORT",
		Default: "8080",
		Usage:   "Port the ops HTTP server listens on.",
	})
	f.StringVar(&cli.StringVar{
		Name:   "ops-allowed-origins",
		Target: &c.AllowedOrigins,
		EnvVar: "OPS_ALLOWED_ORIGINS",
		Usage:  "Comma-separated origins permitted to make cross-origin requests against the ops routes.",
	})

	return set
}

// NewConfig reads configuration from the environment.
func NewConfig(ctx context.Context) (*Config, error) {
	return newConfig(ctx, envconfig.OsLookuper())
}

func newConfig(ctx context.Context, lu envconfig.Lookuper) (*Config, error) {
	var c Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &c,
		Lookuper: lu,
	}); err != nil {
		return nil, fmt.Errorf("processing ops server config: %w", err)
	}
	return &c, nil
}
