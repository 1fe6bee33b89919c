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

// Package notify publishes run-completion events to an out-of-process
// subscriber over Google Cloud Pub/Sub, implementing the control
// package's Messager seam so the Control API never imports a concrete
// transport.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"

	bqvalidate "github.com/abcxyz/repo-pulse/pkg/bigquery"
)

// Config is the notifier's environment-driven configuration.
type Config struct {
	// ProjectID is the GCP project hosting the topic. Empty disables
	// notification entirely (a nil Messager is wired in instead).
	ProjectID string `env:"NOTIFY_PROJECT_ID"`
	// TopicID is the Pub/Sub topic run-completion events publish to.
	TopicID string `env:"NOTIFY_TOPIC_ID,default=pipeline-run-completions"`
}

// Enabled reports whether enough configuration is present to construct
// a notifier.
func (c *Config) Enabled() bool {
	return c.ProjectID != ""
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.ProjectID != "" && c.TopicID == "" {
		errs = append(errs, fmt.Errorf("NOTIFY_TOPIC_ID must be set when NOTIFY_PROJECT_ID is set"))
	}
	if c.ProjectID != "" {
		if err := bqvalidate.ValidateGCPProjectID(c.ProjectID); err != nil {
			errs = append(errs, fmt.Errorf("NOTIFY_PROJECT_ID: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ToFlags binds the configuration to a flag set.
func (c *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("NOTIFY OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:   "notify-project-id",
		Target: &c.ProjectID,
		EnvVar: "NOTIFY_PROJECT_ID",
		Usage:  "GCP project hosting the run-completion Pub/Sub topic. Empty disables notifications.",
	})
	f.StringVar(&cli.StringVar{
		Name:    "notify-topic-id",
		Target:  &c.TopicID,
		EnvVar:  "NOTIFY_TOPIC_ID",
		Default: "pipeline-run-completions",
		Usage:   "Pub/Sub topic run-completion events are published to.",
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
		return nil, fmt.Errorf("processing notify config: %w", err)
	}
	return &c, nil
}
