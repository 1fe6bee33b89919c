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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config is the Scheduler's environment-driven configuration.
type Config struct {
	// TickInterval is how often the Scheduler checks every active
	// schedule's next_run_at against the current time.
	TickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL,default=30s"`
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULER_TICK_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// ToFlags binds the configuration to a flag set.
func (c *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("SCHEDULER OPTIONS")

	f.DurationVar(&cli.DurationVar{
		Name:    "scheduler-tick-interval",
		Target:  &c.TickInterval,
		EnvVar:  "SCHEDULER_TICK_INTERVAL",
		Default: 30 * time.Second,
		Usage:   "How often the scheduler checks schedules for due runs.",
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
		return nil, fmt.Errorf("processing scheduler config: %w", err)
	}
	return &c, nil
}
