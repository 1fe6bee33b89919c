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

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config is the Store's environment-driven configuration.
type Config struct {
	// DBPath is the filesystem path to the SQLite database file, e.g.
	// "./db/repo-pulse.db".
	DBPath string `env:"DB_PATH,default=./db/repo-pulse.db"`

	// MaxOpenConns bounds the number of open connections. SQLite allows a
	// single writer; this mostly governs concurrent readers.
	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS,default=8"`

	// MaxIdleConns bounds idle connections kept warm in the pool.
	MaxIdleConns int `env:"DB_MAX_IDLE_CONNS,default=4"`

	// BusyTimeoutMS is how long a writer waits on a locked database before
	// giving up, in milliseconds.
	BusyTimeoutMS int `env:"DB_BUSY_TIMEOUT_MS,default=5000"`
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, fmt.Errorf("DB_PATH is required"))
	}
	if c.MaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be positive"))
	}
	if c.MaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS must not be negative"))
	}
	if c.BusyTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("DB_BUSY_TIMEOUT_MS must be positive"))
	}
	return errors.Join(errs...)
}

// ToFlags binds the configuration to a flag set so the same fields are
// settable from either an environment variable or a flag.
func (c *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("STORE OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "db-path",
		Target:  &c.DBPath,
		EnvVar:  "DB_PATH",
		Default: "./db/repo-pulse.db",
		Usage:   "Path to the SQLite database file.",
	})

	f.IntVar(&cli.IntVar{
		Name:    "db-max-open-conns",
		Target:  &c.MaxOpenConns,
		EnvVar:  "DB_MAX_OPEN_CONNS",
		Default: 8,
		Usage:   "Maximum open database connections.",
	})

	f.IntVar(&cli.IntVar{
		Name:    "db-max-idle-conns",
		Target:  &c.MaxIdleConns,
		EnvVar:  "DB_MAX_IDLE_CONNS",
		Default: 4,
		Usage:   "Maximum idle database connections.",
	})

	f.IntVar(&cli.IntVar{
		Name:    "db-busy-timeout-ms",
		Target:  &c.BusyTimeoutMS,
		EnvVar:  "DB_BUSY_TIMEOUT_MS",
		Default: 5000,
		Usage:   "Busy timeout in milliseconds before a writer gives up on a locked database.",
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
		return nil, fmt.Errorf("processing store config: %w", err)
	}
	return &c, nil
}
