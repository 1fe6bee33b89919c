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

// Package archive moves PipelineHistory and ContributorRanking rows
// past a configurable retention window out of the local store and
// into Cloud Storage as JSON arrays of rows, so old rows are
// preserved off-box instead of destroyed.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config is the archiver's environment-driven configuration.
type Config struct {
	// BucketURI is the gs://bucket/prefix archived batches are written
	// under. Empty disables archival.
	BucketURI string `env:"ARCHIVE_BUCKET_URI"`
	// RetentionDays is how long a row lives in the local store before
	// becoming eligible for archival. Zero disables archival.
	RetentionDays int `env:"ARCHIVE_RETENTION_DAYS,default=0"`
	// BatchSize caps how many rows are archived per table per pass.
	BatchSize int `env:"ARCHIVE_BATCH_SIZE,default=1000"`
}

// Enabled reports whether enough configuration is present, and
// retention is actually turned on, to construct an archiver.
func (c *Config) Enabled() bool {
	return c.BucketURI != "" && c.RetentionDays > 0
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("ARCHIVE_RETENTION_DAYS must not be negative"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ARCHIVE_BATCH_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

// ToFlags binds the configuration to a flag set.
func (c *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("ARCHIVE OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:   "archive-bucket-uri",
		Target: &c.BucketURI,
		EnvVar: "ARCHIVE_BUCKET_URI",
		Usage:  "gs://bucket/prefix archived rows are written under. Empty disables archival.",
	})
	f.IntVar(&cli.IntVar{
		Name:    "archive-retention-days",
		Target:  &c.RetentionDays,
		EnvVar:  "ARCHIVE_RETENTION_DAYS",
		Default: 0,
		Usage:   "Days a row lives locally before archival. Zero disables archival.",
	})
	f.IntVar(&cli.IntVar{
		Name:    "archive-batch-size",
		Target:  &c.BatchSize,
		EnvVar:  "ARCHIVE_BATCH_SIZE",
		Default: 1000,
		Usage:   "Maximum rows archived per table per pass.",
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
		return nil, fmt.Errorf("processing archive config: %w", err)
	}
	return &c, nil
}
