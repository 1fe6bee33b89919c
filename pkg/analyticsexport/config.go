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

// Package analyticsexport mirrors ContributorRanking snapshots and
// PipelineHistory runs into BigQuery in small append-only batches, for
// heavier external analytics than the local store is built to serve.
package analyticsexport

import (
	"context"
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"

	bqvalidate "github.com/abcxyz/repo-pulse/pkg/bigquery"
)

// Config is the exporter's environment-driven configuration.
type Config struct {
	// ProjectID is the GCP project hosting the destination dataset. Empty
	// disables the mirror entirely.
	ProjectID string `env:"ANALYTICS_EXPORT_PROJECT_ID"`
	// DatasetID is the BigQuery dataset the rankings and history tables
	// live in.
	DatasetID string `env:"ANALYTICS_EXPORT_DATASET_ID,default=repo_pulse_analytics"`
	// RankingsTableID is the destination table for ranking snapshots.
	RankingsTableID string `env:"ANALYTICS_EXPORT_RANKINGS_TABLE,default=contributor_rankings"`
	// HistoryTableID is the destination table for pipeline run history.
	HistoryTableID string `env:"ANALYTICS_EXPORT_HISTORY_TABLE,default=pipeline_history"`
	// BatchSize caps how many rows a single export pass streams per table.
	BatchSize int `env:"ANALYTICS_EXPORT_BATCH_SIZE,default=500"`
}

// Enabled reports whether enough configuration is present to construct
// an exporter.
func (c *Config) Enabled() bool {
	return c.ProjectID != ""
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.ProjectID != "" && c.DatasetID == "" {
		errs = append(errs, fmt.Errorf("ANALYTICS_EXPORT_DATASET_ID must be set when ANALYTICS_EXPORT_PROJECT_ID is set"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ANALYTICS_EXPORT_BATCH_SIZE must be positive"))
	}
	if c.ProjectID != "" {
		if err := bqvalidate.ValidateIdentifiers(c.ProjectID, c.DatasetID, c.RankingsTableID); err != nil {
			errs = append(errs, fmt.Errorf("ANALYTICS_EXPORT_PROJECT_ID/DATASET_ID/RANKINGS_TABLE: %w", err))
		}
		if err := bqvalidate.ValidateTableName(c.HistoryTableID); err != nil {
			errs = append(errs, fmt.Errorf("ANALYTICS_EXPORT_HISTORY_TABLE: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ToFlags binds the configuration to a flag set.
func (c *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("ANALYTICS EXPORT OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:   "analytics-export-project-id",
		Target: &c.ProjectID,
		EnvVar: "ANALYTICS_EXPORT_PROJECT_ID",
		Usage:  "GCP project hosting the analytics mirror dataset. Empty disables the mirror.",
	})
	f.StringVar(&cli.StringVar{
		Name:    "analytics-export-dataset-id",
		Target:  &c.DatasetID,
		EnvVar:  "ANALYTICS_EXPORT_DATASET_ID",
		Default: "repo_pulse_analytics",
		Usage:   "BigQuery dataset the mirror tables live in.",
	})
	f.StringVar(&cli.StringVar{
		Name:    "analytics-export-rankings-table",
		Target:  &c.RankingsTableID,
		EnvVar:  "ANALYTICS_EXPORT_RANKINGS_TABLE",
		Default: "contributor_rankings",
		Usage:   "Destination table for mirrored ranking snapshots.",
	})
	f.StringVar(&cli.StringVar{
		Name:    "analytics-export-history-table",
		Target:  &c.HistoryTableID,
		EnvVar:  "ANALYTICS_EXPORT_HISTORY_TABLE",
		Default: "pipeline_history",
		Usage:   "Destination table for mirrored pipeline run history.",
	})
	f.IntVar(&cli.IntVar{
		Name:    "analytics-export-batch-size",
		Target:  &c.BatchSize,
		EnvVar:  "ANALYTICS_EXPORT_BATCH_SIZE",
		Default: 500,
		Usage:   "Maximum rows streamed per table per export pass.",
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
		return nil, fmt.Errorf("processing analytics export config: %w", err)
	}
	return &c, nil
}
