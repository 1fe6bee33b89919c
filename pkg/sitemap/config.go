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

// Package sitemap paginates each indexable entity type with a fixed page
// size and maintains SitemapMetadata's current page and URL count. It
// emits no XML itself — only the metadata an external HTTP layer reads.
package sitemap

import (
	"context"
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config is the indexer's environment-driven configuration.
type Config struct {
	// PageSize is the fixed number of URLs per sitemap page.
	PageSize int `env:"SITEMAP_PAGE_SIZE,default=500"`
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("SITEMAP_PAGE_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

// ToFlags binds the configuration to a flag set.
func (c *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("SITEMAP OPTIONS")

	f.IntVar(&cli.IntVar{
		Name:    "sitemap-page-size",
		Target:  &c.PageSize,
		EnvVar:  "SITEMAP_PAGE_SIZE",
		Default: 500,
		Usage:   "Number of URLs per sitemap page.",
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
		return nil, fmt.Errorf("processing sitemap config: %w", err)
	}
	return &c, nil
}
