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

package cli

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

var _ cli.Command = (*MigrateCommand)(nil)

// MigrateCommand applies every pending schema migration against DB_PATH
// and exits. store.Open already runs the Schema Manager and the
// critical-table/column verification gate, so this command is a thin
// wrapper that opens and immediately closes the store.
type MigrateCommand struct {
	cli.BaseCommand

	cfg *store.Config

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *MigrateCommand) Desc() string {
	return `Apply pending database migrations and exit`
}

func (c *MigrateCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]
  Apply every pending schema migration against DB_PATH and exit.
`
}

func (c *MigrateCommand) Flags() *cli.FlagSet {
	c.cfg = &store.Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *MigrateCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.FromContext(ctx)
	logger.InfoContext(ctx, "applying migrations", "db_path", c.cfg.DBPath)

	s, err := store.Open(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer s.Close()

	logger.InfoContext(ctx, "migrations applied", "db_path", c.cfg.DBPath)
	return nil
}
