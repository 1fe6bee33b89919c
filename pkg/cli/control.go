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
	"strconv"
	"time"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/control"
	"github.com/abcxyz/repo-pulse/pkg/pipeline"
	"github.com/abcxyz/repo-pulse/pkg/scheduler"
	"github.com/abcxyz/repo-pulse/pkg/store"
)

// defaultOneShotTickInterval satisfies scheduler.Config.Validate for the
// throwaway Scheduler one-shot CLI commands build solely to construct a
// control.API; it is never ticked.
const defaultOneShotTickInterval = time.Hour

// resetConfig is shared by both "control reset" subcommands: the Store
// connection plus the actor recorded against the audit log entry the
// Control API writes for every reset.
type resetConfig struct {
	Store store.Config
	Actor string `env:"CONTROL_ACTOR,default=operator-cli"`
}

func (c *resetConfig) Validate() error {
	return c.Store.Validate() //nolint:wrapcheck // sub-config Validate already wraps
}

func (c *resetConfig) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	set = c.Store.ToFlags(set)

	f := set.NewSection("CONTROL OPTIONS")
	f.StringVar(&cli.StringVar{
		Name:    "control-actor",
		Target:  &c.Actor,
		EnvVar:  "CONTROL_ACTOR",
		Default: "operator-cli",
		Usage:   "Actor name recorded against the audit log entry this reset writes.",
	})
	return set
}

// newOneShotControlAPI opens the store and wraps it in a control.API for a
// single operator call. The Scheduler it builds is never ticked or
// triggered; ResetPipelineStatus and ResetEnrichmentAttempts never touch
// it, but control.New requires one.
func newOneShotControlAPI(ctx context.Context, cfg *store.Config) (*control.API, *store.Store, error) {
	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	sch := scheduler.New(s, pipeline.NewExecutor(s), &scheduler.Config{TickInterval: defaultOneShotTickInterval})
	return control.New(s, sch, nil), s, nil
}

var _ cli.Command = (*ControlResetPipelineCommand)(nil)

// ControlResetPipelineCommand wraps the Control API's ResetPipelineStatus:
// an operator-triggered, unconditional return of one pipeline type to
// idle, regardless of its current state.
type ControlResetPipelineCommand struct {
	cli.BaseCommand

	cfg *resetConfig

	testFlagSetOpts []cli.Option
}

func (c *ControlResetPipelineCommand) Desc() string {
	return `Force a pipeline type back to idle`
}

func (c *ControlResetPipelineCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options] <pipeline-type>
  Force the named pipeline type's status back to idle, regardless of its
  current state. Use after a crashed run leaves is_running stuck true.
`
}

func (c *ControlResetPipelineCommand) Flags() *cli.FlagSet {
	c.cfg = &resetConfig{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *ControlResetPipelineCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one argument (pipeline type), got %q", args)
	}
	pipelineType := args[0]

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	api, s, err := newOneShotControlAPI(ctx, &c.cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := api.ResetPipelineStatus(ctx, c.cfg.Actor, pipelineType); err != nil {
		return fmt.Errorf("reset pipeline status %s: %w", pipelineType, err)
	}

	logging.FromContext(ctx).InfoContext(ctx, "pipeline status reset", "pipeline_type", pipelineType, "actor", c.cfg.Actor)
	return nil
}

var _ cli.Command = (*ControlResetEnrichmentCommand)(nil)

// ControlResetEnrichmentCommand wraps the Control API's
// ResetEnrichmentAttempts: an operator-triggered reset of one entity's
// enrichment_attempts counter, making it eligible for the Enrichment
// pipeline again.
type ControlResetEnrichmentCommand struct {
	cli.BaseCommand

	cfg *resetConfig

	testFlagSetOpts []cli.Option
}

func (c *ControlResetEnrichmentCommand) Desc() string {
	return `Reset one entity's enrichment attempt counter`
}

func (c *ControlResetEnrichmentCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options] <repository|contributor> <upstream-id>
  Reset enrichment_attempts for one entity, making it eligible for the
  Enrichment pipeline again. Never time-based; always an explicit operator
  action.
`
}

func (c *ControlResetEnrichmentCommand) Flags() *cli.FlagSet {
	c.cfg = &resetConfig{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *ControlResetEnrichmentCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) != 2 {
		return fmt.Errorf("expected exactly two arguments (entity type, upstream id), got %q", args)
	}
	entityType := args[0]
	upstreamID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("upstream id %q is not a valid integer: %w", args[1], err)
	}

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	api, s, err := newOneShotControlAPI(ctx, &c.cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := api.ResetEnrichmentAttempts(ctx, c.cfg.Actor, entityType, upstreamID); err != nil {
		return fmt.Errorf("reset enrichment attempts %s/%d: %w", entityType, upstreamID, err)
	}

	logging.FromContext(ctx).InfoContext(ctx, "enrichment attempts reset",
		"entity_type", entityType, "upstream_id", upstreamID, "actor", c.cfg.Actor)
	return nil
}
