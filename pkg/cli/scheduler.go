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
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/serving"

	"github.com/abcxyz/repo-pulse/pkg/control"
	"github.com/abcxyz/repo-pulse/pkg/opsserver"
	"github.com/abcxyz/repo-pulse/pkg/pipeline"
	"github.com/abcxyz/repo-pulse/pkg/scheduler"
)

// schedulerServeConfig composes runtimeConfig with the Scheduler's own
// tick interval and the ops server's listen port.
type schedulerServeConfig struct {
	runtimeConfig

	Scheduler scheduler.Config
	Ops       opsserver.Config

	// ProjectID scopes the ops server's structured logging interceptor's
	// trace correlation.
	ProjectID string `env:"PROJECT_ID"`
}

func (c *schedulerServeConfig) Validate(ctx context.Context) error {
	if err := c.runtimeConfig.Validate(ctx); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	return c.Ops.Validate()
}

func (c *schedulerServeConfig) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	set = c.runtimeConfig.ToFlags(set)
	set = c.Scheduler.ToFlags(set)
	set = c.Ops.ToFlags(set)

	f := set.NewSection("PROJECT OPTIONS")
	f.StringVar(&cli.StringVar{
		Name:   "project-id",
		Target: &c.ProjectID,
		EnvVar: "PROJECT_ID",
		Usage:  "GCP project ID, used for log trace correlation.",
	})
	return set
}

var _ cli.Command = (*SchedulerServeCommand)(nil)

// SchedulerServeCommand runs the Scheduler's ticking loop and the ops
// HTTP surface (/healthz, /version, /metrics) side by side until the
// process receives a shutdown signal. It is the long-running
// counterpart to "pipeline run".
type SchedulerServeCommand struct {
	cli.BaseCommand

	cfg *schedulerServeConfig

	testFlagSetOpts []cli.Option
}

func (c *SchedulerServeCommand) Desc() string {
	return `Start the pipeline scheduler and ops HTTP server`
}

func (c *SchedulerServeCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]
  Start the cron-driven pipeline scheduler alongside the ops HTTP server
  (/healthz, /version, /metrics). Runs until the process is signalled to
  stop.
`
}

func (c *SchedulerServeCommand) Flags() *cli.FlagSet {
	c.cfg = &schedulerServeConfig{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *SchedulerServeCommand) Run(ctx context.Context, args []string) error {
	server, mux, sched, rc, err := c.RunUnstarted(ctx, args)
	if rc != nil {
		defer func() {
			if cErr := rc.Close(); cErr != nil {
				logging.FromContext(ctx).ErrorContext(ctx, "error closing runtime components", "error", cErr)
			}
		}()
	}
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return sched.Run(runCtx)
	})
	g.Go(func() error {
		defer cancel()
		return server.StartHTTPHandler(runCtx, mux)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("scheduler serve: %w", err)
	}
	return nil
}

// RunUnstarted parses flags, validates configuration, and wires every
// component the scheduler needs, without starting the tick loop or the
// HTTP server. The returned runtimeComponents must be closed by the
// caller even when err is non-nil, if rc itself is non-nil.
func (c *SchedulerServeCommand) RunUnstarted(ctx context.Context, args []string) (*serving.Server, http.Handler, *scheduler.Scheduler, *runtimeComponents, error) {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return nil, nil, nil, nil, fmt.Errorf("unexpected arguments: %q", args)
	}

	if err := c.cfg.Validate(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rc, err := buildRuntimeComponents(ctx, &c.cfg.runtimeConfig)
	if err != nil {
		return nil, nil, nil, rc, err
	}

	pipelines, err := buildPipelines(rc.Store, rc.Buffer, rc.GitHub, rc.Sitemap, rc.Analytics, rc.Archive)
	if err != nil {
		return nil, nil, nil, rc, fmt.Errorf("build pipeline registry: %w", err)
	}

	executor := pipeline.NewExecutor(rc.Store)
	sched := scheduler.New(rc.Store, executor, &c.cfg.Scheduler)
	for name, p := range pipelines {
		sched.Register(name, p)
	}

	var notifier control.Messager
	if rc.Notifier != nil {
		notifier = rc.Notifier
	}
	// The Control API is constructed here so this process's Scheduler
	// instance backs it, but nothing in this deployment's scope exposes
	// it over HTTP; that presentation layer is out of scope.
	_ = control.New(rc.Store, sched, notifier)

	ops, err := opsserver.NewServer(ctx, &c.cfg.Ops, c.cfg.ProjectID)
	if err != nil {
		return nil, nil, nil, rc, fmt.Errorf("create ops server: %w", err)
	}
	mux := ops.Routes(ctx)

	server, err := serving.New(c.cfg.Ops.Port)
	if err != nil {
		return nil, nil, nil, rc, fmt.Errorf("failed to create serving infrastructure: %w", err)
	}

	return server, mux, sched, rc, nil
}
