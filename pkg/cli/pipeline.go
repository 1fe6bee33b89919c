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
	"sort"
	"strings"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/repo-pulse/pkg/pipeline"
)

var _ cli.Command = (*PipelineRunCommand)(nil)

// PipelineRunCommand runs a single named pipeline to completion (or
// resumes its latest incomplete run) and exits, for manual invocation
// or a cron-driven Cloud Run Job — the counterpart to "scheduler serve"
// for deployments that don't want a long-running ticking process.
type PipelineRunCommand struct {
	cli.BaseCommand

	cfg *runtimeConfig

	testFlagSetOpts []cli.Option
}

func (c *PipelineRunCommand) Desc() string {
	return `Run a single pipeline to completion and exit`
}

func (c *PipelineRunCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options] <pipeline-type>
  Run the named pipeline to completion (or resume its latest incomplete
  run) and exit. Available pipeline types: ` + strings.Join(sortedPipelineTypeNames(), ", ") + `
`
}

func (c *PipelineRunCommand) Flags() *cli.FlagSet {
	c.cfg = &runtimeConfig{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *PipelineRunCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one argument (pipeline type), got %q", args)
	}
	pipelineType := args[0]

	if err := c.cfg.Validate(ctx); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	rc, err := buildRuntimeComponents(ctx, c.cfg)
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

	pipelines, err := buildPipelines(rc.Store, rc.Buffer, rc.GitHub, rc.Sitemap, rc.Analytics, rc.Archive)
	if err != nil {
		return fmt.Errorf("build pipeline registry: %w", err)
	}

	p, ok := pipelines[pipelineType]
	if !ok {
		return fmt.Errorf("unknown pipeline type %q, available: %s", pipelineType, strings.Join(sortedKeys(pipelines), ", "))
	}

	logger := logging.FromContext(ctx)
	logger.InfoContext(ctx, "pipeline run starting", "pipeline_type", pipelineType)

	executor := pipeline.NewExecutor(rc.Store)
	result, err := executor.Run(ctx, p)
	if err != nil {
		if result != nil {
			return fmt.Errorf("pipeline %s run %s: %w", pipelineType, result.RunID, err)
		}
		return fmt.Errorf("pipeline %s: %w", pipelineType, err)
	}

	logger.InfoContext(ctx, "pipeline run finished",
		"pipeline_type", pipelineType, "run_id", result.RunID, "status", result.Status, "processed", result.Processed)
	return nil
}

// sortedPipelineTypeNames lists every pipeline_type this binary can
// construct, regardless of whether the optional components backing some
// of them are enabled in the current environment.
func sortedPipelineTypeNames() []string {
	return []string{
		pipelineRepositorySync,
		pipelineMergeRequestSync,
		pipelineCommitSync,
		pipelineEnrichment,
		pipelineRanking,
		pipelineSitemapIndex,
		pipelineAnalyticsExport,
		pipelineArchive,
	}
}

func sortedKeys(m map[string]*pipeline.Pipeline) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
