// Copyright 2023 The Authors (see AUTHORS file)
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

// Package cli implements the commands for the repo-pulse CLI.
package cli

import (
	"context"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/repo-pulse/pkg/version"
)

var rootCmd = func() cli.Command {
	return &cli.RootCommand{
		Name:    "repo-pulse",
		Version: version.HumanVersion,
		Commands: map[string]cli.CommandFactory{
			"migrate": func() cli.Command {
				return &MigrateCommand{}
			},
			"pipeline": func() cli.Command {
				return &cli.RootCommand{
					Name:        "pipeline",
					Description: "Run individual pipelines",
					Commands: map[string]cli.CommandFactory{
						"run": func() cli.Command {
							return &PipelineRunCommand{}
						},
					},
				}
			},
			"scheduler": func() cli.Command {
				return &cli.RootCommand{
					Name:        "scheduler",
					Description: "Run the cron-driven pipeline scheduler",
					Commands: map[string]cli.CommandFactory{
						"serve": func() cli.Command {
							return &SchedulerServeCommand{}
						},
					},
				}
			},
			"control": func() cli.Command {
				return &cli.RootCommand{
					Name:        "control",
					Description: "Operator controls over running pipelines",
					Commands: map[string]cli.CommandFactory{
						"reset": func() cli.Command {
							return &cli.RootCommand{
								Name:        "reset",
								Description: "Force a pipeline or entity back to a clean state",
								Commands: map[string]cli.CommandFactory{
									"pipeline": func() cli.Command {
										return &ControlResetPipelineCommand{}
									},
									"enrichment": func() cli.Command {
										return &ControlResetEnrichmentCommand{}
									},
								},
							}
						},
					},
				}
			},
		},
	}
}

// Run executes the CLI.
func Run(ctx context.Context, args []string) error {
	return rootCmd().Run(ctx, args) //nolint:wrapcheck // Want passthrough
}
