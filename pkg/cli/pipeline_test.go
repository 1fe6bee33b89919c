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
	"testing"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
)

func TestPipelineRunCommand(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(t.Context(), logging.TestLogger(t))
	dbPath := seedDB(t)

	baseEnv := map[string]string{
		"DB_PATH":      dbPath,
		"GITHUB_TOKENS": "test-token",
	}

	cases := []struct {
		name   string
		args   []string
		env    map[string]string
		expErr string
	}{
		{
			name:   "missing_arg",
			args:   []string{},
			env:    baseEnv,
			expErr: "expected exactly one argument",
		},
		{
			name:   "unknown_pipeline_type",
			args:   []string{"nonexistent"},
			env:    baseEnv,
			expErr: `unknown pipeline type "nonexistent"`,
		},
		{
			name:   "invalid_config",
			args:   []string{pipelineRepositorySync},
			env:    map[string]string{"DB_PATH": dbPath},
			expErr: "one of GITHUB_TOKENS or GITHUB_APP_ID",
		},
		{
			name: "happy_path_repository_sync",
			args: []string{pipelineRepositorySync},
			env:  baseEnv,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var cmd PipelineRunCommand
			cmd.testFlagSetOpts = []cli.Option{cli.WithLookupEnv(envconfig.MapLookuper(tc.env).Lookup)}

			err := cmd.Run(ctx, tc.args)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}
