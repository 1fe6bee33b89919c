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
	"path/filepath"
	"testing"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"

	"github.com/abcxyz/repo-pulse/pkg/store"
)

func seedDB(t *testing.T) string {
	t.Helper()
	ctx := logging.WithLogger(t.Context(), logging.TestLogger(t))
	dbPath := filepath.Join(t.TempDir(), "repo-pulse.db")
	s, err := store.Open(ctx, &store.Config{DBPath: dbPath, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("seed store open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return dbPath
}

func TestControlResetPipelineCommand(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(t.Context(), logging.TestLogger(t))
	dbPath := seedDB(t)

	cases := []struct {
		name   string
		args   []string
		env    map[string]string
		expErr string
	}{
		{
			name:   "missing_arg",
			args:   []string{},
			env:    map[string]string{"DB_PATH": dbPath},
			expErr: "expected exactly one argument",
		},
		{
			name: "happy_path",
			args: []string{"repository_sync"},
			env:  map[string]string{"DB_PATH": dbPath},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var cmd ControlResetPipelineCommand
			cmd.testFlagSetOpts = []cli.Option{cli.WithLookupEnv(envconfig.MapLookuper(tc.env).Lookup)}

			err := cmd.Run(ctx, tc.args)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestControlResetEnrichmentCommand(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(t.Context(), logging.TestLogger(t))
	dbPath := seedDB(t)

	cases := []struct {
		name   string
		args   []string
		env    map[string]string
		expErr string
	}{
		{
			name:   "missing_args",
			args:   []string{"repository"},
			env:    map[string]string{"DB_PATH": dbPath},
			expErr: "expected exactly two arguments",
		},
		{
			name:   "invalid_upstream_id",
			args:   []string{"repository", "not-a-number"},
			env:    map[string]string{"DB_PATH": dbPath},
			expErr: "not a valid integer",
		},
		{
			name: "happy_path_repository",
			args: []string{"repository", "42"},
			env:  map[string]string{"DB_PATH": dbPath},
		},
		{
			name: "happy_path_contributor",
			args: []string{"contributor", "7"},
			env:  map[string]string{"DB_PATH": dbPath},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var cmd ControlResetEnrichmentCommand
			cmd.testFlagSetOpts = []cli.Option{cli.WithLookupEnv(envconfig.MapLookuper(tc.env).Lookup)}

			err := cmd.Run(ctx, tc.args)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}
